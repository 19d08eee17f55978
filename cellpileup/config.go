// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cellpileup holds the configuration, error, and file-loading
// types shared between the pileup engine (cellpileup/engine) and the
// command-line front end (cmd/cellpileup).
package cellpileup

import (
	"math"

	"github.com/grailbio/bio-cellpileup/umi"
)

// SampleMode selects how a read's group membership is determined.
type SampleMode int

const (
	// ByBarcode determines group membership from a per-read auxiliary
	// tag (CellTag), so all inputs are normally a single file.
	ByBarcode SampleMode = iota
	// BySampleID determines group membership from the index of the
	// input file the read came from.
	BySampleID
)

// Snp is one requested locus. RefNT/AltNT are 0 when unset, in which
// case the engine infers them from observed base composition.
type Snp struct {
	Chrom string
	// Pos is 1-based, matching the conventional VCF/BED-adjacent
	// text representation used by SNP list files.
	Pos    int
	RefNT  byte // 'A','C','G','T', or 0 if unset
	AltNT  byte
}

// Filters holds the read- and locus-level filter thresholds of spec §3.
type Filters struct {
	MinMapQ      int
	MinLen       int // minimum aligned-match length (MATCH+EQUAL+DIFF)
	RFlagFilter  uint16
	RFlagRequire uint16
	NoOrphan     bool
	// PlpMaxDepth is the per-locus read retention cap. <= 0 means
	// unlimited.
	PlpMaxDepth int
}

// MaxDepth returns f.PlpMaxDepth, or a large sentinel when the
// configured value means "unlimited" per the Open Question resolution
// recorded in DESIGN.md.
func (f Filters) MaxDepth() int {
	if f.PlpMaxDepth <= 0 {
		return math.MaxInt32
	}
	return f.PlpMaxDepth
}

// Thresholds holds the SNP-retention thresholds of spec §3.
type Thresholds struct {
	MinCount int
	MinMaf   float64
}

// Configuration is the immutable, shared configuration passed into the
// engine. It corresponds directly to spec.md §3's "Configuration
// (immutable, shared)".
type Configuration struct {
	Inputs     []string
	SampleMode SampleMode
	CellTag    string // two-letter aux tag name, barcode mode
	Groups     []string
	Snps       []Snp
	Chroms     []string
	UseUmi     bool
	UmiTag     string // two-letter aux tag name
	// UmiCorrector, when non-nil, snap-corrects each read's UMI tag
	// against a known-UMI whitelist before dedup (spec §4.2's
	// UMI-whitelist-correction enrichment over the distilled spec).
	UmiCorrector *umi.SnapCorrector
	Filters      Filters
	Thresholds   Thresholds
	EmitGenotype bool
	DoubleGl     bool
	NWorkers     int

	// TempDir is where per-worker shard files are created; "" means
	// os.TempDir().
	TempDir string

	// BgzipVariants bgzip-compresses the variant TSV output
	// (outPrefix+".variants.tsv.gz" instead of ".variants.tsv"), the
	// same optional compressed-output path
	// convertPileupRowsToTSV's bgzip parameter gives the teacher's TSV
	// output.
	BgzipVariants bool

	// GzipMatrices gzip-compresses the three Matrix Market outputs
	// (outPrefix+".{ad,dp,oth}.mtx.gz"). Matrix Market files have no
	// block structure to preserve, so a plain gzip stream serves this
	// case rather than bgzf's seekable-block format.
	GzipMatrices bool
}
