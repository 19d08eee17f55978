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
package engine

import (
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/bio-cellpileup/biosimd"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	gbam "github.com/grailbio/bio-cellpileup/encoding/bam"
	"github.com/grailbio/bio-cellpileup/pileup"
	"github.com/grailbio/hts/sam"
)

// ExtractStatus is the outcome of Extract, per spec §4.2.
type ExtractStatus int

const (
	// StatusOK means obs is populated and should be pushed.
	StatusOK ExtractStatus = iota
	// StatusSkipFilter means the event overlapped a deletion/refskip,
	// or the read's aligned length was below min_len.
	StatusSkipFilter
	// StatusSkipFormat means a required auxiliary tag (cell_tag in
	// barcode mode, or umi_tag when use_umi) was absent.
	StatusSkipFormat
)

// tag builds a two-letter sam.Tag from a configured tag name. Mirrors
// markduplicates/helpers.go's hardcoded {rg,di,dl,...}Tag declarations,
// generalized to names supplied at runtime by Configuration.
func tag(name string) sam.Tag {
	var t sam.Tag
	if len(name) > 0 {
		t[0] = name[0]
	}
	if len(name) > 1 {
		t[1] = name[1]
	}
	return t
}

// auxString looks up a string-valued auxiliary tag on samr, mirroring
// markduplicates/helpers.go's getReadGroup.
func auxString(samr *sam.Record, t sam.Tag) (string, bool) {
	aux := samr.AuxFields.Get(t)
	if aux == nil {
		return "", false
	}
	if s, ok := aux.Value().(string); ok {
		return s, true
	}
	return "", false
}

// unpackedSeq returns the 1-byte-per-base (seq8, the BAM 4-bit codes
// A=1,C=2,G=4,T=8,N=15) form of samr.Seq, unpacking the BAM 4-bit doublets via biosimd, the same
// idiom pileup/snp/firstread.go's convertSamr uses.
func unpackedSeq(samr *sam.Record) []byte {
	lSeq := len(samr.Qual)
	seq8 := make([]byte, 0, lSeq)
	gunsafe.ExtendBytes(&seq8, lSeq)
	if lSeq != 0 {
		biosimd.UnpackSeq(seq8, gbam.UnsafeDoubletsToBytes(samr.Seq.Seq))
	}
	return seq8
}

// Extract converts the pileup event at 0-based reference position pos
// on samr into an Observation, per spec §4.2. It performs a
// single-position CIGAR walk (a narrowed form of
// pileup/snp/pileup.go's alignRelevantBases, which walks a whole BED
// interval union instead of one point).
func Extract(samr *sam.Record, pos int, cfg *cellpileup.Configuration) (Observation, ExtractStatus) {
	var obs Observation

	if cfg.Filters.MinLen > 0 && alignedLength(samr.Cigar) < cfg.Filters.MinLen {
		return obs, StatusSkipFilter
	}

	if cfg.SampleMode == cellpileup.ByBarcode {
		cellTag, ok := auxString(samr, tag(cfg.CellTag))
		if !ok {
			return obs, StatusSkipFormat
		}
		obs.CellTag = cellTag
	}
	if cfg.UseUmi {
		umiTag, ok := auxString(samr, tag(cfg.UmiTag))
		if !ok {
			return obs, StatusSkipFormat
		}
		if cfg.UmiCorrector != nil {
			umiTag, _, _ = cfg.UmiCorrector.CorrectUMI(umiTag)
		}
		obs.UmiTag = umiTag
	}

	posInRef := samr.Pos
	posInRead := 0
	found := false
	isDel, isRefskip := false, false
	for _, co := range samr.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if pos >= posInRef && pos < posInRef+cLen {
				posInRead += pos - posInRef
				found = true
			} else {
				posInRead += cLen
			}
			posInRef += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			if pos >= posInRef && pos < posInRef+cLen {
				isDel = co.Type() == sam.CigarDeletion
				isRefskip = co.Type() == sam.CigarSkipped
				found = true
			}
			posInRef += cLen
		case sam.CigarHardClipped:
			// consumes neither.
		}
		if found {
			break
		}
	}

	if isDel || isRefskip {
		return obs, StatusSkipFilter
	}

	if !found || posInRead >= len(samr.Qual) {
		// Query position outside the read's sequence: N, q=0, per spec
		// §4.2.
		obs.Base = int(pileup.BaseX)
		obs.Qual = 0
		return obs, StatusOK
	}

	seq8 := unpackedSeq(samr)
	obs.Base = int(pileup.Seq8ToEnumTable[seq8[posInRead]])
	obs.Qual = samr.Qual[posInRead]
	return obs, StatusOK
}
