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
package main

/*
cellpileup computes per-cell/per-sample sparse allele-count matrices
(AD/DP/OTH) and a variant file from one or more aligned sequencing
read files at a list of known SNP positions.
*/

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/bio-cellpileup/cellpileup/engine"
	"github.com/grailbio/bio-cellpileup/umi"
)

var (
	snpList       = flag.String("snp-list", "", "Path to a TSV of known SNP positions (chrom, pos, ref, alt); required")
	groupList     = flag.String("barcodes", "", "Path to a newline-delimited list of cell barcodes to aggregate by; required unless -per-sample")
	perSample     = flag.Bool("per-sample", false, "Aggregate per input file instead of per cell barcode")
	cellTag       = flag.String("cell-tag", "CB", "Two-letter aux tag holding the cell barcode")
	umiTag        = flag.String("umi-tag", "UB", "Two-letter aux tag holding the UMI")
	useUmi        = flag.Bool("dedup-umi", false, "Deduplicate observations by (group, UMI) within each locus")
	umiWhitelist  = flag.String("umi-whitelist", "", "Optional path to a known-UMI whitelist used to correct sequencing errors in the UMI tag")
	region        = flag.String("region", "", "Restrict pileup computation to the specified region (contig, or contig:start-end)")
	minMapq       = flag.Int("min-mapq", 0, "Reads with MAPQ below this value are skipped")
	minLen        = flag.Int("min-len", 0, "Reads with aligned length below this value are skipped")
	flagFilter    = flag.Int("flag-filter", 0xf00, "Reads with a FLAG bit intersecting this value are skipped")
	flagRequire   = flag.Int("flag-require", 0, "Reads must have every FLAG bit in this value set")
	noOrphan      = flag.Bool("no-orphan", false, "Skip paired reads that aren't part of a proper pair")
	maxDepth      = flag.Int("max-depth", 0, "Cap on reads held per locus per input file; 0 = unlimited")
	minCount      = flag.Int("min-count", 0, "Drop SNPs with total depth below this value")
	minMaf        = flag.Float64("min-maf", 0, "Drop SNPs whose inferred minor-allele count is below min-maf * total depth")
	emitGenotype  = flag.Bool("genotype", false, "Emit per-group genotype likelihoods and a called GT field")
	doubleGl      = flag.Bool("double-gl", false, "Use the 10-genotype (diploid, unphased, any pair of A/C/G/T) likelihood model instead of the 3-genotype RR/RA/AA model")
	outPrefix     = flag.String("out", "cellpileup", "Output path prefix")
	parallelism   = flag.Int("parallelism", 0, "Maximum number of concurrent chromosome workers; 0 = runtime.NumCPU()")
	tempDir       = flag.String("temp-dir", "", "Directory to write temporary shard files to (default os.TempDir())")
	bgzipVariants = flag.Bool("bgzip-variants", false, "Bgzip-compress the variant TSV output")
	gzipMatrices  = flag.Bool("gzip-matrices", false, "Gzip-compress the Matrix Market outputs")
)

func cellpileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath [bampath...]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = cellpileupUsage
	shutdown := grail.Init()
	defer shutdown()

	allArgs := flag.Args()
	nPositionalArgs := flag.NArg()
	positionalArgs := allArgs[len(allArgs)-nPositionalArgs:]
	if nPositionalArgs < 1 {
		log.Fatalf("Missing positional arguments (at least one bampath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	if *snpList == "" {
		log.Fatalf("-snp-list is required")
	}
	if !*perSample && *groupList == "" {
		log.Fatalf("-barcodes is required unless -per-sample is set")
	}

	ctx := vcontext.Background()

	snps, err := cellpileup.LoadSnps(ctx, *snpList)
	if err != nil {
		log.Panicf("%v", err)
	}

	var groups []string
	sampleMode := cellpileup.BySampleID
	if !*perSample {
		sampleMode = cellpileup.ByBarcode
		if groups, err = cellpileup.LoadGroups(ctx, *groupList); err != nil {
			log.Panicf("%v", err)
		}
	}

	var chroms []string
	if *region != "" {
		allChroms := uniqueChroms(snps)
		if chroms, err = cellpileup.RestrictChroms(*region, allChroms); err != nil {
			log.Panicf("%v", err)
		}
	}

	var umiCorrector *umi.SnapCorrector
	if *umiWhitelist != "" {
		if umiCorrector, err = cellpileup.LoadUmiWhitelist(ctx, *umiWhitelist); err != nil {
			log.Panicf("%v", err)
		}
	}

	nWorkers := *parallelism
	if nWorkers <= 0 {
		nWorkers = runtime.NumCPU()
	}

	cfg := &cellpileup.Configuration{
		Inputs:       positionalArgs,
		SampleMode:   sampleMode,
		CellTag:      *cellTag,
		Groups:       groups,
		Snps:         snps,
		Chroms:       chroms,
		UseUmi:       *useUmi,
		UmiTag:       *umiTag,
		UmiCorrector: umiCorrector,
		Filters: cellpileup.Filters{
			MinMapQ:      *minMapq,
			MinLen:       *minLen,
			RFlagFilter:  uint16(*flagFilter),
			RFlagRequire: uint16(*flagRequire),
			NoOrphan:     *noOrphan,
			PlpMaxDepth:  *maxDepth,
		},
		Thresholds: cellpileup.Thresholds{
			MinCount: *minCount,
			MinMaf:   *minMaf,
		},
		EmitGenotype:  *emitGenotype,
		DoubleGl:      *doubleGl,
		NWorkers:      nWorkers,
		TempDir:       *tempDir,
		BgzipVariants: *bgzipVariants,
		GzipMatrices:  *gzipMatrices,
	}

	if err := engine.Run(ctx, cfg, *outPrefix); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}

func uniqueChroms(snps []cellpileup.Snp) []string {
	seen := make(map[string]bool)
	var chroms []string
	for _, s := range snps {
		if !seen[s.Chrom] {
			seen[s.Chrom] = true
			chroms = append(chroms, s.Chrom)
		}
	}
	return chroms
}
