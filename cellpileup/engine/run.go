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
	"context"
	"os"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/bio-cellpileup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// Run is the top-level entry point of spec §2/§4, modeled on
// pileup/snp/pileup.go's Pileup: it opens one bamprovider.Provider per
// configured input, validates that every input shares a consistent
// header (this module's resolution of the spec's Open Question on
// multi-file header consistency: reference names and lengths must
// agree across all inputs, other header lines are not compared), then
// dispatches the chromosome sweep to the shard manager and merges the
// results into outPrefix's output files.
func Run(ctx context.Context, cfg *cellpileup.Configuration, outPrefix string) (err error) {
	if len(cfg.Inputs) == 0 {
		return cellpileup.E(cellpileup.KindConfig, "run", "", 0, nil, "no input files configured")
	}
	if cfg.SampleMode == cellpileup.ByBarcode && len(cfg.Groups) == 0 {
		return cellpileup.E(cellpileup.KindConfig, "run", "", 0, nil, "barcode mode requires a nonempty group list")
	}

	providers := make([]bamprovider.Provider, len(cfg.Inputs))
	defer func() {
		for _, p := range providers {
			if p != nil {
				if e := p.Close(); e != nil && err == nil {
					err = e
				}
			}
		}
	}()
	for i, path := range cfg.Inputs {
		providers[i] = bamprovider.NewProvider(path, bamprovider.ProviderOpts{})
	}

	var header *sam.Header
	for i, p := range providers {
		h, e := p.GetHeader()
		if e != nil {
			return cellpileup.E(cellpileup.KindFormat, "run", "", 0, e, "reading header of "+cfg.Inputs[i])
		}
		if i == 0 {
			header = h
			continue
		}
		if e := checkHeaderConsistency(header, h); e != nil {
			return cellpileup.E(cellpileup.KindConfig, "run", "", 0, e, "header mismatch in "+cfg.Inputs[i])
		}
	}

	chroms := cfg.Chroms
	if len(chroms) == 0 {
		seen := make(map[string]bool)
		for _, s := range cfg.Snps {
			if !seen[s.Chrom] {
				seen[s.Chrom] = true
				chroms = append(chroms, s.Chrom)
			}
		}
		sort.Strings(chroms)
	}

	if cfg.TempDir != "" {
		if err = os.MkdirAll(cfg.TempDir, 0755); err != nil {
			return cellpileup.E(cellpileup.KindIO, "run", "", 0, err, "creating temp dir")
		}
	}

	shardFiles, results, err := runShards(providers, header, chroms, cfg.Snps, cfg)
	if err != nil {
		return err
	}

	total := ChromResult{}
	for _, r := range results {
		total.RetainedSnps += r.RetainedSnps
		total.NrAd += r.NrAd
		total.NrDp += r.NrDp
		total.NrOth += r.NrOth
		log.Printf("cellpileup: %s: %d SNPs retained", r.Chrom, r.RetainedSnps)
	}
	log.Printf("cellpileup: %d SNPs retained total", total.RetainedSnps)

	return mergeShards(ctx, shardFiles, outPrefix, cfg)
}

// checkHeaderConsistency requires a and b to list the same references,
// with the same names and lengths, in the same order. Other header
// lines are not compared, since BAM/CRAM headers legitimately vary in
// program-group and read-group lines across files produced by
// different pipeline runs.
func checkHeaderConsistency(a, b *sam.Header) error {
	aRefs, bRefs := a.Refs(), b.Refs()
	if len(aRefs) != len(bRefs) {
		return cellpileup.E(cellpileup.KindFormat, "run", "", 0, nil, "reference count mismatch across input files")
	}
	for i, r := range bRefs {
		if aRefs[i].Name() != r.Name() || aRefs[i].Len() != r.Len() {
			return cellpileup.E(cellpileup.KindFormat, "run", r.Name(), 0, nil, "reference name/length mismatch across input files")
		}
	}
	return nil
}
