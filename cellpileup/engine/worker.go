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

// processChrom drives one chromosome's worth of loci over the per-job
// recordio shard writer; runShards fans this out across workers.
package engine

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/bio-cellpileup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

func init() {
	recordiozstd.Init()
}

// ChromResult summarizes one chromosome worker's contribution to the
// merge step (spec §4.5/§4.6's per-worker retained_snps/nr_ad/nr_dp/
// nr_oth counters).
type ChromResult struct {
	Chrom        string
	RetainedSnps int
	ShardCounters
}

// processChrom is the chromosome worker of spec §4.5: for each
// (ascending) SNP locus on chrom, it advances the multi-file locus
// iterator, extracts and aggregates every covering read across all
// input files, computes per-locus statistics, and appends a ShardRow
// to w for every retained SNP. Grounded on pileup/snp/pileup.go's
// pileupMutable.processShard and markduplicates/mark_duplicates.go's
// processShard, both of which drive one worker's slice of work
// through a local accumulator and a single append-only output stream.
func processChrom(providers []bamprovider.Provider, header *sam.Header, chrom string, snps []cellpileup.Snp, cfg *cellpileup.Configuration, w *recordio.Writer) (ChromResult, error) {
	result := ChromResult{Chrom: chrom}

	loci := SortedLoci(snps, chrom)
	if len(loci) == 0 {
		return result, nil
	}

	snpByPos := make(map[int]cellpileup.Snp, len(loci))
	for _, s := range snps {
		if s.Chrom == chrom {
			snpByPos[s.Pos-1] = s
		}
	}

	li, err := NewLocusIterator(providers, header, chrom, cfg.Filters)
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := li.Close(); cerr != nil {
			log.Printf("processChrom: closing locus iterator for %s: %v", chrom, cerr)
		}
	}()

	nGroups := len(cfg.Groups)
	if cfg.SampleMode == cellpileup.BySampleID {
		nGroups = len(providers)
	}
	agg := NewAggregator(cfg)
	ls := NewLocusState(nGroups, cfg.UseUmi)

	for _, pos := range loci {
		events, err := li.Advance(pos)
		if err != nil {
			return result, cellpileup.E(cellpileup.KindFormat, "worker", chrom, pos+1, err, "")
		}

		snp := snpByPos[pos]
		refIdx, altIdx := -1, -1
		if snp.RefNT != 0 {
			refIdx = baseIndexForNT(snp.RefNT)
		}
		if snp.AltNT != 0 {
			altIdx = baseIndexForNT(snp.AltNT)
		}
		ls.Reset(refIdx, altIdx)

		for _, ev := range events {
			for _, rec := range ev.Reads {
				obs, status := Extract(rec, pos, cfg)
				if status != StatusOK {
					continue
				}
				agg.Push(ls, obs, ev.FileIndex)
			}
		}

		var cnt ShardCounters
		if ComputeStats(ls, cfg, &cnt) != OutcomeOK {
			continue
		}

		row := buildShardRow(chrom, pos, ls, cfg)
		if err := w.Append(row); err != nil {
			return result, cellpileup.E(cellpileup.KindIO, "worker", chrom, pos+1, err, "")
		}

		result.RetainedSnps++
		result.NrAd += cnt.NrAd
		result.NrDp += cnt.NrDp
		result.NrOth += cnt.NrOth
	}

	return result, nil
}

func buildShardRow(chrom string, pos int, ls *LocusState, cfg *cellpileup.Configuration) *ShardRow {
	n := len(ls.Groups)
	row := &ShardRow{
		Chrom:    chrom,
		Pos:      uint32(pos + 1),
		Ref:      ntForBaseIndex(ls.RefIdx),
		Alt:      ntForBaseIndex(ls.AltIdx),
		GroupAd:  make([]uint32, n),
		GroupDp:  make([]uint32, n),
		GroupOth: make([]uint32, n),
	}
	for i, g := range ls.Groups {
		row.GroupAd[i] = g.Ad
		row.GroupDp[i] = g.Dp
		row.GroupOth[i] = g.Oth
		if g.Dp != 0 || g.Ad != 0 || g.Oth != 0 {
			row.Ns++
		}
	}
	row.NrAd = uint32(countNonzero(row.GroupAd))
	row.NrDp = uint32(countNonzero(row.GroupDp))
	row.NrOth = uint32(countNonzero(row.GroupOth))

	if cfg.EmitGenotype {
		row.GroupGl = make([][]int, n)
		row.GroupGt = make([]string, n)
		for i, g := range ls.Groups {
			row.GroupGl[i] = g.Gl
			row.GroupGt[i] = g.Gt
		}
	}
	return row
}

func countNonzero(v []uint32) int {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return n
}
