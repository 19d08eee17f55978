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

import "github.com/grailbio/bio-cellpileup/cellpileup"

// Outcome is the result of ComputeStats, per spec §4.4.
type Outcome int

const (
	// OutcomeOK means the SNP is retained; ls's Ad/Dp/Oth/RefIdx/AltIdx
	// and each group's Ad/Dp/Oth(/Gl/Gt) fields are populated.
	OutcomeOK Outcome = iota
	// OutcomeDrop means the SNP failed min_count, min_maf, or allele
	// inference and should not be emitted.
	OutcomeDrop
)

// ShardCounters accumulates the worker-local nr_ad/nr_dp/nr_oth
// counters of spec §3/§4.4 step 7.
type ShardCounters struct {
	NrAd, NrDp, NrOth int
}

// ComputeStats runs the SNP statistics kernel (spec §4.4 steps 1-8)
// over a LocusState that has already had every observation for the
// locus pushed into it. cnt is incremented in place per step 7.
func ComputeStats(ls *LocusState, cfg *cellpileup.Configuration, cnt *ShardCounters) Outcome {
	// Step 1: sum per-group bc into global bc/tc.
	for _, g := range ls.Groups {
		for i := 0; i < 5; i++ {
			ls.Bc[i] += g.Bc[i]
			g.Tc += g.Bc[i]
		}
		ls.Tc += g.Tc
	}

	// Step 2.
	if int(ls.Tc) < cfg.Thresholds.MinCount {
		return OutcomeDrop
	}

	// Step 3: infer (inf_rid, inf_aid) from global bc over {0..3}.
	infRid, infAid, ok := InferAlleles(ls.Bc)
	ls.InfRid, ls.InfAid = infRid, infAid
	if !ok {
		return OutcomeDrop
	}

	// Step 4: MAF filter. When infAid < 0 (only one base observed),
	// there is no minor allele at all, i.e. bc[inf_aid] is effectively
	// 0; this only passes when min_maf == 0.
	var altCount uint32
	if infAid >= 0 {
		altCount = ls.Bc[infAid]
	}
	if float64(altCount) < float64(ls.Tc)*cfg.Thresholds.MinMaf {
		return OutcomeDrop
	}

	// Step 5: adopt inferred alleles when not supplied by the SNP list.
	if ls.RefIdx < 0 || ls.AltIdx < 0 {
		if infAid < 0 {
			return OutcomeDrop
		}
		ls.RefIdx, ls.AltIdx = infRid, infAid
	}

	// Step 6: global ad/dp/oth.
	ls.Ad = ls.Bc[ls.AltIdx]
	ls.Dp = ls.Bc[ls.RefIdx] + ls.Ad
	ls.Oth = ls.Tc - ls.Dp

	// Step 7: per-group ad/dp/oth, with shard-counter increments.
	for _, g := range ls.Groups {
		g.Ad = g.Bc[ls.AltIdx]
		g.Dp = g.Bc[ls.RefIdx] + g.Ad
		g.Oth = g.Tc - g.Dp
		if g.Ad != 0 {
			cnt.NrAd++
		}
		if g.Dp != 0 {
			cnt.NrDp++
		}
		if g.Oth != 0 {
			cnt.NrOth++
		}
	}

	// Step 8: optional per-group genotype likelihoods.
	if cfg.EmitGenotype {
		for _, g := range ls.Groups {
			var qmat [5][4]float64
			for i := 0; i < 5; i++ {
				for _, q := range g.Qu[i] {
					v := qvec(q, i)
					for j := 0; j < 4; j++ {
						qmat[i][j] += v[j]
					}
				}
			}
			pl, gt := genotypeLikelihoods(qmat, ls.RefIdx, ls.AltIdx, cfg.DoubleGl)
			g.Gl = pl
			g.Gt = gt
		}
	}

	return OutcomeOK
}
