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
	"math"

	"github.com/grailbio/bio-cellpileup/pileup"
)

// This file contains the quality->error-probability table (spec §4.4
// step 8, §9 "Genotype likelihood table") and the allele-inference
// routine (spec §4.7). The table-at-init idiom mirrors
// pileup/snp/qual.go's qualSumTable, applied to the different formula
// this engine's genotype-likelihood computation requires.

// qPmax is the Phred-quality ceiling (spec's "phred_max=45").
const qPmax = 45

// qErrFloor is the minimum error probability (spec's "err_floor=0.25").
const qErrFloor = 0.25

// errProbTable[q] = max(10^(-q/10), qErrFloor), for q in [0, qPmax].
var errProbTable [qPmax + 1]float64

func init() {
	for q := 0; q <= qPmax; q++ {
		p := math.Pow(10, -float64(q)/10)
		if p < qErrFloor {
			p = qErrFloor
		}
		errProbTable[q] = p
	}
}

// qvec computes the 4-vector of per-allele likelihood contributions
// for an observed base of quality q, where matchedBase is the base
// index (0..3) the observation actually reported. Per spec §4.4 step
// 8: clip q to [0, qPmax], p_err = max(10^(-q/10), qErrFloor), yield
// [p_err/3]*4 with the matched slot replaced by 1-p_err.
func qvec(q byte, matchedBase int) [4]float64 {
	qi := int(q)
	if qi > qPmax {
		qi = qPmax
	}
	pErr := errProbTable[qi]
	var v [4]float64
	share := pErr / 3
	for i := range v {
		v[i] = share
	}
	if matchedBase >= 0 && matchedBase < 4 {
		v[matchedBase] = 1 - pErr
	}
	return v
}

// InferAlleles returns the top-two bases by count over indices
// {0,1,2,3} (N excluded), per spec §4.7: argmax is ref, argmax over
// the remainder is alt, ties broken toward the smaller index. ok is
// false when all four counts are zero (inference fails).
func InferAlleles(bc [5]uint32) (ref, alt int, ok bool) {
	ref, alt = -1, -1
	var best, second uint32
	for i := 0; i < pileup.NBase; i++ {
		c := bc[i]
		if c > best {
			second, alt = best, ref
			best, ref = c, i
		} else if c > second {
			second, alt = c, i
		}
	}
	if ref < 0 || best == 0 {
		return -1, -1, false
	}
	if alt < 0 {
		// Only one non-zero base observed; there is no second allele to
		// report, but ref itself is well defined.
		return ref, -1, true
	}
	return ref, alt, true
}

// genotype is a pair of allele indices (a <= b) into {0,1,2,3}.
type genotype struct{ a, b int }

// genotypes3 returns the {RR, RA, AA} genotype set over (refIdx, altIdx),
// used when !double_gl.
func genotypes3(refIdx, altIdx int) []genotype {
	return []genotype{
		{refIdx, refIdx},
		{min(refIdx, altIdx), max(refIdx, altIdx)},
		{altIdx, altIdx},
	}
}

// genotypes10 returns the standard 10-genotype VCF ordering over the
// four alphabetical bases A,C,G,T (0,1,2,3), used when double_gl.
func genotypes10() []genotype {
	return []genotype{
		{0, 0}, {0, 1}, {0, 2}, {0, 3},
		{1, 1}, {1, 2}, {1, 3},
		{2, 2}, {2, 3},
		{3, 3},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// genotypeScore evaluates a genotype's likelihood given the 5x4
// quality matrix qmat (qmat[i][j] = accumulated qvec contributions
// for observed base i toward allele j), using the standard
// equal-weight heterozygote model: each observed base contributes
// qmat[i][a] (weight 1) if homozygous a==b, or 0.5*(qmat[i][a]+qmat[i][b])
// if heterozygous.
func genotypeScore(qmat [5][4]float64, g genotype) float64 {
	var score float64
	for i := 0; i < 5; i++ {
		if g.a == g.b {
			score += qmat[i][g.a]
		} else {
			score += 0.5 * (qmat[i][g.a] + qmat[i][g.b])
		}
	}
	return score
}

// genotypeLikelihoods computes the PL vector (length 3 or 10) and the
// derived GT string from the accumulated quality matrix, per spec
// §4.4 step 8. PL is Phred-scaled and normalized so its minimum entry
// is 0; GT is the genotype at that minimum, rendered "a/b" with each
// allele written as "0" (ref), "1" (alt), or "." (any other base), in
// the genotype's base-index order, or "./." on a tie.
func genotypeLikelihoods(qmat [5][4]float64, refIdx, altIdx int, doubleGl bool) (pl []int, gt string) {
	var gts []genotype
	if doubleGl {
		gts = genotypes10()
	} else {
		gts = genotypes3(refIdx, altIdx)
	}
	scores := make([]float64, len(gts))
	maxScore := 0.0
	for i, g := range gts {
		scores[i] = genotypeScore(qmat, g)
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	pl = make([]int, len(gts))
	best := -1
	bestPl := math.MaxInt32
	tie := false
	for i, s := range scores {
		var p int
		if maxScore <= 0 || s <= 0 {
			p = 99
		} else {
			p = int(math.Round(-10 * math.Log10(s/maxScore)))
		}
		pl[i] = p
		if p < bestPl {
			bestPl, best, tie = p, i, false
		} else if p == bestPl {
			tie = true
		}
	}
	if best < 0 || tie {
		return pl, "./."
	}
	g := gts[best]
	idxToAllele := func(idx int) string {
		switch idx {
		case refIdx:
			return "0"
		case altIdx:
			return "1"
		default:
			return "."
		}
	}
	a, b := idxToAllele(g.a), idxToAllele(g.b)
	return pl, a + "/" + b
}
