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

// Package engine implements the pileup core: the read filter, per-read
// extractor, sample-group aggregator, multi-file pileup iterator, SNP
// statistics kernel, chromosome worker, and shard manager. It is the
// ~1,400-line engine spec.md describes; cellpileup (the parent
// package) and cmd/cellpileup are the ambient configuration/CLI layer
// around it.
package engine

import "github.com/grailbio/bio-cellpileup/pileup"

// Observation is one read's contribution to a locus, as produced by
// the per-read pileup extractor (spec §4.2).
type Observation struct {
	Base    int // 0..4, pileup.BaseA..pileup.BaseX
	Qual    byte
	CellTag string // only populated in barcode mode
	UmiTag  string // only populated when UseUmi
}

// GroupState is the per-group aggregation state of spec §3. It is
// allocated once per worker (sized by len(groups)) and reset between
// SNPs; the UMI dedup set and quality lists are cleared, not
// reallocated, on reset (per spec's Lifecycles paragraph).
type GroupState struct {
	Bc       [5]uint32
	Qu       [5][]byte
	Tc       uint32
	Ad, Dp, Oth uint32
	Gl       []int
	Gt       string

	seenUmis map[string]struct{}
}

func newGroupState(useUmi bool) *GroupState {
	g := &GroupState{}
	if useUmi {
		g.seenUmis = make(map[string]struct{})
	}
	return g
}

func (g *GroupState) reset() {
	g.Bc = [5]uint32{}
	for i := range g.Qu {
		g.Qu[i] = g.Qu[i][:0]
	}
	g.Tc = 0
	g.Ad, g.Dp, g.Oth = 0, 0, 0
	g.Gl = nil
	g.Gt = ""
	for k := range g.seenUmis {
		delete(g.seenUmis, k)
	}
}

// LocusState is the complete per-locus aggregation state for a single
// worker, reset at the start of each locus (spec §3 "Per-SNP
// aggregation state").
type LocusState struct {
	Groups []*GroupState

	Bc [5]uint32
	Tc uint32

	RefIdx, AltIdx int // -1 when undetermined
	InfRid, InfAid int

	Ad, Dp, Oth uint32
}

// NewLocusState allocates aggregation state for nGroups groups. It is
// allocated once per worker per spec §3's Lifecycles paragraph.
func NewLocusState(nGroups int, useUmi bool) *LocusState {
	ls := &LocusState{Groups: make([]*GroupState, nGroups)}
	for i := range ls.Groups {
		ls.Groups[i] = newGroupState(useUmi)
	}
	return ls
}

// Reset clears the locus state for reuse at the next SNP, per spec's
// "reset per SNP" directive, and seeds RefIdx/AltIdx from an explicit
// SNP-list entry when given (ref/alt known) or -1 (to be inferred).
func (ls *LocusState) Reset(refIdx, altIdx int) {
	for _, g := range ls.Groups {
		g.reset()
	}
	ls.Bc = [5]uint32{}
	ls.Tc = 0
	ls.RefIdx, ls.AltIdx = refIdx, altIdx
	ls.InfRid, ls.InfAid = -1, -1
	ls.Ad, ls.Dp, ls.Oth = 0, 0, 0
}

// baseIndexForNT maps a 'A'/'C'/'G'/'T' byte to its 0..3 index, or -1
// if the byte isn't one of those four letters.
func baseIndexForNT(nt byte) int {
	switch nt {
	case 'A':
		return int(pileup.BaseA)
	case 'C':
		return int(pileup.BaseC)
	case 'G':
		return int(pileup.BaseG)
	case 'T':
		return int(pileup.BaseT)
	default:
		return -1
	}
}

// ntForBaseIndex is the inverse of baseIndexForNT, used when rendering
// inferred/explicit ref & alt characters into the variant shard.
func ntForBaseIndex(idx int) byte {
	if idx < 0 || idx >= len(pileup.EnumToASCIITable) {
		return 'N'
	}
	return pileup.EnumToASCIITable[idx]
}
