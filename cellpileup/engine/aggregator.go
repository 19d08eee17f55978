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

// PushResult is the outcome of Aggregator.Push, per spec §4.3.
type PushResult int

const (
	// PushInserted means the observation was counted.
	PushInserted PushResult = iota
	// PushDuplicateUMI means the observation was silently dropped
	// because (group, umi) was already seen at this locus.
	PushDuplicateUMI
	// PushNotInSet means the observation's cell tag did not match any
	// configured group, and was silently skipped (not counted).
	PushNotInSet
)

// Aggregator resolves group keys and pushes observations into a
// LocusState, implementing spec §4.3. It is built once per worker and
// reused across loci (the groupIndex map is immutable for the
// worker's lifetime; only the LocusState it writes into is reset per
// locus).
type Aggregator struct {
	cfg        *cellpileup.Configuration
	groupIndex map[string]int // barcode mode only
}

// NewAggregator builds the group-name index (barcode mode) from
// cfg.Groups. In sample-id mode, group membership is the input file
// index instead, so no lookup table is needed.
func NewAggregator(cfg *cellpileup.Configuration) *Aggregator {
	a := &Aggregator{cfg: cfg}
	if cfg.SampleMode == cellpileup.ByBarcode {
		a.groupIndex = make(map[string]int, len(cfg.Groups))
		for i, g := range cfg.Groups {
			a.groupIndex[g] = i
		}
	}
	return a
}

// Push implements spec §4.3's push(observation, file_index) operation.
func (a *Aggregator) Push(ls *LocusState, obs Observation, fileIndex int) PushResult {
	var groupIdx int
	if a.cfg.SampleMode == cellpileup.ByBarcode {
		idx, ok := a.groupIndex[obs.CellTag]
		if !ok {
			return PushNotInSet
		}
		groupIdx = idx
	} else {
		groupIdx = fileIndex
	}

	g := ls.Groups[groupIdx]
	if a.cfg.UseUmi {
		if _, seen := g.seenUmis[obs.UmiTag]; seen {
			return PushDuplicateUMI
		}
		g.seenUmis[obs.UmiTag] = struct{}{}
	}

	g.Bc[obs.Base]++
	g.Qu[obs.Base] = append(g.Qu[obs.Base], obs.Qual)
	return PushInserted
}
