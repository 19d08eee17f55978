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
	"io/ioutil"
	"os"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/bio-cellpileup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// runShards is the shard manager of spec §4.6: it partitions the
// chromosome list into at most nWorkers contiguous jobs, runs one
// chromosome worker goroutine per job (each writing its own temporary
// recordio shard file), waits for them all via traverse.Each (which
// also drains the remaining jobs on a mid-run error, per spec §5), and
// returns the still-open shard files plus each chromosome's summary
// for the merge step to consume. Grounded on pileup/snp/pileup.go's
// pileupSNPMain, the closest domain precedent for "N temp files, one
// traverse.Each job per contiguous chromosome slice".
func runShards(providers []bamprovider.Provider, header *sam.Header, chroms []string, snps []cellpileup.Snp, cfg *cellpileup.Configuration) (shardFiles []*os.File, results []ChromResult, err error) {
	nJobs := cfg.NWorkers
	if nJobs <= 0 {
		nJobs = 1
	}
	if nJobs > len(chroms) {
		nJobs = len(chroms)
	}
	if nJobs == 0 {
		return nil, nil, nil
	}

	shardFiles = make([]*os.File, nJobs)
	defer func() {
		if err != nil {
			for _, f := range shardFiles {
				if f != nil {
					f.Close()
					os.Remove(f.Name())
				}
			}
		}
	}()
	for i := range shardFiles {
		f, e := ioutil.TempFile(cfg.TempDir, "cellpileup_"+strconv.Itoa(i)+"_*.rio")
		if e != nil {
			return nil, nil, cellpileup.E(cellpileup.KindIO, "shard", "", 0, e, "creating temp shard file")
		}
		shardFiles[i] = f
	}

	jobResults := make([][]ChromResult, nJobs)
	log.Printf("cellpileup: starting %d chromosome workers over %d chromosomes", nJobs, len(chroms))
	err = traverse.Each(nJobs, func(jobIdx int) error {
		startIdx := (jobIdx * len(chroms)) / nJobs
		endIdx := ((jobIdx + 1) * len(chroms)) / nJobs
		w := recordio.NewWriter(shardFiles[jobIdx], recordio.WriterOpts{
			Marshal:      MarshalShardRow,
			Transformers: []string{"zstd 1"},
		})
		for _, chrom := range chroms[startIdx:endIdx] {
			res, e := processChrom(providers, header, chrom, snps, cfg, w)
			if e != nil {
				return e
			}
			jobResults[jobIdx] = append(jobResults[jobIdx], res)
		}
		return w.Finish()
	})
	if err != nil {
		return nil, nil, err
	}
	for _, rs := range jobResults {
		results = append(results, rs...)
	}
	log.Printf("cellpileup: chromosome workers complete")
	return shardFiles, results, nil
}
