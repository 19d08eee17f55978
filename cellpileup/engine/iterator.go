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
	"sort"

	"github.com/grailbio/bio-cellpileup/cellpileup"
	gbam "github.com/grailbio/bio-cellpileup/encoding/bam"
	"github.com/grailbio/bio-cellpileup/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// LocusEvent is one file's contribution to a locus yielded by
// LocusIterator: the reads from that file whose alignment currently
// covers the locus and which passed the read filter (spec §4.1).
type LocusEvent struct {
	FileIndex int
	Reads     []*sam.Record
}

// windowEntry is one read held in a per-file active window, together
// with its precomputed reference-span end (spec §4.5's "construct a
// region iterator... for each yielded (pos, per_file_events)").
type windowEntry struct {
	rec    *sam.Record
	mapEnd int
}

// fileWindow tracks one input file's lookahead state while sweeping a
// chromosome's loci in ascending position order: an "active window" of
// reads whose span still covers the current locus, plus a one-record
// buffer of the next not-yet-admitted read.
type fileWindow struct {
	iter   bamprovider.Iterator
	done   bool
	buf    *sam.Record // next unconsumed record, or nil at EOF
	window []windowEntry
}

// LocusIterator implements the "multi-file pileup iterator" of spec §1
// /§4/§6: a k-way merge over one input file per provider, advanced
// locus by locus over a pre-sorted position list within one
// chromosome, yielding the filtered reads covering each locus. There is
// no pre-built multi-file pileup constructor in the dependency pack
// (see SPEC_FULL.md's EXTERNAL INTERFACES section), so this is built
// directly on bamprovider.Provider's single-file Iterator, grounded on
// pileup/snp/pileup.go's CIGAR-derived mapEnd computation.
type LocusIterator struct {
	windows  []*fileWindow
	filters  cellpileup.Filters
	maxDepth int
}

// NewLocusIterator opens one whole-chromosome iterator per provider
// and prepares the per-file lookahead state.
func NewLocusIterator(providers []bamprovider.Provider, header *sam.Header, chrom string, filters cellpileup.Filters) (*LocusIterator, error) {
	ref, err := findReference(header, chrom)
	if err != nil {
		return nil, err
	}
	shard := gbam.Shard{StartRef: ref, EndRef: ref, Start: 0, End: ref.Len()}

	li := &LocusIterator{
		windows:  make([]*fileWindow, len(providers)),
		filters:  filters,
		maxDepth: filters.MaxDepth(),
	}
	for i, p := range providers {
		li.windows[i] = &fileWindow{iter: p.NewIterator(shard)}
	}
	return li, nil
}

func findReference(header *sam.Header, chrom string) (*sam.Reference, error) {
	for _, r := range header.Refs() {
		if r.Name() == chrom {
			return r, nil
		}
	}
	return nil, cellpileup.E(cellpileup.KindConfig, "iterator", chrom, 0, nil, "chromosome not found in header")
}

// Close releases all per-file iterators.
func (li *LocusIterator) Close() error {
	var firstErr error
	for _, w := range li.windows {
		for _, e := range w.window {
			sam.PutInFreePool(e.rec)
		}
		w.window = nil
		if err := w.iter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// admit pulls buffered/new records into the file's window until the
// buffered record's start position is past pos, applying the read
// filter (spec §4.1) to each candidate and capping the window at
// maxDepth (spec's plp_max_depth / set_max_depth).
func (w *fileWindow) admit(pos int, filters cellpileup.Filters, maxDepth int) error {
	// Drop window entries that no longer cover pos.
	kept := w.window[:0]
	for _, e := range w.window {
		if e.mapEnd > pos {
			kept = append(kept, e)
		} else {
			sam.PutInFreePool(e.rec)
		}
	}
	w.window = kept

	for {
		if w.buf == nil && !w.done {
			if w.iter.Scan() {
				w.buf = w.iter.Record()
			} else {
				w.done = true
				if err := w.iter.Err(); err != nil {
					return err
				}
			}
		}
		if w.buf == nil {
			return nil
		}
		if w.buf.Pos > pos {
			return nil
		}
		rec := w.buf
		w.buf = nil
		if !AcceptRead(rec, filters) {
			sam.PutInFreePool(rec)
			continue
		}
		end := refSpan(rec.Pos, rec.Cigar)
		if end <= pos {
			// Finished covering positions before pos; nothing further to
			// do with this read (it never reaches loci at or after pos).
			sam.PutInFreePool(rec)
			continue
		}
		if len(w.window) < maxDepth {
			w.window = append(w.window, windowEntry{rec: rec, mapEnd: end})
		} else {
			sam.PutInFreePool(rec)
		}
	}
}

// Advance moves every file's window to cover 0-based position pos
// (loci must be visited in ascending order) and returns the resulting
// per-file events.
func (li *LocusIterator) Advance(pos int) ([]LocusEvent, error) {
	events := make([]LocusEvent, len(li.windows))
	for i, w := range li.windows {
		if err := w.admit(pos, li.filters, li.maxDepth); err != nil {
			return nil, err
		}
		events[i].FileIndex = i
		if len(w.window) > 0 {
			reads := make([]*sam.Record, len(w.window))
			for j, e := range w.window {
				reads[j] = e.rec
			}
			events[i].Reads = reads
		}
	}
	return events, nil
}

// SortedLoci returns the 0-based positions (deduplicated, ascending)
// of the given 1-based SNP positions restricted to chrom.
func SortedLoci(snps []cellpileup.Snp, chrom string) []int {
	seen := make(map[int]bool)
	var loci []int
	for _, s := range snps {
		if s.Chrom != chrom {
			continue
		}
		p := s.Pos - 1
		if !seen[p] {
			seen[p] = true
			loci = append(loci, p)
		}
	}
	sort.Ints(loci)
	return loci
}
