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
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/hts/sam"
)

// AcceptRead implements the read filter of spec §4.1. It is applied by
// the multi-file pileup iterator's advance step, before a read is ever
// added to a locus's active window.
func AcceptRead(samr *sam.Record, f cellpileup.Filters) bool {
	if samr.Ref == nil || samr.Ref.ID() < 0 {
		return false
	}
	if samr.Flags&sam.Unmapped != 0 {
		return false
	}
	if int(samr.MapQ) < f.MinMapQ {
		return false
	}
	flags := uint16(samr.Flags)
	if flags&f.RFlagFilter != 0 {
		return false
	}
	if flags&f.RFlagRequire != f.RFlagRequire {
		return false
	}
	if f.NoOrphan && samr.Flags&sam.Paired != 0 && samr.Flags&sam.ProperPair == 0 {
		return false
	}
	return true
}

// alignedLength sums the CIGAR operation lengths of types MATCH,
// EQUAL, and DIFF, used by the extractor's min-len filtering (spec
// §4.2). The iterator's reference-span end comes from refSpan below.
func alignedLength(cig sam.Cigar) int {
	n := 0
	for _, op := range cig {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			n += op.Len()
		}
	}
	return n
}

// refSpan sums the CIGAR operation lengths that consume reference
// bases (MATCH/EQUAL/DIFF, DELETION, SKIPPED), giving the 0-based
// exclusive end of the read's alignment on the reference.
func refSpan(start int, cig sam.Cigar) int {
	end := start
	for _, op := range cig {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion, sam.CigarSkipped:
			end += op.Len()
		}
	}
	return end
}
