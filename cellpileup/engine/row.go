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

import "encoding/binary"

// ShardRow is the per-retained-SNP record a chromosome worker appends to
// its own temporary recordio file (spec §4.6 "W shard files"). The
// shard manager reads these back in shard order and renumbers them
// into the final 1-based matrix row index as it goes, the same
// read-then-renumber idiom pileup/snp/output.go uses for PileupRow.
type ShardRow struct {
	Chrom string
	Pos   uint32 // 1-based
	Ref   byte
	Alt   byte

	Ns              uint32
	NrAd, NrDp, NrOth uint32

	// GroupAd/Dp/Oth are dense, one entry per configured group; zero
	// entries are skipped when the shard manager emits Matrix Market
	// rows.
	GroupAd, GroupDp, GroupOth []uint32

	// GroupGl/GroupGt are only populated when EmitGenotype is set.
	// GroupGl[i] is either empty (no GL for that group) or a
	// 3- or 10-entry PL vector.
	GroupGl [][]int
	GroupGt []string
}

func putUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func putVarint(dst []byte, v int64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// MarshalShardRow implements recordio.WriterOpts.Marshal for ShardRow.
func MarshalShardRow(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*ShardRow)
	t := scratch[:0]
	t = putUvarint(t, uint64(len(r.Chrom)))
	t = append(t, r.Chrom...)
	t = putUvarint(t, uint64(r.Pos))
	t = append(t, r.Ref, r.Alt)
	t = putUvarint(t, uint64(r.Ns))
	t = putUvarint(t, uint64(r.NrAd))
	t = putUvarint(t, uint64(r.NrDp))
	t = putUvarint(t, uint64(r.NrOth))

	t = putUvarint(t, uint64(len(r.GroupAd)))
	for i := range r.GroupAd {
		t = putUvarint(t, uint64(r.GroupAd[i]))
		t = putUvarint(t, uint64(r.GroupDp[i]))
		t = putUvarint(t, uint64(r.GroupOth[i]))
	}

	if len(r.GroupGl) == 0 {
		t = append(t, 0)
	} else {
		t = append(t, 1)
		t = putUvarint(t, uint64(len(r.GroupGl)))
		for i := range r.GroupGl {
			t = putUvarint(t, uint64(len(r.GroupGl[i])))
			for _, v := range r.GroupGl[i] {
				t = putVarint(t, int64(v))
			}
			t = putUvarint(t, uint64(len(r.GroupGt[i])))
			t = append(t, r.GroupGt[i]...)
		}
	}
	return t, nil
}

type byteReader struct {
	b []byte
}

func (r *byteReader) uvarint() uint64 {
	v, n := binary.Uvarint(r.b)
	r.b = r.b[n:]
	return v
}

func (r *byteReader) varint() int64 {
	v, n := binary.Varint(r.b)
	r.b = r.b[n:]
	return v
}

func (r *byteReader) bytes(n int) []byte {
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

// UnmarshalShardRow implements recordio.ScannerOpts.Unmarshal for ShardRow.
func UnmarshalShardRow(in []byte) (interface{}, error) {
	r := &byteReader{b: in}
	row := &ShardRow{}
	row.Chrom = string(r.bytes(int(r.uvarint())))
	row.Pos = uint32(r.uvarint())
	refAlt := r.bytes(2)
	row.Ref, row.Alt = refAlt[0], refAlt[1]
	row.Ns = uint32(r.uvarint())
	row.NrAd = uint32(r.uvarint())
	row.NrDp = uint32(r.uvarint())
	row.NrOth = uint32(r.uvarint())

	nGroups := int(r.uvarint())
	row.GroupAd = make([]uint32, nGroups)
	row.GroupDp = make([]uint32, nGroups)
	row.GroupOth = make([]uint32, nGroups)
	for i := 0; i < nGroups; i++ {
		row.GroupAd[i] = uint32(r.uvarint())
		row.GroupDp[i] = uint32(r.uvarint())
		row.GroupOth[i] = uint32(r.uvarint())
	}

	if r.bytes(1)[0] == 1 {
		n := int(r.uvarint())
		row.GroupGl = make([][]int, n)
		row.GroupGt = make([]string, n)
		for i := 0; i < n; i++ {
			glLen := int(r.uvarint())
			gl := make([]int, glLen)
			for j := range gl {
				gl[j] = int(r.varint())
			}
			row.GroupGl[i] = gl
			row.GroupGt[i] = string(r.bytes(int(r.uvarint())))
		}
	}
	return row, nil
}
