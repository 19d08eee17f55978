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
	"io"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bio-cellpileup/cellpileup"
	"github.com/grailbio/hts/bgzf"
	"github.com/klauspost/compress/gzip"
)

// matrixBody accumulates "<row>\t<col>\t<value>\n" entries for one
// sparse Matrix Market output ahead of knowing its final nnz count,
// the same "write the body to a scratch file, prepend the header once
// the count is known" idiom pileup/snp/output.go uses for its
// per-shard-then-merged TSV outputs.
type matrixBody struct {
	f   *os.File
	nnz int
}

func newMatrixBody(tempDir, name string) (*matrixBody, error) {
	f, err := ioutil.TempFile(tempDir, name+"_*.mtx.body")
	if err != nil {
		return nil, err
	}
	return &matrixBody{f: f}, nil
}

func (m *matrixBody) add(row, col int, value uint32) error {
	var buf [64]byte
	b := buf[:0]
	b = strconv.AppendInt(b, int64(row), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(col), 10)
	b = append(b, '\t')
	b = strconv.AppendUint(b, uint64(value), 10)
	b = append(b, '\n')
	if _, err := m.f.Write(b); err != nil {
		return err
	}
	m.nnz++
	return nil
}

// finish writes the Matrix Market header followed by the accumulated
// body into dst, then removes the scratch body file. When gzipOut is
// set, the whole stream (header and body) is gzip-compressed; Matrix
// Market files have no block structure worth preserving, so a plain
// gzip stream is used here instead of bgzf.
func (m *matrixBody) finish(ctx context.Context, dst file.File, nRows, nCols int, gzipOut bool) (err error) {
	defer func() {
		path := m.f.Name()
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		_ = os.Remove(path)
	}()

	out := dst.Writer(ctx)
	if gzipOut {
		gzw := gzip.NewWriter(out)
		defer func() {
			if cerr := gzw.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = gzw
	}
	header := "%%MatrixMarket matrix coordinate integer general\n%\n" +
		strconv.Itoa(nRows) + "\t" + strconv.Itoa(nCols) + "\t" + strconv.Itoa(m.nnz) + "\n"
	if _, err = io.WriteString(out, header); err != nil {
		return err
	}
	if _, err = m.f.Seek(0, 0); err != nil {
		return err
	}
	_, err = io.Copy(out, m.f)
	return err
}

// mergeShards implements the merge step of spec §4.6/§6: it reads
// every chromosome worker's shard file back in shard order, assigning
// each retained SNP the next 1-based matrix row index as it goes, and
// emits the three Matrix Market count matrices plus the variant file.
// Grounded on pileup/snp/output.go's convertPileupRowsTo{TSV,
// BasestrandRio}, which drive the identical
// scan-shards-then-renumber-then-concatenate-then-delete sequence.
func mergeShards(ctx context.Context, shardFiles []*os.File, outPrefix string, cfg *cellpileup.Configuration) (err error) {
	nGroups := len(cfg.Groups)
	if cfg.SampleMode == cellpileup.BySampleID {
		nGroups = len(cfg.Inputs)
	}

	adBody, err := newMatrixBody(cfg.TempDir, "ad")
	if err != nil {
		return cellpileup.E(cellpileup.KindIO, "shard", "", 0, err, "")
	}
	dpBody, err := newMatrixBody(cfg.TempDir, "dp")
	if err != nil {
		return cellpileup.E(cellpileup.KindIO, "shard", "", 0, err, "")
	}
	othBody, err := newMatrixBody(cfg.TempDir, "oth")
	if err != nil {
		return cellpileup.E(cellpileup.KindIO, "shard", "", 0, err, "")
	}

	variantPath := outPrefix + ".variants.tsv"
	if cfg.BgzipVariants {
		variantPath += ".gz"
	}
	variantDst, err := file.Create(ctx, variantPath)
	if err != nil {
		return cellpileup.E(cellpileup.KindIO, "shard", "", 0, err, "")
	}
	defer file.CloseAndReport(ctx, variantDst, &err)

	var variantTSV *tsv.Writer
	if !cfg.BgzipVariants {
		variantTSV = tsv.NewWriter(variantDst.Writer(ctx))
	} else {
		parallelism := cfg.NWorkers
		if parallelism < 1 {
			parallelism = 1
		}
		bgzfWriter := bgzf.NewWriter(variantDst.Writer(ctx), parallelism)
		defer func() {
			if cerr := bgzfWriter.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		variantTSV = tsv.NewWriter(bgzfWriter)
	}
	variantTSV.WriteString("#CHROM\tPOS\tREF\tALT\tNS\tNR_AD\tNR_DP\tNR_OTH")
	if cfg.EmitGenotype {
		variantTSV.WriteString("GENOTYPES")
	}
	if err = variantTSV.EndLine(); err != nil {
		return err
	}

	nRows := 0
	for shardIdx, f := range shardFiles {
		if _, err = f.Seek(0, 0); err != nil {
			return err
		}
		scanner := recordio.NewScanner(f, recordio.ScannerOpts{Unmarshal: UnmarshalShardRow})
		for scanner.Scan() {
			row := scanner.Get().(*ShardRow)
			nRows++
			if err = writeVariantRow(variantTSV, row, cfg); err != nil {
				return err
			}
			for g := 0; g < nGroups; g++ {
				if row.GroupAd[g] != 0 {
					if err = adBody.add(nRows, g+1, row.GroupAd[g]); err != nil {
						return err
					}
				}
				if row.GroupDp[g] != 0 {
					if err = dpBody.add(nRows, g+1, row.GroupDp[g]); err != nil {
						return err
					}
				}
				if row.GroupOth[g] != 0 {
					if err = othBody.add(nRows, g+1, row.GroupOth[g]); err != nil {
						return err
					}
				}
			}
		}
		if err = scanner.Err(); err != nil {
			return cellpileup.E(cellpileup.KindFormat, "shard", "", 0, err, "reading worker shard")
		}
		path := f.Name()
		if err = f.Close(); err != nil {
			return err
		}
		shardFiles[shardIdx] = nil
		_ = os.Remove(path)
	}
	if err = variantTSV.Flush(); err != nil {
		return err
	}

	matrixSuffix := ".mtx"
	if cfg.GzipMatrices {
		matrixSuffix += ".gz"
	}

	adDst, err := file.Create(ctx, outPrefix+".ad"+matrixSuffix)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, adDst, &err)
	if err = adBody.finish(ctx, adDst, nRows, nGroups, cfg.GzipMatrices); err != nil {
		return err
	}

	dpDst, err := file.Create(ctx, outPrefix+".dp"+matrixSuffix)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dpDst, &err)
	if err = dpBody.finish(ctx, dpDst, nRows, nGroups, cfg.GzipMatrices); err != nil {
		return err
	}

	othDst, err := file.Create(ctx, outPrefix+".oth"+matrixSuffix)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, othDst, &err)
	if err = othBody.finish(ctx, othDst, nRows, nGroups, cfg.GzipMatrices); err != nil {
		return err
	}

	log.Printf("cellpileup: merge complete, %d SNPs retained, %d groups", nRows, nGroups)
	return nil
}

func writeVariantRow(w *tsv.Writer, row *ShardRow, cfg *cellpileup.Configuration) error {
	w.WriteString(row.Chrom)
	w.WriteUint32(row.Pos)
	w.WriteByte(row.Ref)
	w.WriteByte(row.Alt)
	w.WriteUint32(row.Ns)
	w.WriteUint32(row.NrAd)
	w.WriteUint32(row.NrDp)
	w.WriteUint32(row.NrOth)
	if cfg.EmitGenotype {
		w.WritePartialBytes(formatGenotypes(row))
	}
	return w.EndLine()
}

// formatGenotypes renders the per-group "GT:AD:DP:OTH:PL" fields
// (spec §6's genotype column), comma-separated across groups, only
// including groups with nonzero depth.
func formatGenotypes(row *ShardRow) []byte {
	var buf []byte
	first := true
	for i := range row.GroupGt {
		if row.GroupAd[i] == 0 && row.GroupDp[i] == 0 && row.GroupOth[i] == 0 {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = strconv.AppendInt(buf, int64(i+1), 10)
		buf = append(buf, '=')
		buf = append(buf, row.GroupGt[i]...)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(row.GroupAd[i]), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(row.GroupDp[i]), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(row.GroupOth[i]), 10)
		buf = append(buf, ':')
		for j, pl := range row.GroupGl[i] {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendInt(buf, int64(pl), 10)
		}
	}
	if len(buf) == 0 {
		return []byte{'.'}
	}
	return buf
}
