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
package cellpileup

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/bio-cellpileup/interval"
	"github.com/grailbio/bio-cellpileup/umi"
)

// LoadSnps reads a SNP-list TSV (chrom, pos, ref?, alt?) in the format
// described by SPEC_FULL.md §3.
func LoadSnps(ctx context.Context, path string) (snps []Snp, err error) {
	var f file.File
	if f, err = file.Open(ctx, path); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "open SNP list "+path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	scanner := bufio.NewScanner(f.Reader(ctx))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, E(KindFormat, "loader", "", 0, nil,
				"malformed SNP list line "+strconv.Itoa(lineNo)+": "+line)
		}
		pos, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return nil, E(KindFormat, "loader", fields[0], 0, perr, "parsing SNP position")
		}
		snp := Snp{Chrom: fields[0], Pos: pos}
		if len(fields) > 2 && fields[2] != "" {
			snp.RefNT = fields[2][0]
		}
		if len(fields) > 3 && fields[3] != "" {
			snp.AltNT = fields[3][0]
		}
		snps = append(snps, snp)
	}
	if err = scanner.Err(); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "reading SNP list "+path)
	}
	return snps, nil
}

// LoadGroups reads a newline-delimited barcode/sample-ID list. The line
// order fixes the output matrices' column order.
func LoadGroups(ctx context.Context, path string) (groups []string, err error) {
	var f file.File
	if f, err = file.Open(ctx, path); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "open group list "+path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		groups = append(groups, line)
	}
	if err = scanner.Err(); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "reading group list "+path)
	}
	return groups, nil
}

// LoadUmiWhitelist builds a *umi.SnapCorrector from a newline-delimited
// UMI whitelist file, for the opt-in UMI-correction pre-pass described
// in SPEC_FULL.md's DOMAIN STACK: when set on Configuration, the
// extractor snap-corrects each read's UMI tag against it before the
// exact-match (group, UMI) dedup runs.
func LoadUmiWhitelist(ctx context.Context, path string) (*umi.SnapCorrector, error) {
	var f file.File
	var err error
	if f, err = file.Open(ctx, path); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "open UMI whitelist "+path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	var known []byte
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		known = append(known, []byte(line)...)
		known = append(known, '\n')
	}
	if err = scanner.Err(); err != nil {
		return nil, E(KindIO, "loader", "", 0, err, "reading UMI whitelist "+path)
	}
	return umi.NewSnapCorrector(known), nil
}

// RestrictChroms narrows chroms to the single chromosome named by a
// -region flag value, per SPEC_FULL.md §3's region-restriction loader.
// Only whole-chromosome restriction is honored; sub-chromosome
// start/end bounds in the region string are accepted but not enforced
// beyond selecting the chromosome, since SNP positions already pin the
// exact loci to visit.
func RestrictChroms(region string, chroms []string) ([]string, error) {
	if region == "" {
		return chroms, nil
	}
	entry, err := interval.ParseRegionString(region)
	if err != nil {
		return nil, E(KindConfig, "loader", "", 0, err, "parsing -region")
	}
	for _, c := range chroms {
		if c == entry.ChrName {
			return []string{c}, nil
		}
	}
	return nil, E(KindConfig, "loader", entry.ChrName, 0, nil, "region chromosome not in chrom list")
}
