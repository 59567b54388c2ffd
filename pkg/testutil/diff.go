// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// DumpWheelListing renders one line per archive member: its compression
// method, compressed/uncompressed size, and name, sorted by name so two
// archives that differ only in central-directory order still compare equal.
func DumpWheelListing(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	type row struct {
		method               uint16
		compressed, uncompressed uint64
		name                 string
	}
	rows := make([]row, 0, len(zr.File))
	for _, f := range zr.File {
		rows = append(rows, row{f.Method, f.CompressedSize64, f.UncompressedSize64, f.Name})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	ret := new(strings.Builder)
	table := tabwriter.NewWriter(ret, 0, 1, 1, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(table, "\t%04x\t% 10d\t% 10d\t%s\n", r.method, r.compressed, r.uncompressed, r.name)
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpWheelFull renders every member's decompressed content alongside its
// name, for a byte-exact comparison once DumpWheelListing has already
// agreed.
func DumpWheelFull(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(zr.File))
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	sort.Strings(names)

	spewConfig := spew.ConfigState{Indent: "  ", DisableCapacities: true, DisablePointerAddresses: true, SortKeys: true} //nolint:exhaustivestruct

	ret := new(strings.Builder)
	for _, name := range names {
		f := byName[name]
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(ret, "%s attrs=%s", name, spewConfig.Sdump(f.ExternalAttrs))
		fmt.Fprintf(ret, "%s content =%s", name, spewConfig.Sdump(content))
	}
	return ret.String(), nil
}

// AssertEqualWheels compares two wheel archives' raw bytes: first their
// listings (for a fast, readable failure when members were added, removed,
// renamed, or recompressed to a different size), then their full
// decompressed contents.
func AssertEqualWheels(t *testing.T, exp, act []byte) bool {
	t.Helper()

	expListing, err := DumpWheelListing(exp)
	if err != nil {
		t.Errorf("error dumping expected wheel listing: %v", err)
		return false
	}
	actListing, err := DumpWheelListing(act)
	if err != nil {
		t.Errorf("error dumping actual wheel listing: %v", err)
		return false
	}
	if expListing != actListing {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expListing),
			B:        difflib.SplitLines(actListing),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		t.Errorf("listing diff:\n%s", diff)
		return false
	}

	expFull, err := DumpWheelFull(exp)
	if err != nil {
		t.Errorf("error dumping expected wheel contents: %v", err)
		return false
	}
	actFull, err := DumpWheelFull(act)
	if err != nil {
		t.Errorf("error dumping actual wheel contents: %v", err)
		return false
	}
	if expFull != actFull {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expFull),
			B:        difflib.SplitLines(actFull),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  3,
		})
		t.Errorf("content diff:\n%s", diff)
		return false
	}

	return true
}
