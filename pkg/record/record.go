// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package record parses and serializes a wheel's RECORD file: a CSV manifest
// of every archive member's path, content hash, and size.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/datawire/editwheel/pkg/wherr"
)

// Entry is a single RECORD row. Hash and Size are empty/zero when the
// corresponding CSV field was empty -- the RECORD file's own entry always
// has both empty, per PEP 427.
type Entry struct {
	Path string
	Hash string
	Size int64

	// HasSize distinguishes an explicit "0" from an absent size field;
	// serialization must never emit an absent size as "0".
	HasSize bool
}

// Record is an ordered sequence of RECORD entries.
type Record struct {
	Entries []Entry
}

// Parse reads RECORD's CSV body. Rows may have fewer than three fields
// (treated as empty trailing fields); rows with an empty path are skipped.
func Parse(r io.Reader) (*Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // variable width rows are valid RECORD CSV

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrRecordParse, err)
	}

	rec := &Record{}
	for _, row := range rows {
		path := field(row, 0)
		if path == "" {
			continue
		}
		entry := Entry{Path: path, Hash: field(row, 1)}
		if sizeStr := field(row, 2); sizeStr != "" {
			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid size %q for %s: %v",
					wherr.ErrRecordParse, sizeStr, path, err)
			}
			entry.Size = size
			entry.HasSize = true
		}
		rec.Entries = append(rec.Entries, entry)
	}
	return rec, nil
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// Serialize writes one CSV row per entry; an absent size is written as an
// empty field, never "0".
func (r *Record) Serialize(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, e := range r.Entries {
		sizeStr := ""
		if e.HasSize {
			sizeStr = strconv.FormatInt(e.Size, 10)
		}
		if err := cw.Write([]string{e.Path, e.Hash, sizeStr}); err != nil {
			return fmt.Errorf("%w: %v", wherr.ErrIO, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	return nil
}

// Find returns the entry for path, and whether it was found.
func (r *Record) Find(path string) (*Entry, bool) {
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			return &r.Entries[i], true
		}
	}
	return nil, false
}
