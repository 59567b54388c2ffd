// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel

import (
	"fmt"
	"path"
	"sort"

	"github.com/datawire/dlib/derror"

	"github.com/datawire/editwheel/pkg/record"
	"github.com/datawire/editwheel/pkg/wheelhash"
)

// MismatchKind distinguishes the three kinds of finding Validate can report.
type MismatchKind int

const (
	// HashMismatch: the RECORD hash and the member's actual hash disagree.
	HashMismatch MismatchKind = iota
	// MissingFile: a RECORD entry names a file absent from the archive.
	MissingFile
	// ExtraFile: an archive member has no corresponding RECORD entry.
	ExtraFile
)

// Finding is a single structured discrepancy. Expected/Actual are only
// meaningful for HashMismatch.
type Finding struct {
	Kind     MismatchKind
	Path     string
	Expected string
	Actual   string
}

func (f Finding) String() string {
	switch f.Kind {
	case HashMismatch:
		return fmt.Sprintf("%s: hash mismatch: RECORD=%s actual=%s", f.Path, f.Expected, f.Actual)
	case MissingFile:
		return fmt.Sprintf("%s: listed in RECORD but missing from archive", f.Path)
	case ExtraFile:
		return fmt.Sprintf("%s: present in archive but not listed in RECORD", f.Path)
	default:
		return fmt.Sprintf("%s: unknown finding", f.Path)
	}
}

// ValidationResult aggregates every Finding from a Validate call.
type ValidationResult struct {
	Findings []Finding
}

// IsValid reports whether no discrepancies were found.
func (v ValidationResult) IsValid() bool {
	return len(v.Findings) == 0
}

// Error renders every finding, so a ValidationResult can itself be returned
// as an error when the caller wants validation failures to abort a command.
func (v ValidationResult) Error() string {
	var errs derror.MultiError
	for _, f := range v.Findings {
		errs = append(errs, fmt.Errorf("%s", f.String()))
	}
	return errs.Error()
}

// Validate checks that every RECORD entry with a non-empty hash matches an
// archive member's actual content, and that every archive member (other
// than RECORD itself) has a RECORD entry. Complexity is O(total
// uncompressed bytes).
func Validate(a *Archive, rec *record.Record) (ValidationResult, error) {
	todo := make(map[string]struct{})
	for _, name := range a.Files() {
		if path.Clean(name) == path.Clean(a.DistInfoPrefix+"/RECORD") {
			continue
		}
		todo[name] = struct{}{}
	}

	var result ValidationResult
	for _, entry := range rec.Entries {
		if path.Clean(entry.Path) == path.Clean(a.DistInfoPrefix+"/RECORD") {
			continue
		}
		delete(todo, entry.Path)

		if entry.Hash == "" {
			continue
		}

		r, err := a.Open(entry.Path)
		if err != nil {
			result.Findings = append(result.Findings, Finding{Kind: MissingFile, Path: entry.Path})
			continue
		}
		actual, err := wheelhash.Stream(r)
		_ = r.Close()
		if err != nil {
			return result, err
		}
		if actual != entry.Hash {
			result.Findings = append(result.Findings, Finding{
				Kind: HashMismatch, Path: entry.Path, Expected: entry.Hash, Actual: actual,
			})
		}
	}

	extra := make([]string, 0, len(todo))
	for name := range todo {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		result.Findings = append(result.Findings, Finding{Kind: ExtraFile, Path: name})
	}

	return result, nil
}
