// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheelname canonicalizes Python distribution names for dist-info
// directory naming, per PEP 427's file-name convention.
package wheelname

import "strings"

// Normalize collapses any run of '-', '_', or '.' into a single '_'; all
// other characters pass through unchanged. It is pure, total, and
// case-preserving, and never fails.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	inRun := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			if !inRun {
				b.WriteByte('_')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// DistInfoName builds the dist-info directory name for a (name, version)
// pair: normalize(name) + "-" + version + ".dist-info".
func DistInfoName(name, version string) string {
	return Normalize(name) + "-" + version + ".dist-info"
}
