// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package globsel compiles and matches shell-style glob patterns against
// archive entry names, for bulk selection of members to patch.
package globsel

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/datawire/editwheel/pkg/wherr"
)

// Pattern is a compiled glob. "*" matches any run of characters except "/";
// "?" matches one non-"/" character; "[...]" matches a character class;
// "**" matches any run of characters including "/".
type Pattern struct {
	g glob.Glob
}

// Compile parses pattern, treating "/" as the path separator so that "*"
// does not cross directory boundaries but "**" does.
func Compile(pattern string) (*Pattern, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", wherr.ErrGlobPattern, pattern, err)
	}
	return &Pattern{g: g}, nil
}

// Match reports whether name matches the compiled pattern.
func (p *Pattern) Match(name string) bool {
	return p.g.Match(name)
}
