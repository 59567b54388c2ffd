// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheelinfo parses and serializes the WHEEL descriptor found in a
// wheel's dist-info directory, and models its compatibility tags.
package wheelinfo

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/datawire/editwheel/pkg/wherr"
)

// Tag is a compatibility tag: a (python, abi, platform) triple.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

// ParseTag splits a serialized tag on '-'; exactly three components are
// required.
func ParseTag(s string) (Tag, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Tag{}, fmt.Errorf("%w: expected 3 parts (python-abi-platform), got %d: %q",
			wherr.ErrWheelDescriptorParse, len(parts), s)
	}
	return Tag{Python: parts[0], ABI: parts[1], Platform: parts[2]}, nil
}

// String serializes a tag back to "python-abi-platform" form.
func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// Expand decompresses a tag whose components may themselves be
// dot-separated sets (e.g. "cp39.cp310-abi3-linux_x86_64") into the full
// cross product of single-valued tags. The serialized grammar in a WHEEL
// file's "Tag:" line always has exactly three hyphen-separated components,
// but each component may itself encode multiple values, and a consumer
// reasoning about installability needs the expanded form.
func (t Tag) Expand() []Tag {
	var ret []Tag
	for _, py := range strings.Split(t.Python, ".") {
		for _, abi := range strings.Split(t.ABI, ".") {
			for _, plat := range strings.Split(t.Platform, ".") {
				ret = append(ret, Tag{py, abi, plat})
			}
		}
	}
	return ret
}

// Intersect reports whether any tag in a matches any tag in b, considering
// expanded (dot-compressed) tag sets.
func Intersect(a, b []Tag) bool {
	for _, a1 := range a {
		for _, a2 := range a1.Expand() {
			for _, b1 := range b {
				for _, b2 := range b1.Expand() {
					if a2 == b2 {
						return true
					}
				}
			}
		}
	}
	return false
}

// WheelInfo is a structured view of a wheel's WHEEL file.
type WheelInfo struct {
	WheelVersion  string
	Generator     string // empty means absent
	RootIsPurelib bool
	Tags          []Tag
	Build         string // empty means absent

	// Extra holds headers not recognized above, in original key casing,
	// preserving the order values were seen for each key.
	Extra map[string][]string
}

// Parse reads a WHEEL descriptor: one "Key: Value" header per line, split on
// the first ':'. Continuation lines are not part of this format.
func Parse(r io.Reader) (*WheelInfo, error) {
	info := &WheelInfo{Extra: map[string][]string{}}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r"))
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := info.setField(key, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}

	if info.WheelVersion == "" {
		return nil, fmt.Errorf("%w: missing field Wheel-Version", wherr.ErrWheelDescriptorParse)
	}
	if len(info.Tags) == 0 {
		return nil, fmt.Errorf("%w: missing field Tag", wherr.ErrWheelDescriptorParse)
	}

	return info, nil
}

func (info *WheelInfo) setField(key, value string) error {
	switch key {
	case "Wheel-Version":
		info.WheelVersion = value
	case "Generator":
		info.Generator = value
	case "Root-Is-Purelib":
		info.RootIsPurelib = strings.EqualFold(value, "true")
	case "Tag":
		tag, err := ParseTag(value)
		if err != nil {
			return err
		}
		info.Tags = append(info.Tags, tag)
	case "Build":
		info.Build = value
	default:
		info.Extra[key] = append(info.Extra[key], value)
	}
	return nil
}

// Serialize writes the WHEEL descriptor: Wheel-Version, Generator (if set),
// Root-Is-Purelib, every Tag, Build (if set), then extras.
func (info *WheelInfo) Serialize(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Wheel-Version: %s\n", info.WheelVersion)
	if info.Generator != "" {
		fmt.Fprintf(&b, "Generator: %s\n", info.Generator)
	}
	if info.RootIsPurelib {
		b.WriteString("Root-Is-Purelib: true\n")
	} else {
		b.WriteString("Root-Is-Purelib: false\n")
	}
	for _, tag := range info.Tags {
		fmt.Fprintf(&b, "Tag: %s\n", tag.String())
	}
	if info.Build != "" {
		fmt.Fprintf(&b, "Build: %s\n", info.Build)
	}
	for _, key := range sortedKeys(info.Extra) {
		for _, v := range info.Extra[key] {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Platform returns the platform component of the first tag, if any.
func (info *WheelInfo) Platform() (string, bool) {
	if len(info.Tags) == 0 {
		return "", false
	}
	return info.Tags[0].Platform, true
}

// SetPlatform rewrites the platform component of every tag.
func (info *WheelInfo) SetPlatform(platform string) {
	for i := range info.Tags {
		info.Tags[i].Platform = platform
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
