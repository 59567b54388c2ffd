// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package elfpatch reads and rewrites the DT_RPATH/DT_RUNPATH dynamic-section
// entries of an ELF shared object, in memory, without shelling out to an
// external tool such as patchelf.
//
// Reading leans on the standard library's debug/elf as far as it goes
// (locating segments and sections, and -- via (*elf.File).DynString --
// dereferencing the dynamic string table for us), and writing is hand-rolled
// on top of it, since debug/elf is read-only.
package elfpatch

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/datawire/editwheel/pkg/wherr"
)

const pageSize = 4096

// ModKind distinguishes the two directives a Modification can carry.
type ModKind int

const (
	// SetRPath sets DT_RPATH.
	SetRPath ModKind = iota
	// SetRunPath sets DT_RUNPATH.
	SetRunPath
)

// Modification is one directive in the ordered sequence Patch applies.
type Modification struct {
	Kind  ModKind
	Value string
}

func (m Modification) tag() elf.DynTag {
	if m.Kind == SetRunPath {
		return elf.DT_RUNPATH
	}
	return elf.DT_RPATH
}

// IsELF reports whether b begins with the ELF magic number.
func IsELF(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], []byte{0x7f, 'E', 'L', 'F'})
}

// GetEffectiveRPath returns the DT_RUNPATH value if present, else DT_RPATH,
// else (ok=false). RUNPATH takes precedence per the ELF spec when both are
// present. The dynamic string table is located through the .dynamic section
// header's sh_link (via (*elf.File).DynString); the DT_STRTAB entry is not
// consulted, so an image whose .dynamic section header links no string
// table reports ok=false even when a DT_RPATH/DT_RUNPATH entry is present.
func GetEffectiveRPath(image []byte) (value string, ok bool, err error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", wherr.ErrELF, err)
	}
	defer f.Close()

	for _, tag := range []elf.DynTag{elf.DT_RUNPATH, elf.DT_RPATH} {
		values, err := f.DynString(tag)
		if err != nil {
			// No PT_DYNAMIC, or no DT_STRTAB: not an error for this query,
			// just means the tag can't be present either.
			continue
		}
		if len(values) > 0 {
			return values[0], true, nil
		}
	}
	return "", false, nil
}

// Patch applies mods in order and returns a new, independently valid ELF
// image. It:
//   - locates PT_DYNAMIC and the .dynamic/.dynstr sections (section headers
//     must be present; a fully stripped image that removed them is
//     rejected as unsupported, since there is then no reliable way to find
//     the dynamic string table's file range),
//   - builds a replacement .dynstr by appending new string content after
//     the existing bytes (so every DT_NEEDED/DT_SONAME/DT_RPATH/DT_RUNPATH
//     offset already in the table, being relative to .dynstr's own start
//     rather than an absolute address, stays valid unchanged),
//   - reuses an existing DT_RPATH/DT_RUNPATH entry's slot when the tag is
//     already present, or converts the dynamic array's DT_NULL terminator
//     into a new entry (appending a fresh terminator) when it is not,
//   - repoints DT_STRTAB/DT_STRSZ at the replacement table,
//   - hands the replacement .dynstr/.dynamic bytes to (*layout).relocate,
//     which places them in a fresh trailing segment rather than shifting
//     any existing segment's virtual address, so every other vaddr-bearing
//     structure in the image (DT_RELA, DT_VERSYM, DT_PLTGOT, relocation
//     r_offset/r_addend, symbol st_value, ...) is left untouched and stays
//     valid.
func Patch(image []byte, mods []Modification) ([]byte, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrELF, err)
	}
	defer f.Close()

	lay, err := newLayout(image, f)
	if err != nil {
		return nil, err
	}

	dynSec := lay.section(".dynamic")
	strSec := lay.section(".dynstr")
	if dynSec == nil || strSec == nil {
		return nil, fmt.Errorf("%w: missing .dynamic or .dynstr section", wherr.ErrELF)
	}

	dynEntries, err := lay.readDynEntries(dynSec)
	if err != nil {
		return nil, err
	}
	termIdx := -1
	for i, e := range dynEntries {
		if e.tag == int64(elf.DT_NULL) {
			termIdx = i
			break
		}
	}
	if termIdx < 0 {
		return nil, fmt.Errorf("%w: .dynamic has no DT_NULL terminator", wherr.ErrELF)
	}

	oldStrings := imageSlice(lay, strSec.Offset, strSec.Size)
	var newStrings []byte
	newEntries := append([]dynEntry(nil), dynEntries...)
	for _, mod := range mods {
		tag := int64(mod.tag())
		strOff := uint64(len(oldStrings)) + uint64(len(newStrings))
		newStrings = append(newStrings, append([]byte(mod.Value), 0)...)

		found := false
		for i := range newEntries {
			if newEntries[i].tag == tag {
				newEntries[i].val = strOff
				found = true
				break
			}
		}
		if !found {
			// Put the new entry in the terminator's slot, and move the
			// terminator (and any padding after it) up by one slot.
			newEntries = append(newEntries, dynEntry{})
			copy(newEntries[termIdx+1:], newEntries[termIdx:])
			newEntries[termIdx] = dynEntry{tag: tag, val: strOff}
			termIdx++
		}
	}

	newDynstr := append(append([]byte(nil), oldStrings...), newStrings...)

	base := lay.extraBase()
	haveStrtab, haveStrsz := false, false
	for i := range newEntries {
		switch elf.DynTag(newEntries[i].tag) {
		case elf.DT_STRTAB:
			newEntries[i].val = base
			haveStrtab = true
		case elf.DT_STRSZ:
			newEntries[i].val = uint64(len(newDynstr))
			haveStrsz = true
		}
	}
	if !haveStrtab || !haveStrsz {
		return nil, fmt.Errorf("%w: .dynamic missing DT_STRTAB or DT_STRSZ", wherr.ErrELF)
	}

	newDynamic := lay.encodeDynEntries(newEntries)

	return lay.relocate(newDynstr, newDynamic)
}
