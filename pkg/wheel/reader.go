// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheel opens, reads, and validates wheel archives: ZIP files
// containing exactly one "<distribution>-<version>.dist-info/" directory
// with METADATA, WHEEL, and RECORD descriptors.
package wheel

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/datawire/editwheel/pkg/metadata"
	"github.com/datawire/editwheel/pkg/record"
	"github.com/datawire/editwheel/pkg/wheelinfo"
	"github.com/datawire/editwheel/pkg/wherr"
)

// Archive is an opened wheel ZIP, with its descriptors decoded.
type Archive struct {
	zip *zip.Reader

	// DistInfoPrefix is the discovered "<name>-<version>.dist-info"
	// top-level directory name, without a trailing slash.
	DistInfoPrefix string

	Metadata *metadata.Metadata
	Wheel    *wheelinfo.WheelInfo
	Record   *record.Record
}

// Open wraps a seekable ZIP source, locates the unique dist-info directory,
// and decodes METADATA, WHEEL, and RECORD.
func Open(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrArchive, err)
	}

	prefix, err := findDistInfoPrefix(zr)
	if err != nil {
		return nil, err
	}

	arc := &Archive{zip: zr, DistInfoPrefix: prefix}

	md, err := arc.readMetadata()
	if err != nil {
		return nil, err
	}
	arc.Metadata = md

	wi, err := arc.readWheel()
	if err != nil {
		return nil, err
	}
	arc.Wheel = wi

	rec, err := arc.readRecord()
	if err != nil {
		return nil, err
	}
	arc.Record = rec

	return arc, nil
}

// findDistInfoPrefix requires that exactly one top-level "*.dist-info"
// directory be present; zero or more than one is InvalidWheel.
func findDistInfoPrefix(zr *zip.Reader) (string, error) {
	found := make(map[string]struct{})
	for _, f := range zr.File {
		top := strings.SplitN(path.Clean(f.Name), "/", 2)[0]
		if strings.HasSuffix(top, ".dist-info") {
			found[top] = struct{}{}
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no .dist-info directory found", wherr.ErrInvalidWheel)
	case 1:
		for prefix := range found {
			return prefix, nil
		}
		panic("unreachable")
	default:
		names := make([]string, 0, len(found))
		for name := range found {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("%w: multiple .dist-info directories found: %v", wherr.ErrInvalidWheel, names)
	}
}

// Open returns a reader for the named archive member, matched by cleaned path.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	f := a.file(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %q not found in archive", wherr.ErrInvalidWheel, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", wherr.ErrArchive, name, err)
	}
	return rc, nil
}

func (a *Archive) file(name string) *zip.File {
	name = path.Clean(name)
	for _, f := range a.zip.File {
		if path.Clean(f.Name) == name {
			return f
		}
	}
	return nil
}

// Files returns every non-directory member's name, in central-directory order.
func (a *Archive) Files() []string {
	names := make([]string, 0, len(a.zip.File))
	for _, f := range a.zip.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

func (a *Archive) readMetadata() (*metadata.Metadata, error) {
	r, err := a.Open(a.DistInfoPrefix + "/METADATA")
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	md, err := metadata.Parse(r)
	if err != nil {
		return nil, err
	}
	return md, nil
}

func (a *Archive) readWheel() (*wheelinfo.WheelInfo, error) {
	r, err := a.Open(a.DistInfoPrefix + "/WHEEL")
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	wi, err := wheelinfo.Parse(r)
	if err != nil {
		return nil, err
	}
	return wi, nil
}

func (a *Archive) readRecord() (*record.Record, error) {
	r, err := a.Open(a.DistInfoPrefix + "/RECORD")
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	rec, err := record.Parse(r)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
