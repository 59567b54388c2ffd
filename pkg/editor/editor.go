// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package editor is the wheel editor façade: it opens a wheel, holds its
// parsed descriptors plus a set of pending mutations in memory, and
// orchestrates validation and save. It owns its descriptor copies; the
// source ZIP is reopened fresh for every operation that needs archive
// bytes, so save never mutates (or even keeps open) the source file.
package editor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/editwheel/pkg/elfpatch"
	"github.com/datawire/editwheel/pkg/globsel"
	"github.com/datawire/editwheel/pkg/metadata"
	"github.com/datawire/editwheel/pkg/wheel"
	"github.com/datawire/editwheel/pkg/wheelinfo"
	"github.com/datawire/editwheel/pkg/wheelname"
	"github.com/datawire/editwheel/pkg/wherr"
)

// Editor holds a wheel's parsed descriptors and accumulates edits until Save
// is called. The zero value is not usable; construct with Open.
type Editor struct {
	sourcePath string
	oldPrefix  string

	metadata *metadata.Metadata
	wheel    *wheelinfo.WheelInfo

	// patched maps source archive member name to replacement bytes, for
	// members whose content (e.g. an ELF shared object's RPATH) changed.
	patched map[string][]byte

	// wheelDirty is set once the WHEEL descriptor itself is edited (as
	// opposed to payload members), so Save knows to rewrite it rather than
	// pass it through unchanged.
	wheelDirty bool
}

// Open reads path's METADATA, WHEEL, and RECORD and returns an Editor over
// them. The source file is not kept open past this call.
func Open(path string) (*Editor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}

	arc, err := wheel.Open(f, info.Size())
	if err != nil {
		return nil, err
	}

	return &Editor{
		sourcePath: path,
		oldPrefix:  arc.DistInfoPrefix,
		metadata:   arc.Metadata,
		wheel:      arc.Wheel,
		patched:    map[string][]byte{},
	}, nil
}

// Metadata returns the editor's in-memory METADATA view. Mutate it directly
// through the setters below, or via the returned pointer for bulk edits.
func (e *Editor) Metadata() *metadata.Metadata { return e.metadata }

// Wheel returns the editor's in-memory WHEEL descriptor view.
func (e *Editor) Wheel() *wheelinfo.WheelInfo { return e.wheel }

// SetName updates the distribution name, which changes the dist-info
// directory name on the next Save.
func (e *Editor) SetName(name string) { e.metadata.Name = name }

// SetVersion updates the distribution version, which changes the dist-info
// directory name on the next Save.
func (e *Editor) SetVersion(version string) { e.metadata.Version = version }

// SetSummary sets the optional Summary header.
func (e *Editor) SetSummary(summary string) { e.metadata.Summary = summary }

// AddClassifier appends a Classifier header.
func (e *Editor) AddClassifier(classifier string) {
	e.metadata.Classifier = append(e.metadata.Classifier, classifier)
}

// AddRequiresDist appends a Requires-Dist header.
func (e *Editor) AddRequiresDist(req string) {
	e.metadata.RequiresDist = append(e.metadata.RequiresDist, req)
}

// SetPlatform rewrites every WHEEL tag's platform component.
func (e *Editor) SetPlatform(platform string) {
	e.wheel.SetPlatform(platform)
	e.wheelDirty = true
}

// SetRPath reopens the source ZIP, selects members matching glob, and
// patches each selected ELF shared object's effective RPATH/RUNPATH. A
// selected member that is not an ELF image (checked by magic byte) or that
// fails to patch is logged and left unpatched, so a bulk update over a
// wheel containing both ELF and non-ELF files still makes progress on the
// patchable majority.
func (e *Editor) SetRPath(ctx context.Context, pattern string, runpath bool, value string) error {
	pat, err := globsel.Compile(pattern)
	if err != nil {
		return err
	}

	f, err := os.Open(e.sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}

	arc, err := wheel.Open(f, info.Size())
	if err != nil {
		return err
	}

	kind := elfpatch.SetRPath
	if runpath {
		kind = elfpatch.SetRunPath
	}

	for _, name := range arc.Files() {
		if !pat.Match(name) {
			continue
		}

		rc, err := arc.Open(name)
		if err != nil {
			dlog.Warnf(ctx, "set-rpath: %s: %v, skipping", name, err)
			continue
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			dlog.Warnf(ctx, "set-rpath: %s: %v, skipping", name, err)
			continue
		}

		if !elfpatch.IsELF(content) {
			dlog.Warnf(ctx, "set-rpath: %s: not an ELF image, skipping", name)
			continue
		}

		patched, err := elfpatch.Patch(content, []elfpatch.Modification{{Kind: kind, Value: value}})
		if err != nil {
			dlog.Warnf(ctx, "set-rpath: %s: %v, skipping", name, err)
			continue
		}
		e.patched[name] = patched
	}

	return nil
}

// Validate checks the on-disk source against its own (unmutated) RECORD.
// It does not take pending edits into account -- use Save, then Validate
// the saved output, to check a proposed edit's integrity.
func (e *Editor) Validate() (wheel.ValidationResult, error) {
	f, err := os.Open(e.sourcePath)
	if err != nil {
		return wheel.ValidationResult{}, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return wheel.ValidationResult{}, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}

	arc, err := wheel.Open(f, info.Size())
	if err != nil {
		return wheel.ValidationResult{}, err
	}
	return wheel.Validate(arc, arc.Record)
}

// Save writes a new wheel to outputPath, reflecting every pending edit. The
// source file is reopened fresh and is never mutated.
func (e *Editor) Save(outputPath string) error {
	src, err := os.Open(e.sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}

	arc, err := wheel.Open(src, info.Size())
	if err != nil {
		return err
	}

	newPrefix := wheelname.DistInfoName(e.metadata.Name, e.metadata.Version)

	var newWheelDescriptor *wheelinfo.WheelInfo
	if e.wheelDirty {
		newWheelDescriptor = e.wheel
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	defer func() { _ = out.Close() }()

	return wheel.Write(out, wheel.WriteParams{
		Source:             arc,
		NewMetadata:        e.metadata,
		OrigRecord:         arc.Record,
		OldPrefix:          e.oldPrefix,
		NewPrefix:          newPrefix,
		Patched:            e.patched,
		NewWheelDescriptor: newWheelDescriptor,
	})
}
