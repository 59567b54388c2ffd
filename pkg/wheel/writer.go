// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/datawire/editwheel/pkg/metadata"
	"github.com/datawire/editwheel/pkg/record"
	"github.com/datawire/editwheel/pkg/reproducible"
	"github.com/datawire/editwheel/pkg/wheelhash"
	"github.com/datawire/editwheel/pkg/wheelinfo"
	"github.com/datawire/editwheel/pkg/wherr"
	"github.com/datawire/editwheel/pkg/zipattr"
)

func init() {
	// archive/zip's built-in deflate compressor is compress/flate; swap in
	// klauspost/compress's drop-in replacement, which the corpus already
	// depends on, for every member this writer recompresses from scratch.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
}

// WriteParams bundles the arguments to Write: the source archive and the
// mutation set to apply while streaming it into a fresh wheel.
type WriteParams struct {
	Source             *Archive
	NewMetadata        *metadata.Metadata
	OrigRecord         *record.Record
	OldPrefix          string
	NewPrefix          string
	Patched            map[string][]byte // source member name -> replacement content
	NewWheelDescriptor *wheelinfo.WheelInfo
}

// Write streams source into output, applying the dist-info rename and
// member substitutions in params, and regenerates RECORD. Unchanged,
// unpatched members are copied via raw deflate passthrough: their
// compressed bytes are written out as they are. Such a member is
// decompressed only when OrigRecord has no hash for it, to compute the hash
// and size that RECORD lists.
//
// Source members are visited in central-directory order; that order is
// preserved for copied/patched members. METADATA and (when dirty) WHEEL are
// emitted after all payload members. RECORD is emitted last, since its
// content depends on every other member's final identity and hash.
func Write(w io.Writer, params WriteParams) error {
	zw := zip.NewWriter(w)

	oldMetadataName := params.OldPrefix + "/METADATA"
	oldRecordName := params.OldPrefix + "/RECORD"
	oldWheelName := params.OldPrefix + "/WHEEL"

	var recEntries []record.Entry

	for _, f := range params.Source.zipFiles() {
		if strings.HasSuffix(f.Name, "/") {
			continue // directory entry
		}
		switch f.Name {
		case oldMetadataName, oldRecordName:
			continue
		case oldWheelName:
			if params.NewWheelDescriptor != nil {
				continue
			}
		}

		newName := renamePrefix(f.Name, params.OldPrefix, params.NewPrefix)

		if replacement, ok := params.Patched[f.Name]; ok {
			entry, err := writePatchedMember(zw, newName, replacement, f.ExternalAttrs)
			if err != nil {
				return err
			}
			recEntries = append(recEntries, entry)
			continue
		}

		entry, err := copyMemberRaw(zw, f, newName, params.OrigRecord)
		if err != nil {
			return err
		}
		recEntries = append(recEntries, entry)
	}

	metaEntry, err := writeMetadata(zw, params.NewPrefix+"/METADATA", params.NewMetadata)
	if err != nil {
		return err
	}
	recEntries = append(recEntries, metaEntry)

	if params.NewWheelDescriptor != nil {
		wheelEntry, err := writeWheelDescriptor(zw, params.NewPrefix+"/WHEEL", params.NewWheelDescriptor)
		if err != nil {
			return err
		}
		recEntries = append(recEntries, wheelEntry)
	}

	recEntries = append(recEntries, record.Entry{Path: params.NewPrefix + "/RECORD"})
	if err := writeRecord(zw, params.NewPrefix+"/RECORD", recEntries); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: close archive: %v", wherr.ErrIO, err)
	}
	return nil
}

// renamePrefix replaces name's leading "<oldPrefix>/" (or an exact match on
// oldPrefix itself) with newPrefix; names outside the dist-info directory
// pass through unchanged. Wheel layouts never nest dist-info directories,
// so there is never more than one occurrence to replace.
func renamePrefix(name, oldPrefix, newPrefix string) string {
	if oldPrefix == newPrefix {
		return name
	}
	if name == oldPrefix {
		return newPrefix
	}
	if strings.HasPrefix(name, oldPrefix+"/") {
		return newPrefix + name[len(oldPrefix):]
	}
	return name
}

func copyMemberRaw(zw *zip.Writer, f *zip.File, newName string, orig *record.Record) (record.Entry, error) {
	fh := f.FileHeader
	fh.Name = newName

	raw, err := f.OpenRaw()
	if err != nil {
		return record.Entry{}, fmt.Errorf("%w: open raw %q: %v", wherr.ErrArchive, f.Name, err)
	}

	dst, err := zw.CreateRaw(&fh)
	if err != nil {
		return record.Entry{}, fmt.Errorf("%w: create raw %q: %v", wherr.ErrArchive, newName, err)
	}
	if _, err := io.Copy(dst, raw); err != nil {
		return record.Entry{}, fmt.Errorf("%w: copy %q: %v", wherr.ErrIO, f.Name, err)
	}

	if orig != nil {
		if e, ok := orig.Find(f.Name); ok && e.Hash != "" {
			return record.Entry{Path: newName, Hash: e.Hash, Size: e.Size, HasSize: e.HasSize}, nil
		}
	}

	// orig's RECORD is missing or incomplete for this member: fall back to
	// decompressing it once to compute a fresh hash and size.
	decoded, err := f.Open()
	if err != nil {
		return record.Entry{}, fmt.Errorf("%w: open %q: %v", wherr.ErrArchive, f.Name, err)
	}
	defer func() { _ = decoded.Close() }()
	hash, size, err := hashAndSize(decoded)
	if err != nil {
		return record.Entry{}, err
	}
	return record.Entry{Path: newName, Hash: hash, Size: size, HasSize: true}, nil
}

// defaultRegularFileAttrs is the external-attributes field for a freshly
// generated text member (METADATA, WHEEL, RECORD): a regular file, mode 0644.
var defaultRegularFileAttrs = zipattr.ExternalAttributes{UNIX: zipattr.ModeFromGo(0o644)}.Raw()

// writeRewrittenMember creates name with a default regular-file mode; used
// for descriptors editwheel generates from scratch (METADATA, WHEEL,
// RECORD), which never carry over a source entry's attributes.
func writeRewrittenMember(zw *zip.Writer, name string, content []byte) (record.Entry, error) {
	return writeMember(zw, name, content, defaultRegularFileAttrs)
}

// writePatchedMember creates name preserving externalAttrs from the source
// archive entry it replaces, so e.g. the executable bit on a patched .so
// survives the rewrite.
func writePatchedMember(zw *zip.Writer, name string, content []byte, externalAttrs uint32) (record.Entry, error) {
	return writeMember(zw, name, content, externalAttrs)
}

func writeMember(zw *zip.Writer, name string, content []byte, externalAttrs uint32) (record.Entry, error) {
	hash, size, err := hashAndSize(bytes.NewReader(content))
	if err != nil {
		return record.Entry{}, err
	}
	fh := &zip.FileHeader{
		Name:          name,
		Method:        zip.Deflate,
		ExternalAttrs: externalAttrs,
		Modified:      reproducible.Now(),
	}
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return record.Entry{}, fmt.Errorf("%w: create %q: %v", wherr.ErrArchive, name, err)
	}
	if _, err := w.Write(content); err != nil {
		return record.Entry{}, fmt.Errorf("%w: write %q: %v", wherr.ErrIO, name, err)
	}
	return record.Entry{Path: name, Hash: hash, Size: size, HasSize: true}, nil
}

func writeMetadata(zw *zip.Writer, name string, md *metadata.Metadata) (record.Entry, error) {
	var buf bytes.Buffer
	if err := md.Serialize(&buf); err != nil {
		return record.Entry{}, err
	}
	return writeRewrittenMember(zw, name, buf.Bytes())
}

func writeWheelDescriptor(zw *zip.Writer, name string, wi *wheelinfo.WheelInfo) (record.Entry, error) {
	var buf bytes.Buffer
	if err := wi.Serialize(&buf); err != nil {
		return record.Entry{}, err
	}
	return writeRewrittenMember(zw, name, buf.Bytes())
}

func writeRecord(zw *zip.Writer, name string, entries []record.Entry) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:          name,
		Method:        zip.Deflate,
		ExternalAttrs: defaultRegularFileAttrs,
		Modified:      reproducible.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", wherr.ErrArchive, name, err)
	}
	rec := &record.Record{Entries: entries}
	if err := rec.Serialize(w); err != nil {
		return err
	}
	return nil
}

func hashAndSize(r io.Reader) (hash string, size int64, err error) {
	hash, size, err = wheelhash.StreamWithSize(r)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	return hash, size, nil
}

// zipFiles exposes the source archive's central-directory entries in their
// on-disk order, for the writer's single pass.
func (a *Archive) zipFiles() []*zip.File {
	return a.zip.File
}
