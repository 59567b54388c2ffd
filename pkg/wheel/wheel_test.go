// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel_test

import (
	"archive/zip"
	"bytes"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datawire/editwheel/pkg/testutil"
	"github.com/datawire/editwheel/pkg/wheel"
	"github.com/datawire/editwheel/pkg/wheelhash"
)

const (
	testPrefix = "demo_pkg-1.0.dist-info"

	testMetadata = "Metadata-Version: 2.1\n" +
		"Name: demo-pkg\n" +
		"Version: 1.0\n" +
		"Summary: a demo package\n"

	testWheel = "Wheel-Version: 1.0\n" +
		"Generator: editwheel-test\n" +
		"Root-Is-Purelib: true\n" +
		"Tag: py3-none-any\n"
)

// buildWheel assembles a minimal in-memory wheel with one payload module,
// METADATA, WHEEL, and a RECORD whose hashes and sizes are computed from the
// content actually written, so validation of the built fixture itself
// succeeds.
func buildWheel(t *testing.T) []byte {
	t.Helper()

	members := []struct {
		name    string
		content string
	}{
		{"demo_pkg/__init__.py", "# demo package\n"},
		{"demo_pkg/lib.py", "def hello():\n    return 'hi'\n"},
		{testPrefix + "/METADATA", testMetadata},
		{testPrefix + "/WHEEL", testWheel},
	}

	var recordLines bytes.Buffer
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.content))
		require.NoError(t, err)

		hash := wheelhash.Bytes([]byte(m.content))
		size := strconv.Itoa(len(m.content))
		recordLines.WriteString(m.name + "," + hash + "," + size + "\n")
	}
	recordLines.WriteString(testPrefix + "/RECORD,,\n")

	w, err := zw.Create(testPrefix + "/RECORD")
	require.NoError(t, err)
	_, err = w.Write(recordLines.Bytes())
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestOpenReadsDescriptors(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)

	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, testPrefix, arc.DistInfoPrefix)
	require.Equal(t, "demo-pkg", arc.Metadata.Name)
	require.Equal(t, "1.0", arc.Metadata.Version)
	require.Len(t, arc.Wheel.Tags, 1)
	require.Equal(t, "py3", arc.Wheel.Tags[0].Python)
}

func TestOpenRejectsMultipleDistInfoDirs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{
		"a-1.0.dist-info/METADATA",
		"b-1.0.dist-info/METADATA",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("Name: x\nVersion: 1\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	_, err := wheel.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.Error(t, err)
}

func TestValidatePassesOnIntactArchive(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	result, err := wheel.Validate(arc, arc.Record)
	require.NoError(t, err)
	require.True(t, result.IsValid(), "%v", result.Findings)
}

func TestValidateFlagsHashMismatch(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	tampered := arc.Record
	tampered.Entries[0].Hash = "sha256=not-the-real-hash"

	result, err := wheel.Validate(arc, tampered)
	require.NoError(t, err)
	require.False(t, result.IsValid())
	require.Equal(t, wheel.HashMismatch, result.Findings[0].Kind)
}

// TestWriteIdentityRepackPreservesPayload repacks a wheel with no edits and
// checks that the payload members carried over via raw passthrough are
// byte-identical to the source. METADATA and RECORD are always regenerated
// (Serialize is round-trippable, not byte-preserving), so the dist-info
// files are deliberately excluded from this comparison.
func TestWriteIdentityRepackPreservesPayload(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var out bytes.Buffer
	err = wheel.Write(&out, wheel.WriteParams{
		Source:      arc,
		NewMetadata: arc.Metadata,
		OrigRecord:  arc.Record,
		OldPrefix:   arc.DistInfoPrefix,
		NewPrefix:   arc.DistInfoPrefix,
		Patched:     map[string][]byte{},
	})
	require.NoError(t, err)

	reopened, err := wheel.Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)

	result, err := wheel.Validate(reopened, reopened.Record)
	require.NoError(t, err)
	require.True(t, result.IsValid(), "%v", result.Findings)

	for _, name := range []string{"demo_pkg/__init__.py", "demo_pkg/lib.py"} {
		origContent := readMember(t, arc, name)
		newContent := readMember(t, reopened, name)
		require.Equal(t, origContent, newContent, "member %s", name)
	}
}

// TestWriteIsDeterministic repacks the same source twice and checks the two
// outputs have the same member listing and the same member contents and
// attributes, including the freshly generated METADATA and RECORD members --
// both runs see the same inputs and the same reproducible.Now() epoch, so
// nothing should vary between them.
func TestWriteIsDeterministic(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	params := wheel.WriteParams{
		Source:      arc,
		NewMetadata: arc.Metadata,
		OrigRecord:  arc.Record,
		OldPrefix:   arc.DistInfoPrefix,
		NewPrefix:   arc.DistInfoPrefix,
		Patched:     map[string][]byte{},
	}

	var out1, out2 bytes.Buffer
	require.NoError(t, wheel.Write(&out1, params))
	require.NoError(t, wheel.Write(&out2, params))

	testutil.AssertEqualWheels(t, out1.Bytes(), out2.Bytes())
}

func readMember(t *testing.T, arc *wheel.Archive, name string) []byte {
	t.Helper()
	rc, err := arc.Open(name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	return content
}

func TestWriteRenamesDistInfoOnVersionBump(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	newMeta := *arc.Metadata
	newMeta.Version = "2.0"
	newPrefix := "demo_pkg-2.0.dist-info"

	var out bytes.Buffer
	err = wheel.Write(&out, wheel.WriteParams{
		Source:      arc,
		NewMetadata: &newMeta,
		OrigRecord:  arc.Record,
		OldPrefix:   arc.DistInfoPrefix,
		NewPrefix:   newPrefix,
		Patched:     map[string][]byte{},
	})
	require.NoError(t, err)

	reopened, err := wheel.Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)
	require.Equal(t, newPrefix, reopened.DistInfoPrefix)
	require.Equal(t, "2.0", reopened.Metadata.Version)

	for _, name := range reopened.Files() {
		require.NotContains(t, name, arc.DistInfoPrefix)
	}

	result, err := wheel.Validate(reopened, reopened.Record)
	require.NoError(t, err)
	require.True(t, result.IsValid(), "%v", result.Findings)
}

func TestWriteRewritesWheelDescriptorWhenDirty(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	dirtyWheel := *arc.Wheel
	dirtyWheel.SetPlatform("manylinux2014_x86_64")

	var out bytes.Buffer
	err = wheel.Write(&out, wheel.WriteParams{
		Source:             arc,
		NewMetadata:        arc.Metadata,
		OrigRecord:         arc.Record,
		OldPrefix:          arc.DistInfoPrefix,
		NewPrefix:          arc.DistInfoPrefix,
		Patched:            map[string][]byte{},
		NewWheelDescriptor: &dirtyWheel,
	})
	require.NoError(t, err)

	reopened, err := wheel.Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)
	platform, ok := reopened.Wheel.Platform()
	require.True(t, ok)
	require.Equal(t, "manylinux2014_x86_64", platform)
}

func TestWritePatchedMemberUpdatesRecordHash(t *testing.T) {
	t.Parallel()
	data := buildWheel(t)
	arc, err := wheel.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	replacement := []byte("def hello():\n    return 'patched'\n")
	var out bytes.Buffer
	err = wheel.Write(&out, wheel.WriteParams{
		Source:      arc,
		NewMetadata: arc.Metadata,
		OrigRecord:  arc.Record,
		OldPrefix:   arc.DistInfoPrefix,
		NewPrefix:   arc.DistInfoPrefix,
		Patched:     map[string][]byte{"demo_pkg/lib.py": replacement},
	})
	require.NoError(t, err)

	reopened, err := wheel.Open(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)

	rc, err := reopened.Open("demo_pkg/lib.py")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	_ = rc.Close()
	require.NoError(t, err)
	require.Equal(t, replacement, content)

	result, err := wheel.Validate(reopened, reopened.Record)
	require.NoError(t, err)
	require.True(t, result.IsValid(), "%v", result.Findings)
}
