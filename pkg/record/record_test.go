// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package record_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datawire/editwheel/pkg/record"
)

const sample = "test_package/__init__.py,sha256=abc123,100\n" +
	"test_package-1.0.0.dist-info/METADATA,sha256=def456,200\n" +
	"test_package-1.0.0.dist-info/RECORD,,\n"

func TestParse(t *testing.T) {
	t.Parallel()
	rec, err := record.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, rec.Entries, 3)
	require.Equal(t, "test_package/__init__.py", rec.Entries[0].Path)
	require.Equal(t, "sha256=abc123", rec.Entries[0].Hash)
	require.Equal(t, int64(100), rec.Entries[0].Size)
	require.True(t, rec.Entries[0].HasSize)

	last := rec.Entries[2]
	require.Equal(t, "", last.Hash)
	require.False(t, last.HasSize)
}

func TestFind(t *testing.T) {
	t.Parallel()
	rec, err := record.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	e, ok := rec.Find("test_package/__init__.py")
	require.True(t, ok)
	require.Equal(t, int64(100), e.Size)

	_, ok = rec.Find("nonexistent")
	require.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	rec, err := record.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rec.Serialize(&buf))
	require.NotContains(t, buf.String(), ",0\n", "absent size must not serialize as 0")

	reparsed, err := record.Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, rec.Entries, reparsed.Entries)
}
