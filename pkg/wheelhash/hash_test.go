// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheelhash_test

import (
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"

	"github.com/datawire/editwheel/pkg/testutil"
	"github.com/datawire/editwheel/pkg/wheelhash"
)

func TestBytesFormat(t *testing.T) {
	t.Parallel()
	h := wheelhash.Bytes([]byte("Hello, World!"))
	require.True(t, strings.HasPrefix(h, "sha256="))
	require.False(t, strings.Contains(strings.TrimPrefix(h, "sha256="), "="))
}

func TestStreamMatchesBytes(t *testing.T) {
	t.Parallel()
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := wheelhash.Bytes(data)
	got, err := wheelhash.Stream(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStreamWithSize(t *testing.T) {
	t.Parallel()
	data := []byte("the quick brown fox jumps over the lazy dog")
	hash, size, err := wheelhash.StreamWithSize(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, wheelhash.Bytes(data), hash)
	require.Equal(t, int64(len(data)), size)
}

func TestHashFormatInvariant(t *testing.T) {
	t.Parallel()
	testutil.QuickCheck(t, func(b []byte) bool {
		h := wheelhash.Bytes(b)
		if !strings.HasPrefix(h, "sha256=") {
			return false
		}
		return !strings.Contains(strings.TrimPrefix(h, "sha256="), "=")
	}, quick.Config{MaxCount: 200})
}
