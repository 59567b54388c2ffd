// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheelinfo_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datawire/editwheel/pkg/wheelinfo"
)

const sample = `Wheel-Version: 1.0
Generator: bdist_wheel (0.40.0)
Root-Is-Purelib: false
Tag: cp311-cp311-linux_x86_64
`

func TestParse(t *testing.T) {
	t.Parallel()
	info, err := wheelinfo.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, "1.0", info.WheelVersion)
	require.Equal(t, "bdist_wheel (0.40.0)", info.Generator)
	require.False(t, info.RootIsPurelib)
	require.Len(t, info.Tags, 1)
	require.Equal(t, "linux_x86_64", info.Tags[0].Platform)
}

func TestParseMultipleTags(t *testing.T) {
	t.Parallel()
	const content = "Wheel-Version: 1.0\nRoot-Is-Purelib: true\nTag: py3-none-any\nTag: py2-none-any\n"
	info, err := wheelinfo.Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, info.Tags, 2)
	platform, ok := info.Platform()
	require.True(t, ok)
	require.Equal(t, "any", platform)
	require.Equal(t, "py2", info.Tags[1].Python)
}

func TestSetPlatform(t *testing.T) {
	t.Parallel()
	info, err := wheelinfo.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	info.SetPlatform("manylinux_2_28_x86_64")
	require.Equal(t, "manylinux_2_28_x86_64", info.Tags[0].Platform)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	info, err := wheelinfo.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, info.Serialize(&buf))

	reparsed, err := wheelinfo.Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, info.WheelVersion, reparsed.WheelVersion)
	require.Equal(t, info.Generator, reparsed.Generator)
	require.Equal(t, info.RootIsPurelib, reparsed.RootIsPurelib)
	require.Equal(t, info.Tags, reparsed.Tags)
}

func TestInvalidTag(t *testing.T) {
	t.Parallel()
	_, err := wheelinfo.ParseTag("only-two")
	require.Error(t, err)
}

func TestExpandAndIntersect(t *testing.T) {
	t.Parallel()
	a := wheelinfo.Tag{Python: "cp39.cp310", ABI: "abi3", Platform: "linux_x86_64"}
	require.Len(t, a.Expand(), 2)
	b := []wheelinfo.Tag{{Python: "cp310", ABI: "abi3", Platform: "linux_x86_64"}}
	require.True(t, wheelinfo.Intersect([]wheelinfo.Tag{a}, b))
}
