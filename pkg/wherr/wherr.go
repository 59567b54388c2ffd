// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wherr defines the sentinel error kinds shared across the wheel
// editor's components. Call sites wrap one of these with
// fmt.Errorf("...: %w", ...) so that callers can recover the kind with
// errors.Is while still getting a specific message.
package wherr

import "errors"

var (
	// ErrIO wraps any filesystem or stream error.
	ErrIO = errors.New("i/o failure")

	// ErrArchive indicates a malformed or unreadable ZIP structure.
	ErrArchive = errors.New("archive failure")

	// ErrInvalidWheel indicates a structural problem with the wheel itself:
	// missing dist-info, multiple dist-infos, and similar.
	ErrInvalidWheel = errors.New("invalid wheel")

	// ErrMetadataParse indicates a missing required field or malformed
	// header in METADATA.
	ErrMetadataParse = errors.New("metadata parse error")

	// ErrRecordParse indicates malformed CSV or an internally inconsistent
	// row in RECORD.
	ErrRecordParse = errors.New("record parse error")

	// ErrWheelDescriptorParse indicates a missing required field or
	// malformed tag in WHEEL.
	ErrWheelDescriptorParse = errors.New("wheel descriptor parse error")

	// ErrELF indicates an invalid ELF image, an unsupported architecture,
	// or a failed patch.
	ErrELF = errors.New("elf error")

	// ErrGlobPattern indicates a glob pattern failed to compile.
	ErrGlobPattern = errors.New("glob pattern error")
)
