// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheelhash computes the RECORD-format content hashes used by Python
// wheels: SHA-256, base64url-encoded without padding, prefixed "sha256=".
package wheelhash

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
)

const bufSize = 32 * 1024 // comfortably above a 4 KiB minimum chunk size

// Bytes hashes b in memory.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return format(sum[:])
}

// Stream hashes r without requiring its size up front, reading in buffered
// chunks.
func Stream(r io.Reader) (string, error) {
	hash, _, err := StreamWithSize(r)
	return hash, err
}

// StreamWithSize hashes r and also returns the number of bytes read, so
// callers that need both (e.g. a fresh RECORD entry) can do it in one pass.
func StreamWithSize(r io.Reader) (hash string, size int64, err error) {
	h := sha256.New()
	buf := make([]byte, bufSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", 0, err
	}
	return format(h.Sum(nil)), n, nil
}

func format(digest []byte) string {
	return "sha256=" + base64.RawURLEncoding.EncodeToString(digest)
}
