// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package metadata parses and serializes the PEP 566 METADATA file found in
// a wheel's dist-info directory: RFC 822–style headers (with continuation
// lines and repeated multi-valued headers) followed by a free-form
// description body.
package metadata

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/datawire/editwheel/pkg/wherr"
)

// Metadata is a structured view of a wheel's METADATA file.
type Metadata struct {
	MetadataVersion string
	Name            string
	Version         string

	Summary                string
	DescriptionContentType string
	HomePage               string
	DownloadURL            string
	Author                 string
	AuthorEmail            string
	Maintainer             string
	MaintainerEmail        string
	License                string
	Keywords               string
	RequiresPython         string

	Classifier       []string
	Platform         []string
	RequiresDist     []string
	RequiresExternal []string
	ProjectURL       []string
	ProvidesExtra    []string
	ProvidesDist     []string
	ObsoletesDist    []string

	// Extra holds headers not recognized above, keyed exactly as written in
	// the file (original casing preserved), values in original order.
	Extra map[string][]string

	// Description is the free-form body. The serializer always emits it
	// as the body following a blank line, never as a "Description:" header.
	Description string
}

// Parse reads a full METADATA file. The header section runs up to the first
// blank line; the remainder is the description body. Header lines beginning
// with a space or tab continue the previous header: the continuation is
// joined to the accumulating value with a newline, not folded away, so a
// multi-line header's internal line breaks survive.
//
// The scanner is hand-rolled rather than handed to net/textproto, whose
// ReadMIMEHeader both folds continuations with a single space (losing the
// newline) and canonicalizes keys (losing an unrecognized header's original
// casing before it can be preserved in Extra) -- same shape as the line-at-a-
// time scanner in pkg/wheelinfo, generalized for continuation lines and a
// case-insensitive alias match on the recognized field names.
func Parse(r io.Reader) (*Metadata, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wherr.ErrIO, err)
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	headerText, body := splitHeaderBody(text)

	m := &Metadata{Extra: map[string][]string{}}

	var key string
	var value strings.Builder
	haveField := false

	flush := func() {
		if !haveField {
			return
		}
		m.setField(key, value.String())
		haveField = false
		key = ""
		value.Reset()
	}

	for _, line := range strings.Split(headerText, "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && haveField {
			value.WriteByte('\n')
			value.WriteString(strings.TrimSpace(line))
			continue
		}
		flush()
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(k)
		value.WriteString(strings.TrimSpace(v))
		haveField = true
	}
	flush()

	if trimmed := strings.TrimSpace(body); trimmed != "" {
		m.Description = trimmed
	}

	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%w: missing field Name", wherr.ErrMetadataParse)
	}
	if strings.TrimSpace(m.Version) == "" {
		return nil, fmt.Errorf("%w: missing field Version", wherr.ErrMetadataParse)
	}

	return m, nil
}

// setField assigns value -- already joined across any continuation lines
// with "\n" -- to the recognized field matching key case-insensitively
// (covering aliases like "Home-page"/"Home-Page"), or appends to Extra
// keyed by key exactly as written in the file. A repeated single-valued
// field keeps its last occurrence; multi-valued fields accumulate in order.
func (m *Metadata) setField(key, value string) {
	switch strings.ToLower(key) {
	case "metadata-version":
		m.MetadataVersion = value
	case "name":
		m.Name = value
	case "version":
		m.Version = value
	case "summary":
		m.Summary = value
	case "description-content-type":
		m.DescriptionContentType = value
	case "home-page":
		m.HomePage = value
	case "download-url":
		m.DownloadURL = value
	case "author":
		m.Author = value
	case "author-email":
		m.AuthorEmail = value
	case "maintainer":
		m.Maintainer = value
	case "maintainer-email":
		m.MaintainerEmail = value
	case "license":
		m.License = value
	case "keywords":
		m.Keywords = value
	case "requires-python":
		m.RequiresPython = value
	case "classifier":
		m.Classifier = append(m.Classifier, value)
	case "platform":
		m.Platform = append(m.Platform, value)
	case "requires-dist":
		m.RequiresDist = append(m.RequiresDist, value)
	case "requires-external":
		m.RequiresExternal = append(m.RequiresExternal, value)
	case "project-url":
		m.ProjectURL = append(m.ProjectURL, value)
	case "provides-extra":
		m.ProvidesExtra = append(m.ProvidesExtra, value)
	case "provides-dist":
		m.ProvidesDist = append(m.ProvidesDist, value)
	case "obsoletes-dist":
		m.ObsoletesDist = append(m.ObsoletesDist, value)
	case "description":
		m.Description = value
	default:
		m.Extra[key] = append(m.Extra[key], value)
	}
}

// splitHeaderBody splits text at the first blank line. If no blank line is
// found, the entire text is the header section and the body is empty.
func splitHeaderBody(text string) (header, body string) {
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		return text[:idx], text[idx+2:]
	}
	return text, ""
}

// Serialize writes the METADATA file: the required triple, then optional
// single-valued fields in a fixed order, then multi-valued fields in the
// order fixed by the data model, then extras, then a blank line and the
// description body. Serialization is not required to be byte-identical to
// any particular input -- only semantically round-trippable.
func (m *Metadata) Serialize(w io.Writer) error {
	var b strings.Builder

	writeField(&b, "Metadata-Version", m.MetadataVersion)
	writeField(&b, "Name", m.Name)
	writeField(&b, "Version", m.Version)

	writeField(&b, "Summary", m.Summary)
	writeField(&b, "Description-Content-Type", m.DescriptionContentType)
	writeField(&b, "Home-page", m.HomePage)
	writeField(&b, "Download-URL", m.DownloadURL)
	writeField(&b, "Author", m.Author)
	writeField(&b, "Author-email", m.AuthorEmail)
	writeField(&b, "Maintainer", m.Maintainer)
	writeField(&b, "Maintainer-email", m.MaintainerEmail)
	writeField(&b, "License", m.License)
	writeField(&b, "Keywords", m.Keywords)
	writeField(&b, "Requires-Python", m.RequiresPython)

	writeFieldMulti(&b, "Classifier", m.Classifier)
	writeFieldMulti(&b, "Platform", m.Platform)
	writeFieldMulti(&b, "Requires-Dist", m.RequiresDist)
	writeFieldMulti(&b, "Requires-External", m.RequiresExternal)
	writeFieldMulti(&b, "Project-URL", m.ProjectURL)
	writeFieldMulti(&b, "Provides-Extra", m.ProvidesExtra)
	writeFieldMulti(&b, "Provides-Dist", m.ProvidesDist)
	writeFieldMulti(&b, "Obsoletes-Dist", m.ObsoletesDist)

	extraKeys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		writeFieldMulti(&b, k, m.Extra[k])
	}

	b.WriteString("\n")
	if m.Description != "" {
		b.WriteString(m.Description)
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	// Continuation lines are indented so that Parse joins them back.
	fmt.Fprintf(b, "%s: %s\n", key, strings.ReplaceAll(value, "\n", "\n "))
}

func writeFieldMulti(b *strings.Builder, key string, values []string) {
	for _, v := range values {
		fmt.Fprintf(b, "%s: %s\n", key, strings.ReplaceAll(v, "\n", "\n "))
	}
}
