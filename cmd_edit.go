// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datawire/editwheel/pkg/editor"
)

func init() {
	var (
		output       string
		newName      string
		newVersion   string
		newSummary   string
		classifiers  []string
		requiresDist []string
		platform     string
		rpathGlobs   []string
		runpathGlobs []string
	)

	cmd := &cobra.Command{
		Use:   "edit WHEELFILE [flags]",
		Short: "Apply metadata, tag, and RPATH edits to a wheel",
		Long: "Opens WHEELFILE, applies every requested edit, and saves the result.\n" +
			"Each --rpath/--runpath flag takes the form GLOB=VALUE and is applied to\n" +
			"every archive member matching GLOB that is an ELF shared object; non-ELF\n" +
			"matches are skipped with a warning rather than aborting the whole edit.\n" +
			"If --output is omitted, the wheel is edited in place (written to a sibling\n" +
			"file, then renamed over the original).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wheelfile := args[0]
			ctx := cmd.Context()

			ed, err := editor.Open(wheelfile)
			if err != nil {
				return err
			}

			if newName != "" {
				ed.SetName(newName)
			}
			if newVersion != "" {
				ed.SetVersion(newVersion)
			}
			if newSummary != "" {
				ed.SetSummary(newSummary)
			}
			for _, c := range classifiers {
				ed.AddClassifier(c)
			}
			for _, r := range requiresDist {
				ed.AddRequiresDist(r)
			}
			if platform != "" {
				ed.SetPlatform(platform)
			}
			for _, spec := range rpathGlobs {
				glob, value, err := splitGlobValue(spec)
				if err != nil {
					return err
				}
				if err := ed.SetRPath(ctx, glob, false, value); err != nil {
					return err
				}
			}
			for _, spec := range runpathGlobs {
				glob, value, err := splitGlobValue(spec)
				if err != nil {
					return err
				}
				if err := ed.SetRPath(ctx, glob, true, value); err != nil {
					return err
				}
			}

			return saveEditor(ed, wheelfile, output)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&output, "output", "", "output path (default: edit in place)")
	flags.StringVar(&newName, "name", "", "set the distribution name")
	flags.StringVar(&newVersion, "version", "", "set the distribution version")
	flags.StringVar(&newSummary, "summary", "", "set the Summary header")
	flags.StringArrayVar(&classifiers, "classifier", nil, "append a Classifier header (repeatable)")
	flags.StringArrayVar(&requiresDist, "requires-dist", nil, "append a Requires-Dist header (repeatable)")
	flags.StringVar(&platform, "platform", "", "set the platform component of every WHEEL tag")
	flags.StringArrayVar(&rpathGlobs, "rpath", nil, "GLOB=VALUE: set DT_RPATH on matching ELF members (repeatable)")
	flags.StringArrayVar(&runpathGlobs, "runpath", nil, "GLOB=VALUE: set DT_RUNPATH on matching ELF members (repeatable)")

	argparser.AddCommand(cmd)
}

func splitGlobValue(spec string) (glob, value string, err error) {
	glob, value, ok := strings.Cut(spec, "=")
	if !ok {
		return "", "", fmt.Errorf("expected GLOB=VALUE, got %q", spec)
	}
	return glob, value, nil
}

// saveEditor writes ed's edits to output, or in place (via a sibling
// temporary file and rename) when output is empty.
func saveEditor(ed *editor.Editor, wheelfile, output string) error {
	if output != "" {
		return ed.Save(output)
	}

	tmp := wheelfile + ".editwheel.tmp"
	if err := ed.Save(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	abs, err := filepath.Abs(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(abs, wheelfile)
}
