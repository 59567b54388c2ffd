// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datawire/editwheel/pkg/editor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "validate WHEELFILE",
		Short: "Check a wheel's RECORD against its actual members",
		Long: "Reports every member whose hash disagrees with RECORD, every member\n" +
			"RECORD lists but the archive is missing, and every archive member RECORD\n" +
			"does not account for. Exits non-zero if any such finding exists.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ed, err := editor.Open(args[0])
			if err != nil {
				return err
			}
			result, err := ed.Validate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range result.Findings {
				fmt.Fprintln(out, f.String())
			}
			if !result.IsValid() {
				return result
			}
			fmt.Fprintln(out, "OK")
			return nil
		},
	}
	argparser.AddCommand(cmd)
}
