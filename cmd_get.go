// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datawire/editwheel/pkg/editor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get WHEELFILE FIELD",
		Short: "Print a METADATA or WHEEL field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wheelfile, field := args[0], args[1]
			ed, err := editor.Open(wheelfile)
			if err != nil {
				return err
			}
			values, err := getField(ed, field)
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	argparser.AddCommand(cmd)
}

func getField(ed *editor.Editor, field string) ([]string, error) {
	md := ed.Metadata()
	switch strings.ToLower(field) {
	case "name":
		return []string{md.Name}, nil
	case "version":
		return []string{md.Version}, nil
	case "summary":
		return []string{md.Summary}, nil
	case "home-page":
		return []string{md.HomePage}, nil
	case "author":
		return []string{md.Author}, nil
	case "license":
		return []string{md.License}, nil
	case "requires-python":
		return []string{md.RequiresPython}, nil
	case "classifier":
		return md.Classifier, nil
	case "requires-dist":
		return md.RequiresDist, nil
	case "platform":
		p, ok := ed.Wheel().Platform()
		if !ok {
			return nil, nil
		}
		return []string{p}, nil
	default:
		if vs, ok := md.Extra[field]; ok {
			return vs, nil
		}
		for k, vs := range md.Extra {
			if strings.EqualFold(k, field) {
				return vs, nil
			}
		}
		return nil, fmt.Errorf("unrecognized field %q", field)
	}
}
