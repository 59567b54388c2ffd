// Command editwheel edits Python wheel archives in place: metadata,
// platform tags, and ELF RPATH/RUNPATH, without decompressing unchanged
// payload members.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/editwheel/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "editwheel {[flags]|SUBCOMMAND...}",
	Short: "Edit Python wheel archives without decompressing unchanged payload",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
}

func main() {
	ctx := context.Background()

	if err := argparser.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
