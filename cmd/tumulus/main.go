package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	Quiet   bool
	Verbose bool

	stderr *os.File
}

var globalOpts = globalOptions{stderr: os.Stderr}

var cmdRoot = &cobra.Command{
	Use:   "tumulus",
	Short: "Deduplicating, content-addressed backup pipeline",
	Long: `
tumulus builds content-addressed catalogs from a directory tree, uploads them
to a tumulus server over a resumable protocol, and compares catalogs to
decide what changed between two snapshots.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(c *cobra.Command, _ []string) error {
		if globalOpts.Quiet && globalOpts.Verbose {
			return errors.Fatal("--quiet and --verbose cannot be specified at the same time")
		}
		return nil
	},
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "suppress progress output")
	f.BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "verbose output (conflicts with --quiet; no command prints extra output for it)")
}

func main() {
	debug.Log("main %#v", os.Args)
	debug.Log("tumulus compiled with %v on %v/%v", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext()
	err := cmdRoot.ExecuteContext(ctx)

	exitCode := 0
	switch {
	case err == nil:
		exitCode = 0
	case errors.IsFatal(err):
		fmt.Fprintln(globalOpts.stderr, err.Error())
		exitCode = 1
	case err != nil:
		fmt.Fprintf(globalOpts.stderr, "%+v\n", err)
		exitCode = 1
	}

	Exit(exitCode)
}
