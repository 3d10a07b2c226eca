package main

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/tumulus/tumulus/internal/upload"
)

var uploadServer string
var uploadOverrideSource string
var uploadID string
var uploadSkipMachineCheck bool

var cmdUpload = &cobra.Command{
	Use:   "upload CATALOG",
	Short: "Upload a catalog (and its missing extents) to a tumulus server",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	f := cmdUpload.Flags()
	f.StringVar(&uploadServer, "server", "", "base URL of the tumulus server (required)")
	f.StringVar(&uploadOverrideSource, "override-source", "", "root directory that the catalog's relative paths are read from (default: the current directory)")
	f.StringVar(&uploadID, "id", "", "session id to resume (defaults to the id recorded in the catalog's metadata)")
	f.BoolVar(&uploadSkipMachineCheck, "skip-machine-check", false, "skip comparing the catalog's machine id with this host (a mismatch otherwise only prints a warning)")
	_ = cmdUpload.MarkFlagRequired("server")
	cmdRoot.AddCommand(cmdUpload)
}

func runUpload(cmd *cobra.Command, args []string) error {
	catalogPath := args[0]

	id := uploadID
	sourceRoot := uploadOverrideSource

	meta, err := readCatalogMetadata(catalogPath)
	if err != nil {
		return err
	}
	if id == "" {
		id = meta.ID
	}
	if sourceRoot == "" {
		sourceRoot = "."
	}

	if err := checkMachine(meta.Machine, uploadSkipMachineCheck); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Minute

	client := upload.New(uploadServer)
	result, err := client.Upload(cmd.Context(), upload.Options{
		ID:          id,
		CatalogPath: catalogPath,
		SourceRoot:  sourceRoot,
		Backoff:     bo,
	})
	if err != nil {
		if changed, ok := err.(*upload.IdChanged); ok {
			return fmt.Errorf("catalog id %s is already in use with different content; retry with --id %s", changed.Requested, changed.Assigned)
		}
		return err
	}

	if !globalOpts.Quiet {
		verb := "uploaded"
		if result.Resumed {
			verb = "resumed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s catalog %s, sent %d extents\n", verb, result.ID, result.ExtentsSent)
	}
	return nil
}
