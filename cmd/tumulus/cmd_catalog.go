package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/machine"
	"github.com/tumulus/tumulus/internal/snapshot"
	"github.com/tumulus/tumulus/internal/treehash"
)

// protocolVersion is recorded in every catalog's metadata table and
// bumped whenever the on-disk schema changes incompatibly.
const protocolVersion = 1

// catalogNamespace seeds the deterministic UUID a catalog is filed
// under: the same tree hash always derives the same catalog id, so
// re-running `catalog` against an unchanged source tree produces a
// catalog that resumes the same upload session instead of starting a
// fresh one.
var catalogNamespace = uuid.MustParse("6f6d6c75-7475-6d75-6c75-732e69640001")

var catalogCompress bool
var catalogWorkers int
var catalogBufferSize int
var catalogSkipMachineCheck bool

var cmdCatalog = &cobra.Command{
	Use:   "catalog SOURCE OUTPUT",
	Short: "Walk SOURCE and write a content-addressed catalog to OUTPUT",
	Args:  cobra.ExactArgs(2),
	RunE:  runCatalog,
}

func init() {
	f := cmdCatalog.Flags()
	f.BoolVar(&catalogCompress, "compress", true, "zstd-compress the written catalog")
	f.IntVar(&catalogWorkers, "workers", 0, "number of files processed concurrently (default GOMAXPROCS)")
	f.IntVar(&catalogBufferSize, "buffer-size", 0, "range-reader kernel query buffer size in bytes (default rangereader.DefaultBufferSize)")
	f.BoolVar(&catalogSkipMachineCheck, "skip-machine-check", false, "don't fail if the machine id can't be determined")
	cmdRoot.AddCommand(cmdCatalog)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	source, out := args[0], args[1]

	ctx := cmd.Context()
	result, err := snapshot.Walk(ctx, snapshot.Options{
		Root:            source,
		Workers:         catalogWorkers,
		RangeBufferSize: catalogBufferSize,
		OnError:         snapshot.SkipWithWarning,
	})
	if err != nil {
		return err
	}
	if result.Skipped > 0 && !globalOpts.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped %d entries that could not be read\n", result.Skipped)
	}

	tree := treehash.Compute(result.Files)
	id := uuid.NewSHA1(catalogNamespace, tree.Bytes())

	machineID, err := machine.ID()
	if err != nil {
		if !catalogSkipMachineCheck {
			return err
		}
		machineID = ""
	}

	meta := catalog.Metadata{
		Protocol: protocolVersion,
		ID:       id.String(),
		Machine:  machineID,
		Tree:     tree.String(),
		Created:  nowMillis(),
	}

	stats, err := catalog.Write(out, meta, result.Files)
	if err != nil {
		return err
	}

	if catalogCompress {
		if err := catalog.Compress(out, catalog.DefaultCompressionLevel); err != nil {
			return err
		}
	}

	if !globalOpts.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "catalog %s: %d files, %d unique extents, dedup ratio %.2f\n",
			id, stats.FileCount, stats.UniqueExtents, stats.DedupRatio)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
