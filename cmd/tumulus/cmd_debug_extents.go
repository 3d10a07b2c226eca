package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tumulus/tumulus/internal/extent"
	"github.com/tumulus/tumulus/internal/rangereader"
)

var debugExtentsBufferSize int

var cmdDebugExtents = &cobra.Command{
	Use:   "debug-extents PATH...",
	Short: "Print each path's raw range-reader output and resulting subchunk list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDebugExtents,
}

func init() {
	f := cmdDebugExtents.Flags()
	f.IntVar(&debugExtentsBufferSize, "buffer-size", 0, "range-reader kernel query buffer size in bytes (default rangereader.DefaultBufferSize)")
	cmdRoot.AddCommand(cmdDebugExtents)
}

func runDebugExtents(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var rrOpts []rangereader.Option
	if debugExtentsBufferSize > 0 {
		rrOpts = append(rrOpts, rangereader.WithBufferSize(debugExtentsBufferSize))
	}
	rr := rangereader.New(rrOpts...)

	for _, path := range args {
		fmt.Fprintf(out, "%s\n", path)

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}

		var fsExtent uint32
		for dr, err := range rr.ReadRanges(f, fi.Size()) {
			if err != nil {
				f.Close()
				return err
			}

			fmt.Fprintf(out, "  range offset=%d length=%d hole=%v shared=%v\n", dr.Offset, dr.Length, dr.Hole, dr.Shared)

			var data []byte
			if !dr.Hole {
				data = make([]byte, dr.Length)
				if _, err := f.ReadAt(data, int64(dr.Offset)); err != nil {
					f.Close()
					return err
				}
			}
			for _, sub := range extent.Split(dr, data, fsExtent) {
				fmt.Fprintf(out, "    subchunk offset=%d length=%d id=%s\n", sub.Offset, sub.Length, sub.ID)
			}
			fsExtent++
		}

		f.Close()
	}
	return nil
}
