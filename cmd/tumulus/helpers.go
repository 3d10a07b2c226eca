package main

import (
	"fmt"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/machine"
)

func readCatalogMetadata(path string) (catalog.Metadata, error) {
	return catalog.ReadMetadata(path)
}

// checkMachine warns, but never refuses, when a catalog's recorded
// machine id doesn't match the current host: the mismatch is
// informational and never gates the upload protocol's state machine
// (§6 --skip-machine-check). Passing skip opts out of even running the
// comparison.
func checkMachine(recorded string, skip bool) error {
	if skip || recorded == "" {
		return nil
	}
	if err := machine.Check(recorded); err != nil {
		fmt.Fprintf(globalOpts.stderr, "warning: %v\n", err)
	}
	return nil
}
