package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tumulus/tumulus/internal/objectstore"
	"github.com/tumulus/tumulus/internal/server"
	"github.com/tumulus/tumulus/internal/uploadstate"
)

var serveAddr string
var serveDataDir string

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the tumulus server API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := cmdServe.Flags()
	f.StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	f.StringVar(&serveDataDir, "data", "./tumulus-data", "directory holding the object store and upload-state database")
	cmdRoot.AddCommand(cmdServe)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := objectstore.New(serveDataDir)
	if err != nil {
		return err
	}
	state, err := uploadstate.Open(filepath.Join(serveDataDir, "upload-state.sqlite"))
	if err != nil {
		return err
	}
	defer state.Close()

	srv := server.New(store, state)

	if !globalOpts.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s, data dir %s\n", serveAddr, serveDataDir)
	}

	httpServer := &http.Server{
		Addr:    serveAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-cmd.Context().Done()
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
