package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptlane/promptlane/api"
	"github.com/promptlane/promptlane/internal/store"
)

var (
	openStore = store.Open
	newServer = api.NewServer
	runServer = (*api.Server).Run
)

func newServeCmd(st *cliState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadState(st)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			stor, err := openStore(st.cfg)
			if err != nil {
				return fmt.Errorf("serve: open store: %w", err)
			}
			defer stor.Close()

			srv, err := newServer(st.cfg, stor, newExecutor(st.cfg))
			if err != nil {
				return err
			}

			listen := strings.TrimSpace(addr)
			if listen == "" {
				listen = st.cfg.Server.Addr
			}
			return runServer(srv, listen)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	return cmd
}
