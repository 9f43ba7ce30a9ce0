// ABOUTME: Root cobra command and shared config/flag helpers for the mapfeed CLI
// ABOUTME: Resolves the config path from --config, MAPFEED_CONFIG or the XDG default

package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/mapfeed/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "mapfeed",
		Short: "Chat-driven incident map with a realtime marker feed",
		Long: `mapfeed turns forwarded channel posts into map markers.

Operators forward a post to the bot, name the place, and every connected
map client receives the new marker over SSE or WebSocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $MAPFEED_CONFIG or ~/.config/mapfeed/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newMarkersCmd(opts),
		newWatchCmd(opts),
		newJournalCmd(opts),
	)
	return root
}

// load reads .env, then the resolved config file.
func (o *rootOptions) load() (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	path := config.ResolvePath(o.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// serverURL returns the --server value, or the local address from config.
func (o *rootOptions) serverURL(flagValue string) (string, error) {
	if flagValue != "" {
		return strings.TrimSuffix(flagValue, "/"), nil
	}
	cfg, _, err := o.load()
	if err != nil {
		return "", err
	}
	return localURL(cfg.Server.HTTPAddr), nil
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
