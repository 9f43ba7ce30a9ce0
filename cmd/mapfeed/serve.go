// ABOUTME: serve command that prints the startup banner and runs the gateway
// ABOUTME: Summarizes listeners, transports and the journal before blocking in Run

package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mapfeed/internal/config"
	"github.com/2389/mapfeed/internal/gateway"
)

const banner = `
                         __               _
 _ __ ___   __ _ _ __   / _| ___  ___  __| |
| '_ ' _ \ / _' | '_ \ | |_ / _ \/ _ \/ _' |
| | | | | | (_| | |_) ||  _|  __/  __/ (_| |
|_| |_| |_|\__,_| .__/ |_|  \___|\___|\__,_|
                |_|
`

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat transports and the map feed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			cyan.Fprint(out, banner)
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, path, err := opts.load()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging)
			printSummary(out, cfg, path)

			logger.Info("starting mapfeed",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"telegram", cfg.Telegram.Enabled,
				"matrix", cfg.Matrix.Enabled,
			)
			if !cfg.TransportsEnabled() {
				logger.Warn("no chat transports enabled; the feed will only serve the current snapshot")
			}

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printSummary(out io.Writer, cfg *config.Config, path string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s %s\n", label+":", value)
	}

	line("Config", path)
	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", "Tailscale:")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	} else {
		line("HTTP", cfg.Server.HTTPAddr)
	}
	if cfg.Server.StaticDir != "" {
		line("Static", cfg.Server.StaticDir)
	}

	transports := func(name string, on bool) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", name+":")
		if on {
			green.Fprintln(out, "enabled")
		} else {
			gray.Fprintln(out, "disabled")
		}
	}
	transports("Telegram", cfg.Telegram.Enabled)
	transports("Matrix", cfg.Matrix.Enabled)

	line("Links", cfg.Intake.LinkPolicy)
	if cfg.Database.Path != "" {
		line("Journal", cfg.Database.Path)
	} else {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", "Journal:")
		yellow.Fprintln(out, "off")
	}
	fmt.Fprintln(out)
}
