// ABOUTME: watch command that follows the realtime marker feed over SSE
// ABOUTME: Prints each add, remove and replace event as it arrives

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mapfeed/internal/feed"
)

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	Type string
	Data string
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var server, output string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream marker events from a running server",
		Long: `Stream marker events as they are committed.

Output Formats:
  default - one human-readable line per event
  json    - line-delimited JSON, exactly as sent by the server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "default" && output != "json" {
				return fmt.Errorf("unknown output format %q (want default or json)", output)
			}
			base, err := opts.serverURL(server)
			if err != nil {
				return err
			}

			resp, err := get(cmd.Context(), base+"/api/feed")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			err = parseSSEStream(cmd.Context(), resp.Body, func(ev sseEvent) error {
				if output == "json" {
					_, err := fmt.Fprintln(out, ev.Data)
					return err
				}
				return printEvent(out, ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config server.http_addr)")
	cmd.Flags().StringVarP(&output, "output", "o", "default", "output format (default or json)")
	return cmd
}

// parseSSEStream reads SSE events from body until it ends or ctx is done.
// Comment lines are skipped.
func parseSSEStream(ctx context.Context, body io.Reader, onEvent func(sseEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				if err := onEvent(sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	return nil
}

func printEvent(w io.Writer, ev sseEvent) error {
	ts := color.HiBlackString(time.Now().Format("15:04:05"))

	var fe feed.Event
	if err := json.Unmarshal([]byte(ev.Data), &fe); err != nil {
		_, err := fmt.Fprintf(w, "%s %s %s\n", ts, color.YellowString(ev.Type), ev.Data)
		return err
	}

	switch fe.Kind {
	case feed.KindAdd:
		m := fe.Marker
		_, err := fmt.Fprintf(w, "%s %s #%d %s (%s) %s\n", ts, color.GreenString("add    "), m.ID, m.Name, m.Coords, m.LinkOrEmpty())
		return err
	case feed.KindRemove:
		m := fe.Marker
		_, err := fmt.Fprintf(w, "%s %s #%d (%s)\n", ts, color.RedString("remove "), m.ID, m.Coords)
		return err
	case feed.KindReplace:
		_, err := fmt.Fprintf(w, "%s %s %d markers\n", ts, color.CyanString("replace"), len(fe.Markers))
		return err
	}
	return nil
}
