// ABOUTME: health and markers commands that query a running mapfeed server
// ABOUTME: Renders the marker snapshot as a table or raw JSON

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/2389/mapfeed/internal/markers"
)

// get issues a GET and returns the response when it is 200.
func get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}
	return resp, nil
}

// handleErrorResponse extracts error message from non-200 responses.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.Header.Get("Content-Type") == "application/json" {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var server string
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.serverURL(server)
			if err != nil {
				return err
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}
			resp, err := get(cmd.Context(), base+path)
			if err != nil {
				return fmt.Errorf("unhealthy: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if ready {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config server.http_addr)")
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness instead of liveness")
	return cmd
}

func newMarkersCmd(opts *rootOptions) *cobra.Command {
	var server string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Print the current markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.serverURL(server)
			if err != nil {
				return err
			}
			ms, raw, err := fetchMarkers(cmd.Context(), base)
			if err != nil {
				return err
			}
			if asJSON {
				_, err := cmd.OutOrStdout().Write(raw)
				return err
			}
			renderMarkers(cmd.OutOrStdout(), ms)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config server.http_addr)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON snapshot")
	return cmd
}

func fetchMarkers(ctx context.Context, base string) ([]markers.Marker, []byte, error) {
	resp, err := get(ctx, base+"/api/markers")
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading markers: %w", err)
	}
	var ms []markers.Marker
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, nil, fmt.Errorf("decoding markers: %w", err)
	}
	return ms, raw, nil
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderMarkers(w io.Writer, ms []markers.Marker) {
	if len(ms) == 0 {
		fmt.Fprintln(w, "No markers.")
		return
	}
	table := newTable(w, []string{"ID", "Name", "Lat", "Lon", "Link"})
	table.AppendBulk(lo.Map(ms, func(m markers.Marker, _ int) []string {
		return []string{
			strconv.Itoa(m.ID),
			m.Name,
			strconv.FormatFloat(m.Coords.Lat, 'f', 5, 64),
			strconv.FormatFloat(m.Coords.Lon, 'f', 5, 64),
			m.LinkOrEmpty(),
		}
	}))
	table.Render()
}
