// ABOUTME: journal command that prints recent marker mutations from the SQLite journal
// ABOUTME: Filters by action and marker id, newest first

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/2389/mapfeed/internal/journal"
)

func newJournalCmd(opts *rootOptions) *cobra.Command {
	var dbPath, action string
	var markerID, limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recent marker adds and removes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				dbPath = cfg.Database.Path
			}
			if dbPath == "" {
				return errors.New("journal is disabled (database.path is empty); pass --db")
			}

			filter := journal.Filter{Limit: limit}
			switch action {
			case "":
			case string(journal.ActionAdd), string(journal.ActionRemove):
				a := journal.Action(action)
				filter.Action = &a
			default:
				return fmt.Errorf("unknown action %q (want add or remove)", action)
			}
			if cmd.Flags().Changed("marker") {
				filter.MarkerID = &markerID
			}

			j, err := journal.Open(dbPath, nil)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("listing journal: %w", err)
			}
			renderJournal(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database (default from config database.path)")
	cmd.Flags().StringVar(&action, "action", "", "only show add or remove")
	cmd.Flags().IntVar(&markerID, "marker", 0, "only show this marker id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}

func renderJournal(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No journal entries.")
		return
	}
	table := newTable(w, []string{"Time", "Action", "Marker", "Name", "Lat", "Lon", "Actor", "Link"})
	table.AppendBulk(lo.Map(entries, func(e journal.Entry, _ int) []string {
		link := ""
		if e.Link != nil {
			link = *e.Link
		}
		return []string{
			e.Timestamp.Local().Format(time.DateTime),
			string(e.Action),
			strconv.Itoa(e.MarkerID),
			e.Name,
			strconv.FormatFloat(e.Lat, 'f', 5, 64),
			strconv.FormatFloat(e.Lon, 'f', 5, 64),
			e.Actor,
			link,
		}
	}))
	table.Render()
}
