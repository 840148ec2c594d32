package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/ledger"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List files uploaded from this machine",
		Long: `List the local files this machine has uploaded, most recent first. The
list comes from the local upload ledger and does not contact Drive.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "show at most this many uploads")

	return cmd
}

// historyEntryJSON is the JSON schema for one `history --json` entry.
type historyEntryJSON struct {
	ledger.Entry
	URL string `json:"url"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	led, err := ledger.Open(cmd.Context(), cc.Cfg.LedgerPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	entries, err := led.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printHistoryJSON(cc.Out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No uploads recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.UploadedAt),
			formatSize(e.Size),
			e.Path,
			drive.StreamURL(drive.MediaID(e.MediaID)),
		})
	}

	if isTerminal(cc.Out) {
		printTable(cc.Out, []string{"UPLOADED", "SIZE", "PATH", "URL"}, rows)
		return nil
	}

	printTSV(cc.Out, rows)

	return nil
}

func printHistoryJSON(w io.Writer, entries []ledger.Entry) error {
	out := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryJSON{Entry: e, URL: drive.StreamURL(drive.MediaID(e.MediaID))})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
