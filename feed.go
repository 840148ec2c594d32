package main

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/feed"
)

func newFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List the videos in the Drive folder",
		Long: `List the videos in the Drive folder in a random order. --seed makes the
order reproducible; --newest lists newest first instead.`,
		Args: cobra.NoArgs,
		RunE: runFeed,
	}

	cmd.Flags().String("tag", "", "only videos with a tag containing this text (case-insensitive)")
	cmd.Flags().Uint64("seed", 0, "shuffle seed (default random)")
	cmd.Flags().Bool("newest", false, "newest first instead of shuffled")
	cmd.Flags().Int("limit", 0, "show at most this many videos")

	cmd.MarkFlagsMutuallyExclusive("seed", "newest")

	return cmd
}

// feedItemJSON is the JSON schema for one `feed --json` entry.
type feedItemJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tags      []string  `json:"tags"`
	MimeType  string    `json:"mime_type"`
	URL       string    `json:"url"`
	WebView   string    `json:"web_view_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func runFeed(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	tag, _ := cmd.Flags().GetString("tag")
	tag = strings.TrimSpace(tag)
	newest, _ := cmd.Flags().GetBool("newest")
	limit, _ := cmd.Flags().GetInt("limit")

	var rng *rand.Rand

	if !newest {
		seed := rand.Uint64()
		if cmd.Flags().Changed("seed") {
			seed, _ = cmd.Flags().GetUint64("seed")
		}

		cc.Logger.Debug("shuffling feed", "seed", seed)
		rng = feed.NewRand(seed)
	}

	s, err := signedInSession(cc)
	if err != nil {
		return err
	}

	items, err := s.ListFeed(cmd.Context(), tag, rng)
	if err != nil {
		return err
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	if cc.Flags.JSON {
		return printFeedJSON(cc.Out, items)
	}

	if len(items) == 0 && isTerminal(cc.Out) {
		cc.Statusf("No videos.\n")
		return nil
	}

	printFeed(cc.Out, items, isTerminal(cc.Out))

	return nil
}

func printFeedJSON(w io.Writer, items []drive.MediaItem) error {
	out := make([]feedItemJSON, 0, len(items))

	for _, it := range items {
		out = append(out, feedItemJSON{
			ID:        string(it.ID),
			Name:      it.DisplayName,
			Tags:      it.Tags,
			MimeType:  it.MimeType,
			URL:       it.AccessURL,
			WebView:   it.WebViewURL,
			CreatedAt: it.CreatedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// printFeed writes an aligned table for terminals and tab-separated lines
// for pipes.
func printFeed(w io.Writer, items []drive.MediaItem, table bool) {
	rows := make([][]string, 0, len(items))

	for _, it := range items {
		rows = append(rows, []string{
			it.DisplayName,
			formatTags(it.Tags),
			formatTime(it.CreatedAt),
			it.AccessURL,
		})
	}

	if table {
		printTable(w, []string{"NAME", "TAGS", "CREATED", "URL"}, rows)
		return
	}

	printTSV(w, rows)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
