package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			store, err := sessions.NewStore(config.SessionStorePath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "session store open failed: %v\n", err)
				os.Exit(1)
			}
			list := store.List()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(map[string]any{"sessions": list})
				return
			}

			keys := make([]string, 0, len(list))
			for k := range list {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			printRow("SESSION", "MODEL", "UPDATED")
			for _, key := range keys {
				entry := list[key]
				model := entry.Model
				if entry.ModelOverride != "" {
					model = entry.ModelOverride + " (override)"
				}
				updated := "-"
				if entry.UpdatedAt > 0 {
					updated = time.UnixMilli(entry.UpdatedAt).Format("2006-01-02 15:04")
				}
				printRow(key, model, updated)
			}
			if len(keys) == 0 {
				fmt.Println("no sessions")
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}

func printRow(cols ...string) {
	widths := []int{44, 34, 16}
	var b strings.Builder
	for i, col := range cols {
		b.WriteString(col)
		if i < len(cols)-1 {
			pad := widths[i] - runewidth.StringWidth(col)
			if pad < 1 {
				pad = 1
			}
			b.WriteString(strings.Repeat(" ", pad))
		}
	}
	fmt.Println(b.String())
}
