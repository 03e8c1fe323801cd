package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/history"
	"audio-transcriber/internal/transcribe"
)

const previewLength = 60

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past transcriptions",
	}
	cmd.AddCommand(newHistoryListCommand(ctx))
	cmd.AddCommand(newHistoryShowCommand(ctx))
	cmd.AddCommand(newHistoryDeleteCommand(ctx))
	cmd.AddCommand(newHistoryClearCommand(ctx))
	cmd.AddCommand(newHistoryStatsCommand(ctx))
	return cmd
}

func withHistory(ctx *commandContext, fn func(store *history.Store) error) error {
	store, err := ctx.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent transcriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				results, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, results)
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "No transcriptions yet")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, result := range results {
					rows = append(rows, []string{
						result.ID,
						humanize.Time(result.Metadata.Timestamp),
						result.OriginalFile.Name,
						string(result.Metadata.ModelSize),
						formatDuration(result.Metadata.AudioInfo.Duration),
						preview(result.Text),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "When", "File", "Model", "Audio", "Text"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				result, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, result)
				}
				rendered, err := transcribe.Render(result, domain.OutputFormat(strings.ToLower(format)), true)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(rendered)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "txt", "Render as txt, srt, vtt or json")
	return cmd
}

func newHistoryDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Remove transcriptions from history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				var missing []string
				for _, id := range args {
					err := store.Delete(cmd.Context(), id)
					switch {
					case errors.Is(err, history.ErrNotFound):
						missing = append(missing, id)
					case err != nil:
						return err
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
					}
				}
				if len(missing) > 0 {
					return fmt.Errorf("%w: %s", history.ErrNotFound, strings.Join(missing, ", "))
				}
				return nil
			})
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every transcription from history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear history without --yes")
			}
			return withHistory(ctx, func(store *history.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", removed, plural(int(removed), "entry", "entries"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removal")
	return cmd
}

func newHistoryStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				summary, err := store.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, summary)
				}
				latest := "never"
				if !summary.Latest.IsZero() {
					latest = humanize.Time(summary.Latest)
				}
				dbSize := "-"
				if info, err := os.Stat(store.Path()); err == nil {
					dbSize = humanize.Bytes(uint64(info.Size()))
				}
				rows := [][]string{
					{"Transcriptions", humanize.Comma(int64(summary.Count))},
					{"Audio transcribed", formatDuration(summary.TotalAudio)},
					{"Processing time", formatDuration(summary.TotalProcessingTime)},
					{"Latest", latest},
					{"Database", store.Path()},
					{"Database size", dbSize},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength-3]) + "..."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
