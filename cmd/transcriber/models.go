package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/models"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var mirror string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and download whisper models",
	}
	cmd.PersistentFlags().StringVar(&mirror, "mirror", "", "Download from this base URL instead of the default")
	_ = cmd.PersistentFlags().MarkHidden("mirror")

	catalog := func() *models.Catalog {
		if strings.TrimSpace(mirror) != "" {
			return models.NewMirrorCatalog(mirror, ctx.log())
		}
		return models.NewCatalog(ctx.log())
	}

	cmd.AddCommand(newModelsListCommand(ctx, catalog))
	cmd.AddCommand(newModelsDownloadCommand(ctx, catalog))
	return cmd
}

func newModelsListCommand(ctx *commandContext, catalog func() *models.Catalog) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show model presets and which are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			options := catalog().List(settings.ModelPath)

			if ctx.jsonFlag {
				return writeJSON(cmd, options)
			}
			rows := make([][]string, 0, len(options))
			for _, option := range options {
				name := option.Name
				if option.Size == settings.ModelSize {
					name += " *"
				}
				onDisk := option.SizeLabel
				if option.Downloaded {
					if info, err := os.Stat(option.LocalPath); err == nil {
						onDisk = humanize.Bytes(uint64(info.Size()))
					}
				}
				rows = append(rows, []string{
					string(option.Size),
					name,
					onDisk,
					yesNo(option.Downloaded),
					option.Description,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Size", "Model", "Disk", "Installed", "Notes"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Model directory: %s\n", settings.ModelPath)
			return nil
		},
	}
}

func newModelsDownloadCommand(ctx *commandContext, catalog func() *models.Catalog) *cobra.Command {
	var makeDefault bool
	cmd := &cobra.Command{
		Use:   "download <size>",
		Short: "Download a model preset into the model directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size := domain.ModelSize(strings.ToLower(strings.TrimSpace(args[0])))
			option, err := domain.LookupModel(size)
			if err != nil {
				return err
			}
			store, settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			var bar *progressbar.ProgressBar
			onProgress := func(written, total int64) {}
			if isTerminal(stderr) && !ctx.jsonFlag {
				bar = progressbar.NewOptions64(-1,
					progressbar.OptionSetWriter(stderr),
					progressbar.OptionSetDescription(option.Name),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetWidth(30),
					progressbar.OptionThrottle(100*time.Millisecond),
				)
				onProgress = func(written, total int64) {
					if total > 0 && bar.GetMax64() != total {
						bar.ChangeMax64(total)
					}
					_ = bar.Set64(written)
				}
			} else {
				fmt.Fprintf(stderr, "Downloading %s (%s)\n", option.Name, option.SizeLabel)
			}

			path, err := catalog().Download(cmd.Context(), size, settings.ModelPath, onProgress)
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(stderr)
			}
			if err != nil {
				return err
			}

			if makeDefault && settings.ModelSize != size {
				settings.ModelSize = size
				if err := config.Validate(settings); err != nil {
					return err
				}
				if err := store.Save(settings); err != nil {
					return err
				}
			}

			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"size": size, "path": path, "default": settings.ModelSize == size})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", option.Name, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&makeDefault, "default", false, "Use this model for future runs")
	return cmd
}
