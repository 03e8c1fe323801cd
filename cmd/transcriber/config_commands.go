package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
)

// settingField binds a CLI key to one settings field.
type settingField struct {
	get func(domain.Settings) string
	set func(*domain.Settings, string) error
}

var settingFields = map[string]settingField{
	"language": {
		get: func(s domain.Settings) string { return s.Language },
		set: func(s *domain.Settings, v string) error { s.Language = v; return nil },
	},
	"model_size": {
		get: func(s domain.Settings) string { return string(s.ModelSize) },
		set: func(s *domain.Settings, v string) error { s.ModelSize = domain.ModelSize(strings.ToLower(v)); return nil },
	},
	"model_path": {
		get: func(s domain.Settings) string { return s.ModelPath },
		set: func(s *domain.Settings, v string) error { s.ModelPath = v; return nil },
	},
	"output_dir": {
		get: func(s domain.Settings) string { return s.OutputDir },
		set: func(s *domain.Settings, v string) error { s.OutputDir = v; return nil },
	},
	"engine_path": {
		get: func(s domain.Settings) string { return s.EnginePath },
		set: func(s *domain.Settings, v string) error { s.EnginePath = v; return nil },
	},
	"include_metadata": {
		get: func(s domain.Settings) string { return strconv.FormatBool(s.IncludeMetadata) },
		set: func(s *domain.Settings, v string) error { return parseBool(v, &s.IncludeMetadata) },
	},
	"auto_save": {
		get: func(s domain.Settings) string { return strconv.FormatBool(s.AutoSave) },
		set: func(s *domain.Settings, v string) error { return parseBool(v, &s.AutoSave) },
	},
	"theme": {
		get: func(s domain.Settings) string { return string(s.Theme) },
		set: func(s *domain.Settings, v string) error { s.Theme = domain.Theme(strings.ToLower(v)); return nil },
	},
	"max_concurrent_jobs": {
		get: func(s domain.Settings) string { return strconv.Itoa(s.MaxConcurrentJobs) },
		set: func(s *domain.Settings, v string) error { return parseInt(v, &s.MaxConcurrentJobs) },
	},
	"output_format": {
		get: func(s domain.Settings) string { return string(s.OutputFormat) },
		set: func(s *domain.Settings, v string) error {
			s.OutputFormat = domain.OutputFormat(strings.ToLower(v))
			return nil
		},
	},
	"failure_policy": {
		get: func(s domain.Settings) string { return string(s.FailurePolicy) },
		set: func(s *domain.Settings, v string) error {
			s.FailurePolicy = domain.FailurePolicy(strings.ToLower(v))
			return nil
		},
	},
	"max_retries": {
		get: func(s domain.Settings) string { return strconv.Itoa(s.MaxRetries) },
		set: func(s *domain.Settings, v string) error { return parseInt(v, &s.MaxRetries) },
	},
}

func settingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for key := range settingFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func lookupSetting(key string) (settingField, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	field, ok := settingFields[normalized]
	if !ok {
		return settingField{}, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys(), ", "))
	}
	return field, nil
}

func parseBool(raw string, dst *bool) error {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("expected true or false, got %q", raw)
	}
	*dst = value
	return nil
}

func parseInt(raw string, dst *int) error {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("expected a number, got %q", raw)
	}
	*dst = value
	return nil
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit settings",
	}
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigPathCommand(ctx))
	cmd.AddCommand(newConfigGetCommand(ctx))
	cmd.AddCommand(newConfigSetCommand(ctx))
	cmd.AddCommand(newConfigResetCommand(ctx))
	cmd.AddCommand(newConfigImportCommand(ctx))
	cmd.AddCommand(newConfigExportCommand(ctx))
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			settings, err := store.Load()
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, settings)
			}
			rows := make([][]string, 0, len(settingFields))
			for _, key := range settingKeys() {
				rows = append(rows, []string{key, settingFields[key].get(settings)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ctx.settingsPath())
			return nil
		},
	}
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := lookupSetting(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.store()
			if err != nil {
				return err
			}
			settings, err := store.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), field.get(settings))
			return nil
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := lookupSetting(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.store()
			if err != nil {
				return err
			}
			settings, err := store.Load()
			if err != nil {
				return err
			}
			if err := field.set(&settings, args[1]); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			settings = config.Normalize(settings)
			if err := config.Validate(settings); err != nil {
				return err
			}
			if err := store.Save(settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], field.get(settings))
			return nil
		},
	}
}

func newConfigResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			if err := store.Save(config.DefaultSettings()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings reset: %s\n", store.Path())
			return nil
		},
	}
}

func newConfigImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace settings with the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Import(config.ExpandPath(args[0]))
			if err != nil {
				return err
			}
			store, err := ctx.store()
			if err != nil {
				return err
			}
			if err := store.Save(config.Normalize(settings)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s\n", args[0], store.Path())
			return nil
		},
	}
}

func newConfigExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write settings to a .json, .toml or .yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			settings, err := store.Load()
			if err != nil {
				return err
			}
			if err := config.Export(settings, config.ExpandPath(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported settings to %s\n", args[0])
			return nil
		},
	}
}
