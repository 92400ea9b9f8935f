package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configOutput string
	configSave   bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with mapping configurations",
	Long: `A mapping configuration decides, per reference entity of the export, whether
it maps onto an existing destination row or is created. Files are YAML or
JSON, keyed by entity type and source id:

  statuses:
    1: {action: map, mappedTo: 4}
    2: {action: create, name: Blocked, systemName: blocked, color: "#ff0000"}`,
}

var configSuggestCmd = &cobra.Command{
	Use:   "suggest <job-id>",
	Short: "Suggest a configuration from an analyzed job",
	Long: `Derive a configuration that creates every reference entity found in the
staged export. Entities whose natural key already exists in the destination
are reused at import time.

Examples:
  tmimport config suggest abc123 -o mapping.yaml
  tmimport config suggest abc123 --save`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		if _, err := o.Job(ctx, args[0]); err != nil {
			return err
		}
		cfg, err := o.SuggestConfiguration(ctx, args[0])
		if err != nil {
			return withCode(exitDB, err)
		}
		if configSave {
			if _, err := o.SaveConfiguration(ctx, args[0], mapping.Serialize(cfg)); err != nil {
				return err
			}
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print the configuration stored on a job",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		job, err := o.Job(ctx, args[0])
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), mapping.Normalize(job.Configuration))
	},
}

var configNormalizeCmd = &cobra.Command{
	Use:   "normalize <file>",
	Short: "Validate and normalize a configuration file",
	Long: `Read a configuration file and print it in canonical form. Malformed
entries fall back to their defaults; create decisions that lack required
fields are reported.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readConfigFile(args[0])
		if err != nil {
			return err
		}
		cfg := mapping.Normalize(raw)
		incomplete := 0
		for _, et := range mapping.EntityTypes {
			for _, e := range cfg.Entries(et) {
				cn, ok := e.Decision.(mapping.CreateNew)
				if !ok {
					continue
				}
				if missing := mapping.Missing(et, cn.Fields); len(missing) > 0 {
					incomplete++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %d: create is missing %v\n", et, e.SourceID, missing)
				}
			}
		}
		if err := writeConfig(cmd.OutOrStdout(), cfg); err != nil {
			return err
		}
		if incomplete > 0 {
			return withCode(exitConfig, fmt.Errorf("%d create decisions are incomplete", incomplete))
		}
		return nil
	},
}

func init() {
	configSuggestCmd.Flags().BoolVar(&configSave, "save", false, "store the suggestion on the job")
	for _, c := range []*cobra.Command{configSuggestCmd, configShowCmd, configNormalizeCmd} {
		c.Flags().StringVarP(&configOutput, "output", "o", "", "write to file instead of stdout")
	}
	configCmd.AddCommand(configSuggestCmd, configShowCmd, configNormalizeCmd)
	rootCmd.AddCommand(configCmd)
}

// writeConfig renders cfg as YAML to --output or w.
func writeConfig(w io.Writer, cfg *mapping.Config) error {
	b, err := yaml.Marshal(compact(mapping.Serialize(cfg)))
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if configOutput == "" {
		_, err = w.Write(b)
		return err
	}
	if err := os.WriteFile(configOutput, b, 0o644); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	fmt.Fprintf(w, "Configuration written to %s\n", configOutput)
	return nil
}

// compact drops empty entity tables.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if t, ok := v.(map[string]any); ok && len(t) == 0 {
			continue
		}
		out[k] = v
	}
	return out
}
