package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecgard/ratekeeper/internal/config"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect service and pricing configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate the metrics.yaml and rules.yaml documents in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective service configuration",
	RunE:  runConfigPrint,
}

func init() {
	configCmd.AddCommand(configValidateCmd, configPrintCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	metrics, rules, err := validateConfigDir(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: %d metrics, %d rule groups\n", len(metrics), len(rules))
	return nil
}

// validateConfigDir reads both documents of a configuration directory and
// checks them the same way the API does before a write.
func validateConfigDir(dir string) (map[string]ratingconfig.MetricDef, []ratingconfig.RuleGroup, error) {
	var metricsDoc struct {
		Metrics any `yaml:"metrics"`
	}
	if err := readYAMLFile(filepath.Join(dir, "metrics.yaml"), &metricsDoc); err != nil {
		return nil, nil, err
	}
	var rulesDoc struct {
		Rules any `yaml:"rules"`
	}
	if err := readYAMLFile(filepath.Join(dir, "rules.yaml"), &rulesDoc); err != nil {
		return nil, nil, err
	}
	return ratingconfig.ParseDocuments(metricsDoc.Metrics, rulesDoc.Rules)
}

func readYAMLFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func runConfigPrint(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.AdminKey != "" {
		cfg.Auth.AdminKey = "<redacted>"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
