package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"domainscraper/pkg/auth"
	"domainscraper/pkg/config"
	"domainscraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage domainscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (DOMAINSCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write every option with its default value to a YAML file.

The file is created as '.domainscraper.yaml' in the current directory
unless a different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging all sources. The oracle client key
is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the merged configuration and check that the proxy list is
readable and the output and log paths can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".domainscraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	ui.Println("\nNext steps:")
	ui.Println("1. Store your Anti-Captcha key with 'domainscraper auth set-key'")
	ui.Println("2. Run 'domainscraper config validate' to check the configuration")
	ui.Println("3. Start crawling with 'domainscraper crawl'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	display := *cfg
	if display.Oracle.ClientKey != "" {
		display.Oracle.ClientKey = auth.MaskKey(display.Oracle.ClientKey)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	ui.Println()
	ui.Printf("%s", data)

	ui.Println("\nConfiguration sources (in order of priority):")
	ui.Println("1. Command line flags")
	ui.Println("2. Environment variables (DOMAINSCRAPER_*)")
	ui.Println("3. .env files")
	if configFile != "" {
		ui.Printf("4. Configuration file: %s\n", configFile)
	} else {
		ui.Println("4. Configuration file: (searched in default locations)")
	}
	ui.Println("5. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	problems := checkPaths(cfg)
	var warnings []string
	if cfg.Oracle.ClientKey == "" {
		warnings = append(warnings, "no oracle key in configuration or environment; a stored key will be needed")
	}
	if cfg.Oracle.MaxSolvesPerHour == 0 {
		warnings = append(warnings, "oracle spend is unlimited (max_solves_per_hour is 0)")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			ui.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration error(s)", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			ui.Printf("  - %s\n", w)
		}
		ui.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	ui.Println("\nConfiguration summary:")
	ui.Printf("  Listing: %s\n", cfg.Target.ListingURLTemplate)
	ui.Printf("  Proxy list: %s\n", cfg.Proxy.ListFile)
	ui.Printf("  Results file: %s\n", cfg.Output.ResultsFile)
	ui.Printf("  Requests per proxy: %d\n", cfg.Crawl.RequestsPerProxy)
	ui.Printf("  Page delay: %s\n", cfg.Crawl.PageDelay)
	ui.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// checkPaths reports files the crawl would fail to read or create
func checkPaths(cfg *config.Config) []string {
	var problems []string

	if _, err := os.Stat(cfg.Proxy.ListFile); err != nil {
		problems = append(problems, fmt.Sprintf("proxy list not readable: %v", err))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output.ResultsFile), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	return problems
}
