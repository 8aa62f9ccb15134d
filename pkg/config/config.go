package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PagePlaceholder is substituted with the page number in the listing URL template.
const PagePlaceholder = "{page}"

// Config holds all configuration options for the domain scraper
type Config struct {
	// Target listing site
	Target TargetConfig `yaml:"target" json:"target"`

	// Proxy list and verification settings
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// Challenge-solving oracle settings
	Oracle OracleConfig `yaml:"oracle" json:"oracle"`

	// Crawl pacing and budgets
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Resume checkpoint settings
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig describes the paginated listing being crawled
type TargetConfig struct {
	ListingURLTemplate string            `yaml:"listing_url_template" json:"listing_url_template"`
	Host               string            `yaml:"host" json:"host"`
	Origin             string            `yaml:"origin" json:"origin"`
	AcceptanceBody     string            `yaml:"acceptance_body" json:"acceptance_body"`
	AcceptanceCookie   string            `yaml:"acceptance_cookie" json:"acceptance_cookie"`
	Headers            map[string]string `yaml:"headers" json:"headers"`
}

// ProxyConfig holds proxy list and verification configuration
type ProxyConfig struct {
	ListFile      string        `yaml:"list_file" json:"list_file"`
	IPEchoURL     string        `yaml:"ip_echo_url" json:"ip_echo_url"`
	VerifyTimeout time.Duration `yaml:"verify_timeout" json:"verify_timeout"`
	CheckWorkers  int           `yaml:"check_workers" json:"check_workers"`
}

// OracleConfig holds the challenge oracle configuration
type OracleConfig struct {
	BaseURL          string        `yaml:"base_url" json:"base_url"`
	ClientKey        string        `yaml:"client_key" json:"client_key"`
	MinScore         float64       `yaml:"min_score" json:"min_score"`
	PollDelay        time.Duration `yaml:"poll_delay" json:"poll_delay"`
	MaxPolls         int           `yaml:"max_polls" json:"max_polls"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxSolvesPerHour int           `yaml:"max_solves_per_hour" json:"max_solves_per_hour"`
}

// CrawlConfig holds crawl pacing configuration
type CrawlConfig struct {
	StartPage         int           `yaml:"start_page" json:"start_page"`
	RequestsPerProxy  int           `yaml:"requests_per_proxy" json:"requests_per_proxy"`
	PageTimeout       time.Duration `yaml:"page_timeout" json:"page_timeout"`
	PageDelay         time.Duration `yaml:"page_delay" json:"page_delay"`
	ProxySwitchDelay  time.Duration `yaml:"proxy_switch_delay" json:"proxy_switch_delay"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	DiagnosticPreview int           `yaml:"diagnostic_preview" json:"diagnostic_preview"`
}

// OutputConfig holds output file configuration
type OutputConfig struct {
	ResultsFile string `yaml:"results_file" json:"results_file"`
	ReportFile  string `yaml:"report_file" json:"report_file"`
}

// CheckpointConfig holds checkpoint configuration
type CheckpointConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory" json:"directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			ListingURLTemplate: "https://myip.ms/browse/sites/{page}/ipID/23.227.38.32/ipIDii/23.227.38.32",
			Host:               "myip.ms",
			Origin:             "myip.ms",
			AcceptanceBody:     `<script>window.location=window.location.href.split("#")[0];</script>`,
			AcceptanceCookie:   "s2_uGoo",
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
				"Accept-Language": "en-US,en;q=0.5",
				"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36",
			},
		},
		Proxy: ProxyConfig{
			ListFile:      "free_https_proxies.txt",
			IPEchoURL:     "https://public-apps.com/what-is-my-ip/txt/",
			VerifyTimeout: 15 * time.Second,
			CheckWorkers:  8,
		},
		Oracle: OracleConfig{
			BaseURL:          "https://api.anti-captcha.com",
			MinScore:         0.3,
			PollDelay:        6 * time.Second,
			MaxPolls:         3,
			RequestTimeout:   30 * time.Second,
			MaxSolvesPerHour: 60,
		},
		Crawl: CrawlConfig{
			StartPage:         1,
			RequestsPerProxy:  20,
			PageTimeout:       120 * time.Second,
			PageDelay:         5 * time.Second,
			ProxySwitchDelay:  3 * time.Second,
			MaxBodyBytes:      5 << 20,
			DiagnosticPreview: 250,
		},
		Output: OutputConfig{
			ResultsFile: "results/found_domains.txt",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("DOMAINSCRAPER_LISTING_URL"); v != "" {
		c.Target.ListingURLTemplate = v
	}
	if v := os.Getenv("DOMAINSCRAPER_PROXY_FILE"); v != "" {
		c.Proxy.ListFile = v
	}
	if v := os.Getenv("DOMAINSCRAPER_IP_ECHO_URL"); v != "" {
		c.Proxy.IPEchoURL = v
	}

	// The bare ANTI_CAPTCHA_KEY name is still honoured for existing setups.
	if v := os.Getenv("ANTI_CAPTCHA_KEY"); v != "" {
		c.Oracle.ClientKey = v
	}
	if v := os.Getenv("DOMAINSCRAPER_ORACLE_KEY"); v != "" {
		c.Oracle.ClientKey = v
	}
	if v := os.Getenv("DOMAINSCRAPER_ORACLE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("DOMAINSCRAPER_MAX_SOLVES_PER_HOUR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOMAINSCRAPER_MAX_SOLVES_PER_HOUR: %w", err))
		} else {
			c.Oracle.MaxSolvesPerHour = n
		}
	}

	if v := os.Getenv("DOMAINSCRAPER_START_PAGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOMAINSCRAPER_START_PAGE: %w", err))
		} else {
			c.Crawl.StartPage = n
		}
	}
	if v := os.Getenv("DOMAINSCRAPER_REQUESTS_PER_PROXY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOMAINSCRAPER_REQUESTS_PER_PROXY: %w", err))
		} else {
			c.Crawl.RequestsPerProxy = n
		}
	}
	if v := os.Getenv("DOMAINSCRAPER_PAGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOMAINSCRAPER_PAGE_TIMEOUT: %w", err))
		} else {
			c.Crawl.PageTimeout = d
		}
	}

	if v := os.Getenv("DOMAINSCRAPER_RESULTS_FILE"); v != "" {
		c.Output.ResultsFile = v
	}
	if v := os.Getenv("DOMAINSCRAPER_CHECKPOINT_ENABLED"); v != "" {
		c.Checkpoint.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("DOMAINSCRAPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".domainscraper.yaml",
		".domainscraper.yml",
		filepath.Join(home, ".config", "domainscraper", "config.yaml"),
		filepath.Join(home, ".config", "domainscraper", "config.yml"),
		filepath.Join(home, ".domainscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. The oracle client key is
// not checked here because it may come from the credential store.
func (c *Config) Validate() error {
	var errs []error

	if !strings.Contains(c.Target.ListingURLTemplate, PagePlaceholder) {
		errs = append(errs, fmt.Errorf("listing URL template must contain %s", PagePlaceholder))
	}
	if c.Target.AcceptanceCookie == "" {
		errs = append(errs, errors.New("acceptance cookie name is required"))
	}

	if c.Proxy.ListFile == "" {
		errs = append(errs, errors.New("proxy list file is required"))
	}
	if c.Proxy.IPEchoURL == "" {
		errs = append(errs, errors.New("IP echo URL is required"))
	}
	if c.Proxy.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("verify timeout must be positive"))
	}
	if c.Proxy.CheckWorkers <= 0 {
		errs = append(errs, errors.New("check workers must be positive"))
	}

	if c.Oracle.BaseURL == "" {
		errs = append(errs, errors.New("oracle base URL is required"))
	}
	if c.Oracle.MaxPolls <= 0 {
		errs = append(errs, errors.New("oracle max polls must be positive"))
	}
	if c.Oracle.PollDelay < 0 {
		errs = append(errs, errors.New("oracle poll delay cannot be negative"))
	}
	if c.Oracle.MaxSolvesPerHour < 0 {
		errs = append(errs, errors.New("max solves per hour cannot be negative"))
	}

	if c.Crawl.StartPage < 1 {
		errs = append(errs, errors.New("start page must be at least 1"))
	}
	if c.Crawl.RequestsPerProxy <= 0 {
		errs = append(errs, errors.New("requests per proxy must be positive"))
	}
	if c.Crawl.PageTimeout <= 0 {
		errs = append(errs, errors.New("page timeout must be positive"))
	}
	if c.Crawl.PageDelay < 0 || c.Crawl.ProxySwitchDelay < 0 {
		errs = append(errs, errors.New("delays cannot be negative"))
	}

	if c.Output.ResultsFile == "" {
		errs = append(errs, errors.New("results file is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// PageURL renders the listing URL for the given page.
func (c *Config) PageURL(page int) string {
	return strings.ReplaceAll(c.Target.ListingURLTemplate, PagePlaceholder, strconv.Itoa(page))
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["proxies"].(string); ok && v != "" {
		c.Proxy.ListFile = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.ResultsFile = v
	}
	if v, ok := flags["report"].(string); ok && v != "" {
		c.Output.ReportFile = v
	}
	if v, ok := flags["listing-url"].(string); ok && v != "" {
		c.Target.ListingURLTemplate = v
	}
	if v, ok := flags["start-page"].(int); ok && v > 0 {
		c.Crawl.StartPage = v
	}
	if v, ok := flags["requests-per-proxy"].(int); ok && v > 0 {
		c.Crawl.RequestsPerProxy = v
	}
	if v, ok := flags["check-workers"].(int); ok && v > 0 {
		c.Proxy.CheckWorkers = v
	}
	if v, ok := flags["max-solves-per-hour"].(int); ok && v >= 0 {
		c.Oracle.MaxSolvesPerHour = v
	}
	if v, ok := flags["checkpoint"].(bool); ok {
		c.Checkpoint.Enabled = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".domainscraper.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
