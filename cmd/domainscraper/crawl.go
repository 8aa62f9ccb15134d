package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"domainscraper/pkg/auth"
	"domainscraper/pkg/checkpoint"
	"domainscraper/pkg/config"
	"domainscraper/pkg/driver"
	"domainscraper/pkg/engine"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/oracle"
	"domainscraper/pkg/proxypool"
	"domainscraper/pkg/storage"
	"domainscraper/pkg/ui"
)

var (
	// Crawl command flags
	proxiesFile      string
	resultsFile      string
	reportFile       string
	listingURL       string
	startPage        int
	requestsPerProxy int
	maxSolves        int
	resumeCrawl      bool
	forceRestart     bool
	noCheckpoint     bool
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the listing through the proxy list",
	Long: `Crawl the configured listing page by page.

Proxies are drawn at random from the proxy list, verified, and used until
they fail or spend their request budget. The crawl ends when the listing is
exhausted or the proxy list runs out.

An Anti-Captcha client key is required. It is looked up in this order:
  - oracle.client_key in the configuration file
  - DOMAINSCRAPER_ORACLE_KEY or ANTI_CAPTCHA_KEY
  - the key stored with 'domainscraper auth set-key'`,
	Example: `  # Crawl with the default proxy list and output file
  domainscraper crawl

  # Use another proxy list and write a JSON report
  domainscraper crawl --proxies good.txt --report run.json

  # Continue where the last run stopped
  domainscraper crawl --resume

  # Start over at page 40, ignoring any checkpoint
  domainscraper crawl --force-restart --start-page 40`,
	Args: cobra.NoArgs,
	RunE: runCrawlCmd,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&proxiesFile, "proxies", "p", "", "proxy list file, one host:port per line")
	crawlCmd.Flags().StringVarP(&resultsFile, "output", "o", "", "results file records are appended to")
	crawlCmd.Flags().StringVar(&reportFile, "report", "", "write the run report to this file (.md for Markdown, JSON otherwise)")
	crawlCmd.Flags().StringVar(&listingURL, "listing-url", "", "listing URL template containing {page}")
	crawlCmd.Flags().IntVar(&startPage, "start-page", 0, "page to start from (overrides any checkpoint)")
	crawlCmd.Flags().IntVar(&requestsPerProxy, "requests-per-proxy", 0, "page fetches allowed per proxy")
	crawlCmd.Flags().IntVar(&maxSolves, "max-solves-per-hour", -1, "cap on oracle tasks per hour (0 = unlimited)")
	crawlCmd.Flags().BoolVar(&resumeCrawl, "resume", false, "resume from the last checkpoint")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "delete any checkpoint and start over")
	crawlCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "do not save a checkpoint")
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	if resumeCrawl && forceRestart {
		return errors.New("--resume and --force-restart cannot be combined")
	}

	flags := map[string]interface{}{
		"proxies":             proxiesFile,
		"output":              resultsFile,
		"report":              reportFile,
		"listing-url":         listingURL,
		"requests-per-proxy":  requestsPerProxy,
		"max-solves-per-hour": maxSolves,
	}
	if noCheckpoint {
		flags["checkpoint"] = false
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.WithField("version", version).Info("domainscraper starting")

	keys, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.PrintInfo("Listing", cfg.Target.ListingURLTemplate)
	ui.PrintInfo("Proxy list", cfg.Proxy.ListFile)
	ui.PrintHighlight("[CRAWL STARTED]")

	res, err := crawl(ctx, cfg, keys, crawlOptions{
		resume:       resumeCrawl,
		forceRestart: forceRestart,
		startPage:    startPage,
	}, logger.GetLogger())
	if res == nil {
		return err
	}

	ui.PrintResult(res)
	if cfg.Output.ReportFile != "" {
		if werr := driver.WriteReport(cfg.Output.ReportFile, res); werr != nil {
			ui.PrintError("Failed to write report", werr)
		} else {
			ui.PrintInfo("Report", cfg.Output.ReportFile)
		}
	}
	if errors.Is(err, context.Canceled) {
		ui.PrintWarning("Interrupted, continue with 'domainscraper crawl --resume'")
		return nil
	}
	return err
}

var errCheckpointExists = errors.New("checkpoint exists - use --resume to continue or --force-restart to start fresh")

// keyResolver finds the oracle client key
type keyResolver interface {
	Resolve(explicit string) (string, string, error)
}

type crawlOptions struct {
	resume       bool
	forceRestart bool
	// startPage overrides both the configured start page and the checkpoint
	startPage int
}

// crawl wires the components for one run and drives it. A nil Result means
// the run never started.
func crawl(ctx context.Context, cfg *config.Config, keys keyResolver, opts crawlOptions, log logger.Logger) (*driver.Result, error) {
	key, source, err := keys.Resolve(cfg.Oracle.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("no oracle client key configured, run 'domainscraper auth set-key': %w", err)
	}
	cfg.Oracle.ClientKey = key
	log.WithField("source", source).Info("Oracle key resolved")

	pool := proxypool.New(cfg.Proxy,
		proxypool.WithLogger(log),
		proxypool.WithHeaders(cfg.Target.Headers),
	)
	if _, err := pool.LoadCandidates(proxypool.FileSource{Path: cfg.Proxy.ListFile}); err != nil {
		return nil, err
	}

	sink, err := storage.NewManager(cfg.Output.ResultsFile)
	if err != nil {
		return nil, err
	}
	existing, err := sink.LoadExisting()
	if err != nil {
		return nil, err
	}
	records := models.NewRecordSet(existing...)
	if sink.Count() > 0 {
		log.InfoWithFields("Seeded records from results file", map[string]interface{}{
			"path":    sink.Path(),
			"records": sink.Count(),
		})
	}

	start := cfg.Crawl.StartPage
	var driverOpts []driver.Option
	if cfg.Checkpoint.Enabled {
		store, cp, cursor, err := openCheckpoint(cfg, opts, log)
		if err != nil {
			return nil, err
		}
		start = cursor
		driverOpts = append(driverOpts, driver.WithCheckpoint(store, cp))
	}
	if opts.startPage > 0 {
		start = opts.startPage
	}

	solver := oracle.NewClient(cfg.Oracle, oracle.WithLogger(log))

	var drv *driver.Driver
	eng := engine.New(cfg, engine.SessionFactoryFor(cfg, log), solver, sink, records,
		engine.WithLogger(log),
		engine.OnAdvance(func(cursor int) { drv.Advance(cursor) }),
	)
	drv = driver.New(pool, eng, records, cfg.Crawl.ProxySwitchDelay,
		append(driverOpts, driver.WithLogger(log))...)

	return drv.Run(ctx, start)
}

// openCheckpoint applies --resume and --force-restart and returns the
// checkpoint the run will update together with the cursor to start from
func openCheckpoint(cfg *config.Config, opts crawlOptions, log logger.Logger) (*checkpoint.Manager, *checkpoint.Checkpoint, int, error) {
	target := cfg.Target.ListingURLTemplate
	store, err := checkpoint.NewManager(cfg.Checkpoint.Directory, target)
	if err != nil {
		return nil, nil, 0, err
	}

	start := cfg.Crawl.StartPage
	if opts.startPage > 0 {
		start = opts.startPage
	}

	if opts.forceRestart {
		if err := store.Delete(); err != nil {
			return nil, nil, 0, err
		}
		log.Info("Existing checkpoint removed")
	} else if opts.resume {
		cp, err := store.Load()
		if err != nil {
			return nil, nil, 0, err
		}
		if cp != nil {
			if opts.startPage == 0 {
				start = cp.Cursor
			}
			ui.PrintInfo("Resuming from page", fmt.Sprintf("%d", start))
			cp.Cursor = start
			return store, cp, start, nil
		}
		log.Info("No checkpoint found, starting fresh")
	} else if store.Exists() && opts.startPage == 0 {
		return nil, nil, 0, errCheckpointExists
	}

	cp, err := store.Create(target, start)
	if err != nil {
		return nil, nil, 0, err
	}
	return store, cp, start, nil
}
