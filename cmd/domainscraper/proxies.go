package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"domainscraper/internal/checker"
	"domainscraper/pkg/config"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/proxypool"
	"domainscraper/pkg/ui"
)

var (
	checkWorkers int
	writeGood    string
)

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Work with proxy lists",
}

var proxiesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify every proxy in the list ahead of a crawl",
	Long: `Verify every proxy in the list against the IP echo service, several at
a time, and print which ones work. The working ones can be written to a file
and passed to 'crawl --proxies'.`,
	Example: `  # Check the default list with 16 workers
  domainscraper proxies check --workers 16

  # Keep only the working proxies for the next crawl
  domainscraper proxies check --proxies all.txt --write-good good.txt
  domainscraper crawl --proxies good.txt`,
	Args: cobra.NoArgs,
	RunE: runProxiesCheck,
}

func init() {
	rootCmd.AddCommand(proxiesCmd)
	proxiesCmd.AddCommand(proxiesCheckCmd)

	proxiesCheckCmd.Flags().StringVarP(&proxiesFile, "proxies", "p", "", "proxy list file, one host:port per line")
	proxiesCheckCmd.Flags().IntVarP(&checkWorkers, "workers", "w", 0, "number of concurrent checks")
	proxiesCheckCmd.Flags().StringVar(&writeGood, "write-good", "", "write working proxies to this file")
}

func runProxiesCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{
		"proxies":       proxiesFile,
		"check-workers": checkWorkers,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := checkProxies(ctx, cfg, logger.GetLogger(), true)
	if err != nil {
		return err
	}

	ui.PrintCheckSummary(summary.Good, summary.Bad)
	if writeGood != "" {
		if err := checker.WriteList(writeGood, summary.Good); err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("%d working proxies written to %s", len(summary.Good), writeGood))
	}
	return nil
}

// checkProxies loads the configured list and verifies every entry with the
// configured number of workers
func checkProxies(ctx context.Context, cfg *config.Config, log logger.Logger, showProgress bool) (checker.Summary, error) {
	pool := proxypool.New(cfg.Proxy,
		proxypool.WithLogger(log),
		proxypool.WithHeaders(cfg.Target.Headers),
	)
	n, err := pool.LoadCandidates(proxypool.FileSource{Path: cfg.Proxy.ListFile})
	if err != nil {
		return checker.Summary{}, err
	}

	tracker := ui.NewCheckTracker(n)
	observe := func(r checker.CheckResult) {
		tracker.Record(r.Good)
		if showProgress {
			tracker.PrintProgress()
		}
	}

	return checker.Check(ctx, pool.Drain(), cfg.Proxy.CheckWorkers, pool, log, observe), nil
}
