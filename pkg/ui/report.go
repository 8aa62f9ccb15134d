package ui

import (
	"fmt"
	"time"

	"domainscraper/pkg/driver"
	"domainscraper/pkg/models"
)

// PrintResult prints the end-of-run report: proxy verdicts, harvested
// records and how the run ended
func PrintResult(res *driver.Result) {
	PrintHighlight("[RUN REPORT]")
	printProxies("Good proxies", res.Good, Green)
	printProxies("Bad proxies", res.Bad, Red)

	Println()
	PrintInfo("Records", fmt.Sprintf("%d", len(res.Records)))
	for _, r := range res.Records {
		Println("  " + r)
	}

	Println()
	PrintInfo("Proxies tried", fmt.Sprintf("%d", res.ProxiesTried))
	PrintInfo("Pages fetched", fmt.Sprintf("%d", res.PagesFetched))
	PrintInfo("New records", fmt.Sprintf("%d", res.NewRecords))
	PrintInfo("Last page", fmt.Sprintf("%d", res.Cursor))
	if !res.FinishedAt.IsZero() {
		PrintInfo("Duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Second).String())
	}

	switch res.Outcome {
	case driver.OutcomeCompleted:
		PrintSuccess("[LISTING COMPLETED]")
	case driver.OutcomeProxiesExhausted:
		PrintWarning(fmt.Sprintf("[PROXIES EXHAUSTED] resume from page %d with a fresh proxy list", res.Cursor))
	case driver.OutcomeStopped:
		PrintWarning(fmt.Sprintf("[STOPPED] page %d has no readable counter, check it and resume", res.Cursor))
	default:
		PrintError("[RUN ABORTED]", res.Error)
	}
}

// PrintCheckSummary prints the verdicts of a proxy check
func PrintCheckSummary(good, bad []models.ProxyAddress) {
	PrintHighlight("[PROXY CHECK]")
	printProxies("Good proxies", good, Green)
	PrintInfo("Bad proxies", fmt.Sprintf("%d", len(bad)))
}

func printProxies(label string, proxies []models.ProxyAddress, color func(string) string) {
	PrintInfo(label, fmt.Sprintf("%d", len(proxies)))
	for _, p := range proxies {
		Println("  " + color(p.String()))
	}
}
