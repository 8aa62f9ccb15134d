package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"domainscraper/pkg/models"
)

// WriteReport writes the result to path. Paths ending in .md get a
// Markdown report, anything else indented JSON.
func WriteReport(path string, res *Result) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		err = writeMarkdown(f, res)
	default:
		err = writeJSON(f, res)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Sync()
}

func writeJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func writeMarkdown(w io.Writer, res *Result) error {
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Outcome", string(res.Outcome)},
			{"Final page", strconv.Itoa(res.Cursor)},
			{"Proxies tried", strconv.Itoa(res.ProxiesTried)},
			{"Pages fetched", strconv.Itoa(res.PagesFetched)},
			{"New records", strconv.Itoa(res.NewRecords)},
			{"Started", res.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Finished", res.FinishedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")

	switch res.Outcome {
	case OutcomeCompleted:
		md.Tip("The listing was crawled to its end.")
	case OutcomeProxiesExhausted:
		md.Warningf("Every proxy was used up. Resume from page %d with a fresh list.", res.Cursor)
	case OutcomeStopped:
		md.Warningf("Page %d showed no readable counter, possibly a block page. Resume from it once checked.", res.Cursor)
	default:
		md.Cautionf("The run was aborted: %s", res.Error)
	}
	md.PlainText("")

	writeProxyList(md, "Good proxies", res.Good)
	writeProxyList(md, "Bad proxies", res.Bad)

	md.H2(fmt.Sprintf("Records (%d)", len(res.Records)))
	md.PlainText("")
	if len(res.Records) > 0 {
		md.CodeBlocks(markdown.SyntaxHighlight("text"), strings.Join(res.Records, "\n"))
		md.PlainText("")
	}

	return md.Build()
}

func writeProxyList(md *markdown.Markdown, title string, proxies []models.ProxyAddress) {
	md.H2(fmt.Sprintf("%s (%d)", title, len(proxies)))
	md.PlainText("")
	if len(proxies) == 0 {
		return
	}
	items := make([]string, 0, len(proxies))
	for _, p := range proxies {
		items = append(items, "`"+p.String()+"`")
	}
	md.BulletList(items...)
	md.PlainText("")
}
