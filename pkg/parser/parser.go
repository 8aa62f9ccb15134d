// Package parser extracts challenge parameters, records and pagination
// state from listing pages. All functions are pure over the HTML text.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"domainscraper/pkg/models"
)

// Selectors and patterns for the listing markup.
const (
	ResultsTableSelector   = "table#sites_tbl"
	RecordCellSelector     = "td.row_name"
	RangeEndSelector       = ".sites_tbl_end"
	SubmissionTokenInput   = "input[name=captcha_token]"
	challengeMarkerHuman   = "human verification"
	challengeMarkerBeing   = "human being"
	challengeParamsPattern = `grecaptcha.execute\('([^']{10,})',\s+{\s+action\:\s+'(\w+)'\s+}`
)

var challengeParamsRe = regexp.MustCompile(challengeParamsPattern)

// numberCleaner strips the thousands separators the listing uses.
var numberCleaner = strings.NewReplacer(",", "", ".", "")

// Progress is the "end of N" counter shown under the results table
type Progress struct {
	End   int
	Total int
}

func document(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// DetectChallenge reports whether the page is a bot challenge
func DetectChallenge(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, challengeMarkerHuman) || strings.Contains(lower, challengeMarkerBeing)
}

// ExtractChallengeParams pulls the site key and action out of the challenge script
func ExtractChallengeParams(html string) (models.Challenge, bool) {
	m := challengeParamsRe.FindStringSubmatch(html)
	if m == nil {
		return models.Challenge{}, false
	}
	return models.Challenge{SiteKey: m[1], Action: m[2]}, true
}

// ExtractSubmissionToken returns the hidden token that must accompany a solution
func ExtractSubmissionToken(html string) (string, bool) {
	doc, err := document(html)
	if err != nil {
		return "", false
	}
	return doc.Find(SubmissionTokenInput).First().Attr("value")
}

// ExtractRecords returns the trimmed, de-duplicated record cells of the
// results table. The bool is false when the table itself is missing, which
// is different from a table with no rows.
func ExtractRecords(html string) ([]string, bool) {
	doc, err := document(html)
	if err != nil {
		return nil, false
	}
	return recordsFrom(doc)
}

func recordsFrom(doc *goquery.Document) ([]string, bool) {
	table := doc.Find(ResultsTableSelector).First()
	if table.Length() == 0 {
		return nil, false
	}

	records := []string{}
	seen := make(map[string]struct{})
	table.Find(RecordCellSelector).Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		records = append(records, text)
	})
	return records, true
}

// ParseProgress reads the "end" and "total" numbers of the result counter
func ParseProgress(html string) (Progress, bool) {
	doc, err := document(html)
	if err != nil {
		return Progress{}, false
	}
	return progressFrom(doc)
}

func progressFrom(doc *goquery.Document) (Progress, bool) {
	end := doc.Find(RangeEndSelector).First()
	if end.Length() == 0 {
		return Progress{}, false
	}
	total := end.NextAllFiltered("b").First()
	if total.Length() == 0 {
		return Progress{}, false
	}

	endN, err := parseCount(end.Text())
	if err != nil {
		return Progress{}, false
	}
	totalN, err := parseCount(total.Text())
	if err != nil {
		return Progress{}, false
	}
	return Progress{End: endN, Total: totalN}, true
}

func parseCount(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(numberCleaner.Replace(s)))
}

// ExtractPaginationSignal decides whether more pages follow this one
func ExtractPaginationSignal(html string) models.PaginationSignal {
	p, ok := ParseProgress(html)
	return signalFor(p, ok)
}

func signalFor(p Progress, ok bool) models.PaginationSignal {
	if !ok {
		return models.PaginationIndeterminate
	}
	if p.End < p.Total {
		return models.PaginationHasMore
	}
	return models.PaginationExhausted
}

// Page is a listing page parsed once for everything the engine needs
type Page struct {
	Records     []string
	HasTable    bool
	Progress    Progress
	HasProgress bool
}

// ParsePage parses records and the counter from a single document
func ParsePage(html string) Page {
	doc, err := document(html)
	if err != nil {
		return Page{}
	}
	var p Page
	p.Records, p.HasTable = recordsFrom(doc)
	p.Progress, p.HasProgress = progressFrom(doc)
	return p
}

// Pagination returns the tri-state signal for the parsed page
func (p Page) Pagination() models.PaginationSignal {
	return signalFor(p.Progress, p.HasProgress)
}

// Outcome converts the page into the shared PageOutcome shape
func (p Page) Outcome() models.PageOutcome {
	return models.PageOutcome{Records: p.Records, Pagination: p.Pagination()}
}
