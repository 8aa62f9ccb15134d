// Package testsite provides listing-site fixtures and an in-process fake of
// the listing site, the IP echo service and the solving oracle for tests.
package testsite

import (
	"fmt"
	"strings"
)

// Challenge fixture values
const (
	SiteKey         = "SITEKEY123456"
	Action          = "submit"
	SubmissionToken = "form-token-1"
	SolutionToken   = "solved-token-1"
)

// ListingPage renders a results table holding records and the "end of total"
// counter below it
func ListingPage(records []string, end, total int) string {
	var b strings.Builder
	b.WriteString("<html><body>\n<table id=\"sites_tbl\">\n")
	for i, r := range records {
		fmt.Fprintf(&b, "<tr><td class=\"row_num\">%d</td><td class=\"row_name\">%s</td></tr>\n", i+1, r)
	}
	b.WriteString("</table>\n")
	fmt.Fprintf(&b, "<div class=\"right\"><b class=\"sites_tbl_start\">%s</b> - <b class=\"sites_tbl_end\">%s</b> of <b>%s</b> records</div>\n",
		thousands(end-len(records)+1), thousands(end), thousands(total))
	b.WriteString("</body></html>")
	return b.String()
}

// ListingPageWithoutCounter renders a results table with no counter
func ListingPageWithoutCounter(records []string) string {
	var b strings.Builder
	b.WriteString("<html><body><table id=\"sites_tbl\">")
	for _, r := range records {
		fmt.Fprintf(&b, "<tr><td class=\"row_name\">%s</td></tr>", r)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

// ChallengePage renders the human verification interstitial
func ChallengePage() string {
	return fmt.Sprintf(`<html><head><title>Human Verification</title></head><body>
<p>Please confirm you are a human being.</p>
<form method="post"><input type="hidden" name="captcha_token" value="%s"></form>
<script>
grecaptcha.ready(function() {
  grecaptcha.execute('%s', { action: '%s' }).then(function(token) { submit(token); });
});
</script>
</body></html>`, SubmissionToken, SiteKey, Action)
}

// LimitPage is what the site serves once a client is rate limited
func LimitPage() string {
	return "<html><body>You have exceeded the daily limit.</body></html>"
}

// Records returns n synthetic records with the given prefix
func Records(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d.com", prefix, i+1)
	}
	return out
}

func thousands(n int) string {
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
