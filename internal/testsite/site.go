package testsite

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"domainscraper/pkg/config"
	"domainscraper/pkg/models"
)

const clearanceValue = "cleared"

// Site is a fake listing site. Its server also answers the IP echo and the
// oracle endpoints, and accepts proxied requests, so its address can be used
// as a proxy in a candidate list.
type Site struct {
	server *httptest.Server

	mu sync.Mutex
	// Pages holds the records of page 1..len(Pages)
	Pages [][]string
	// EchoIP is returned by the IP echo endpoint
	EchoIP string
	// Challenge makes listing requests without the clearance cookie get the
	// verification page
	Challenge bool
	// MissingTableOn serves the rate limit page for these page numbers
	MissingTableOn map[int]bool
	// MissingCounterOn serves these pages without the pagination counter
	MissingCounterOn map[int]bool

	listingGets int
	posts       int
	tasks       int
}

// NewSite starts a site serving pages
func NewSite(pages [][]string) *Site {
	s := &Site{
		Pages:            pages,
		EchoIP:           "127.0.0.1",
		MissingTableOn:   map[int]bool{},
		MissingCounterOn: map[int]bool{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Close shuts the server down
func (s *Site) Close() { s.server.Close() }

// URL is the server's base URL
func (s *Site) URL() string { return s.server.URL }

// Proxy is the server's address in proxy-list form
func (s *Site) Proxy() models.ProxyAddress {
	return models.ProxyAddress(strings.TrimPrefix(s.server.URL, "http://"))
}

// Config returns a configuration pointed at the site with all delays off
func (s *Site) Config(resultsFile string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Target.ListingURLTemplate = "http://listing.test/browse/sites/{page}/ipID/23.227.38.32/ipIDii/23.227.38.32"
	cfg.Proxy.IPEchoURL = "http://echo.test/what-is-my-ip/txt/"
	cfg.Proxy.VerifyTimeout = 2 * time.Second
	cfg.Oracle.BaseURL = s.server.URL
	cfg.Oracle.ClientKey = "test-client-key"
	cfg.Oracle.PollDelay = time.Millisecond
	cfg.Oracle.RequestTimeout = 2 * time.Second
	cfg.Oracle.MaxSolvesPerHour = 0
	cfg.Crawl.PageTimeout = 2 * time.Second
	cfg.Crawl.PageDelay = 0
	cfg.Crawl.ProxySwitchDelay = 0
	cfg.Output.ResultsFile = resultsFile
	cfg.Checkpoint.Enabled = false
	return cfg
}

// ListingGets returns how many listing pages were requested
func (s *Site) ListingGets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listingGets
}

// Posts returns how many solutions were posted
func (s *Site) Posts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

// Tasks returns how many oracle tasks were created
func (s *Site) Tasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/browse/sites/"):
		s.serveListing(w, r)
	case strings.HasPrefix(r.URL.Path, "/what-is-my-ip/"):
		s.mu.Lock()
		ip := s.EchoIP
		s.mu.Unlock()
		_, _ = w.Write([]byte(ip + "\n"))
	case r.URL.Path == "/createTask":
		s.mu.Lock()
		s.tasks++
		id := s.tasks
		s.mu.Unlock()
		writeJSON(w, map[string]interface{}{"errorId": 0, "taskId": id})
	case r.URL.Path == "/getTaskResult":
		writeJSON(w, map[string]interface{}{
			"errorId":  0,
			"status":   "ready",
			"solution": map[string]string{"gRecaptchaResponse": SolutionToken},
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Site) serveListing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPost {
		s.posts++
		_ = r.ParseForm()
		if r.PostForm.Get("g_recaptcha_loaded") == "yes" &&
			r.PostForm.Get("captcha_token") == SubmissionToken &&
			r.PostForm.Get("g_recaptcha_response") == SolutionToken {
			http.SetCookie(w, &http.Cookie{Name: config.DefaultConfig().Target.AcceptanceCookie, Value: clearanceValue})
			_, _ = w.Write([]byte(config.DefaultConfig().Target.AcceptanceBody))
			return
		}
		_, _ = w.Write([]byte("<html>rejected</html>"))
		return
	}

	s.listingGets++
	if s.Challenge {
		if c, err := r.Cookie(config.DefaultConfig().Target.AcceptanceCookie); err != nil || c.Value != clearanceValue {
			_, _ = w.Write([]byte(ChallengePage()))
			return
		}
	}

	page := pageNumber(r.URL.Path)
	if page < 1 || page > len(s.Pages) || s.MissingTableOn[page] {
		_, _ = w.Write([]byte(LimitPage()))
		return
	}

	if s.MissingCounterOn[page] {
		_, _ = w.Write([]byte(ListingPageWithoutCounter(s.Pages[page-1])))
		return
	}

	total, end := 0, 0
	for i, p := range s.Pages {
		total += len(p)
		if i < page {
			end += len(p)
		}
	}
	_, _ = w.Write([]byte(ListingPage(s.Pages[page-1], end, total)))
}

// pageNumber reads n from /browse/sites/{n}/...
func pageNumber(path string) int {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return 0
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
