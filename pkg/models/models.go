package models

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// ProxyAddress is a proxy endpoint as read from the proxy list, usually
// host:port, optionally with an http://, https:// or socks5:// scheme.
type ProxyAddress string

// URL returns the proxy as a URL, defaulting to the http scheme
func (p ProxyAddress) URL() (*url.URL, error) {
	raw := string(p)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return url.Parse(raw)
}

// IsSOCKS5 reports whether the proxy must be dialled with SOCKS5
func (p ProxyAddress) IsSOCKS5() bool {
	return strings.HasPrefix(strings.ToLower(string(p)), "socks5://")
}

func (p ProxyAddress) String() string { return string(p) }

// Verdict is the outcome of verifying one proxy
type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
)

// Challenge holds the parameters an oracle needs to solve a bot challenge
type Challenge struct {
	SiteKey string `json:"site_key"`
	Action  string `json:"action"`
}

// ChallengeSolution is what gets posted back to the target to lift a challenge
type ChallengeSolution struct {
	SolutionToken   string `json:"solution_token"`
	SubmissionToken string `json:"submission_token"`
}

// PaginationSignal is the tri-state answer to "is there another page"
type PaginationSignal int

const (
	PaginationIndeterminate PaginationSignal = iota
	PaginationHasMore
	PaginationExhausted
)

func (s PaginationSignal) String() string {
	switch s {
	case PaginationHasMore:
		return "has_more"
	case PaginationExhausted:
		return "exhausted"
	default:
		return "indeterminate"
	}
}

// PageOutcome is what the parser extracts from one listing page
type PageOutcome struct {
	Records    []string
	Pagination PaginationSignal
}

// RecordSet is the run-wide accumulator of extracted records. It only grows.
type RecordSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewRecordSet creates a record set seeded with the given records
func NewRecordSet(seed ...string) *RecordSet {
	rs := &RecordSet{items: make(map[string]struct{}, len(seed))}
	for _, r := range seed {
		rs.items[r] = struct{}{}
	}
	return rs
}

// Merge adds records and returns the ones that were not present before,
// in input order and without duplicates.
func (rs *RecordSet) Merge(records []string) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var added []string
	for _, r := range records {
		if _, ok := rs.items[r]; ok {
			continue
		}
		rs.items[r] = struct{}{}
		added = append(added, r)
	}
	return added
}

// Unseen returns the records that are not yet in the set without adding them
func (rs *RecordSet) Unseen(records []string) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		if _, ok := rs.items[r]; ok {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Contains reports whether the record has been seen
func (rs *RecordSet) Contains(record string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.items[record]
	return ok
}

// Len returns the number of distinct records
func (rs *RecordSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.items)
}

// Sorted returns all records in lexical order
func (rs *RecordSet) Sorted() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]string, 0, len(rs.items))
	for r := range rs.items {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
