package proxypool

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	errs "domainscraper/pkg/errors"
)

// Source supplies candidate proxy addresses
type Source interface {
	Load() ([]string, error)
}

// FileSource reads one proxy per line. Blank lines and lines starting with
// # are skipped.
type FileSource struct {
	Path string
}

// Load reads the file
func (s FileSource) Load() ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errs.SourceUnavailable(fmt.Sprintf("cannot open proxy list %s", s.Path), err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.SourceUnavailable(fmt.Sprintf("cannot read proxy list %s", s.Path), err)
	}
	return out, nil
}

// StaticSource is a fixed in-memory list
type StaticSource []string

// Load returns a copy of the list
func (s StaticSource) Load() ([]string, error) {
	return append([]string(nil), s...), nil
}
