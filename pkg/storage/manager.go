package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager is the append-only record sink. One record per line; a line is
// never written twice by the same Manager.
type Manager struct {
	path    string
	written map[string]bool
	mu      sync.RWMutex
}

// NewManager creates the sink's parent directory and indexes any records the
// file already holds
func NewManager(path string) (*Manager, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	manager := &Manager{
		path:    path,
		written: make(map[string]bool),
	}

	existing, err := manager.LoadExisting()
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing records: %w", err)
	}
	for _, r := range existing {
		manager.written[r] = true
	}

	return manager, nil
}

// LoadExisting reads the records already in the sink file. A missing file
// yields no records.
func (m *Manager) LoadExisting() ([]string, error) {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", m.path, err)
	}
	defer f.Close()

	var records []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			records = append(records, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.path, err)
	}
	return records, nil
}

// Append writes the records not yet in the sink, one per line, and returns
// only after the data has been synced to disk. It returns the number of
// lines written.
func (m *Manager) Append(records []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fresh := make([]string, 0, len(records))
	for _, r := range records {
		if r == "" || m.written[r] {
			continue
		}
		fresh = append(fresh, r)
		b.WriteString(r)
		b.WriteByte('\n')
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open sink: %w", err)
	}

	_, err = f.WriteString(b.String())
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()

	if err != nil {
		return 0, fmt.Errorf("failed to write records: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("failed to close sink: %w", closeErr)
	}

	for _, r := range fresh {
		m.written[r] = true
	}
	return len(fresh), nil
}

// Path returns the sink file path
func (m *Manager) Path() string {
	return m.path
}

// Count returns the number of records in the sink
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.written)
}
