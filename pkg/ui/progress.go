package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// CheckTracker keeps track of a batch of proxy checks
type CheckTracker struct {
	Total     int
	Checked   int
	Good      int
	StartTime time.Time
}

// NewCheckTracker creates a tracker for total checks
func NewCheckTracker(total int) *CheckTracker {
	return &CheckTracker{
		Total:     total,
		StartTime: time.Now(),
	}
}

// Record counts one finished check
func (ct *CheckTracker) Record(good bool) {
	ct.Checked++
	if good {
		ct.Good++
	}
}

// Bar renders done out of total as a fixed-width bar
func Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
}

// GetProgress returns a formatted progress bar
func (ct *CheckTracker) GetProgress() string {
	return fmt.Sprintf("[%s] %d/%d", Bar(ct.Checked, ct.Total), ct.Checked, ct.Total)
}

// GetRate returns checks per second
func (ct *CheckTracker) GetRate() float64 {
	elapsed := time.Since(ct.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(ct.Checked) / elapsed
}

// PrintProgress redraws the progress line in place
func (ct *CheckTracker) PrintProgress() {
	Printf("\r%s %s good: %s",
		Magenta("[CHECKING]"),
		ct.GetProgress(),
		Green(fmt.Sprintf("%d", ct.Good)))
	if ct.Checked == ct.Total {
		Println()
	}
}
