// Package progress draws a single status line while a mass run is in flight.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	barWidth     = 30
	drawInterval = 100 * time.Millisecond
)

// Tracker counts finished hosts and redraws the status line
type Tracker struct {
	mu        sync.Mutex
	writer    io.Writer
	total     int
	succeeded int
	failed    int
	startTime time.Time
	lastDraw  time.Time
	drawn     bool
	now       func() time.Time
}

// NewTracker creates a tracker for total hosts writing to w, usually stderr
func NewTracker(total int, w io.Writer) *Tracker {
	return &Tracker{
		writer:    w,
		total:     total,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Update records one finished host. Safe for concurrent use.
func (t *Tracker) Update(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.succeeded++
	} else {
		t.failed++
	}

	now := t.now()
	done := t.succeeded + t.failed
	// Throttle redraws, the last host always draws
	if done < t.total && now.Sub(t.lastDraw) < drawInterval {
		return
	}
	t.lastDraw = now
	t.draw(now)
}

// Finish clears the status line
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.drawn {
		return
	}
	fmt.Fprintf(t.writer, "\r%s\r", strings.Repeat(" ", t.width()))
	t.drawn = false
}

// Counts returns the finished host counts
func (t *Tracker) Counts() (succeeded, failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, t.failed, t.total
}

func (t *Tracker) draw(now time.Time) {
	if t.total == 0 {
		return
	}
	fmt.Fprint(t.writer, "\r"+t.line(now))
	t.drawn = true
}

// line renders e.g. "[###########.........] 12/20 ok:10 failed:2 3s"
func (t *Tracker) line(now time.Time) string {
	done := t.succeeded + t.failed
	filled := barWidth * done / t.total
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	return fmt.Sprintf("[%s] %d/%d ok:%d failed:%d %v",
		bar, done, t.total, t.succeeded, t.failed, now.Sub(t.startTime).Round(time.Second))
}

func (t *Tracker) width() int {
	return len(t.line(t.now())) + 8
}
