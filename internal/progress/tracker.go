package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/breeder-harvester/internal/clock/system"
	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

const barWidth = 20

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Tracker counts completed tasks of one pooled stage and renders a single,
// repeatedly overwritten status line. Render calls are serialised so
// concurrent workers never interleave partial lines.
type Tracker struct {
	completed harvest.Counter
	total     int64
	start     time.Time
	clock     Clock

	mu  sync.Mutex
	out io.Writer
}

// New starts a Tracker for total tasks. A nil out writes to stdout and a nil
// clock uses wall time.
func New(total int, out io.Writer, clock Clock) *Tracker {
	if out == nil {
		out = os.Stdout
	}
	if clock == nil {
		clock = system.New()
	}
	return &Tracker{
		total: int64(total),
		start: clock.Now(),
		clock: clock,
		out:   out,
	}
}

// Increment marks one task as completed.
func (t *Tracker) Increment() {
	t.completed.Inc()
}

// Completed returns the number of completed tasks.
func (t *Tracker) Completed() int64 {
	return t.completed.Value()
}

// Percent returns completion rounded to one decimal place.
func (t *Tracker) Percent() float64 {
	return percent(t.completed.Value(), t.total)
}

// Render writes the status line, e.g. "[##########..........] 5/10 - (50.0% 00:06) ".
func (t *Tracker) Render() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, "\r"+t.line()) //nolint:errcheck // console output is best-effort
}

// Finish terminates the status line.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, "\n") //nolint:errcheck // console output is best-effort
}

func (t *Tracker) line() string {
	completed := t.completed.Value()
	pct := percent(completed, t.total)
	elapsed := t.clock.Now().Sub(t.start)
	if elapsed < 0 {
		elapsed = 0
	}
	sec := int64(elapsed / time.Second)

	full := int(barWidth * pct / 100.0)
	if full > barWidth {
		full = barWidth
	}
	return fmt.Sprintf("[%s%s] %d/%d - (%.1f%% %02d:%02d) ",
		strings.Repeat("#", full),
		strings.Repeat(".", barWidth-full),
		completed,
		t.total,
		pct,
		sec/60,
		sec%60,
	)
}

func percent(completed, total int64) float64 {
	if total <= 0 {
		return 100.0
	}
	return math.Round(float64(completed)/float64(total)*1000.0) / 10.0
}
