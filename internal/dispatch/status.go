package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaottoni/camps-dct/internal/persistence"
)

// statusLineWidth is the fixed framing width of the surrounding
// ":"-padded header/trailer lines.
const statusLineWidth = 50

// Status assembles the human-readable report for GET_STATUS. It is a
// one-shot report: callers end the connection after sending it.
func (c *Coordinator) Status() string {
	ctx := context.Background()

	var b strings.Builder
	b.WriteString(padded(fmt.Sprintf(" Status (%s:%d/%d) ", c.Host, c.Port, c.PID)))
	b.WriteByte('\n')

	entries := c.Registry.Snapshot()
	if len(entries) == 0 {
		b.WriteString("No client connected right now.\n")
	} else {
		for _, e := range entries {
			alive := ' '
			if !e.Alive {
				alive = '+'
			}
			rid := e.Info.CurrentResourceID
			if rid == "" {
				rid = "-"
			}
			elapsed := time.Since(e.Info.StartTime)
			b.WriteString(fmt.Sprintf("#%d %c %s (%s:%d/%d): %s since %s [%d collected in %s]\n",
				e.Info.ID, alive, e.Info.Name, e.Info.Host, e.Info.Port, e.Info.ProcessID,
				rid, e.Info.StartTime.Format("02/01/2006 15:04:05"),
				e.Info.CollectedCount, formatElapsed(elapsed),
			))
		}
	}

	pct := collectedPercent(ctx, c.Store)
	b.WriteString(padded(fmt.Sprintf(" Status (%.1f%% collected) ", pct)))
	return b.String()
}

func collectedPercent(ctx context.Context, store persistence.Store) float64 {
	total, err := store.TotalResourcesCount(ctx)
	if err != nil || total == 0 {
		return 0
	}
	collected, err := store.ResourcesCollectedCount(ctx)
	if err != nil {
		return 0
	}
	return 100 * float64(collected) / float64(total)
}

// padded centers s inside a line of ':' characters statusLineWidth wide.
func padded(s string) string {
	if len(s) >= statusLineWidth {
		return s
	}
	total := statusLineWidth - len(s)
	left := total / 2
	right := total - left
	return strings.Repeat(":", left) + s + strings.Repeat(":", right)
}

// formatElapsed renders a duration as "HHhMMmSSs".
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02dh%02dm%02ds", h, m, s)
}
