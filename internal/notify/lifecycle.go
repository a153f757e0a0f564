package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/wallbot/internal/domain"
)

var lifecycleTitles = map[domain.LifecycleKind]string{
	domain.LifecycleOpen:       "Entry placed",
	domain.LifecycleFill:       "Entry filled",
	domain.LifecycleTakeProfit: "Take-profit placed",
	domain.LifecycleClose:      "Position closed",
	domain.LifecycleCancel:     "Entry cancelled",
	domain.LifecyclePanic:      "PANIC EXIT",
}

// FormatLifecycle renders a lifecycle event as a title and a plain-text body.
func FormatLifecycle(ev domain.LifecycleEvent) (title, message string) {
	name, ok := lifecycleTitles[ev.Kind]
	if !ok {
		name = string(ev.Kind)
	}
	title = fmt.Sprintf("%s %s %s", name, ev.Symbol, ev.Side)

	var b strings.Builder
	row := func(k, v string) { fmt.Fprintf(&b, "%-7s %s\n", k, v) }
	if ev.Price > 0 {
		row("price", strconv.FormatFloat(ev.Price, 'f', -1, 64))
	}
	if ev.Qty > 0 {
		row("qty", strconv.FormatFloat(ev.Qty, 'f', -1, 64))
	}
	if ev.OrderID != "" {
		row("order", ev.OrderID)
	}
	if ev.Reason != "" {
		row("reason", ev.Reason)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row("time", ts.UTC().Format(time.RFC3339))
	return title, strings.TrimRight(b.String(), "\n")
}
