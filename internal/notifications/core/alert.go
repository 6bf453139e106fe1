// Package core holds the alert state machine and builds the feed items it
// emits. It has no I/O; the runner persists the resulting state and hands the
// items to the feed publisher.
package core

import (
	"fmt"
	"strconv"
	"time"

	"qpfwatch/internal/types"
)

// PubDateLayout is RFC 1123 with a literal GMT zone, as RSS readers expect.
// time.RFC1123 would print "UTC".
const PubDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Transition is the outcome of one alert evaluation.
type Transition string

const (
	// TransitionNone leaves the alert flag unchanged and emits nothing.
	TransitionNone Transition = "none"

	// TransitionRaised moves Inactive -> Active and emits exactly one item.
	TransitionRaised Transition = "raised"

	// TransitionCleared moves Active -> Inactive. No item is emitted; the next
	// crossing of the threshold raises a fresh alert.
	TransitionCleared Transition = "cleared"
)

// Decision is the result of Decide.
type Decision struct {
	Transition Transition
	// Active is the alert_active value to persist for the next run.
	Active bool
}

// Emit reports whether this decision publishes a feed item.
func (d Decision) Emit() bool { return d.Transition == TransitionRaised }

// Decide evaluates the alert state machine for one run.
//
// An inactive alert is raised when best >= threshold. An active alert is
// cleared when best < clearThreshold. A clearThreshold of zero, or one above
// threshold, is treated as threshold, which gives the plain single-threshold
// behaviour.
func Decide(active bool, best, threshold, clearThreshold float64) Decision {
	if clearThreshold <= 0 || clearThreshold > threshold {
		clearThreshold = threshold
	}

	switch {
	case !active && best >= threshold:
		return Decision{Transition: TransitionRaised, Active: true}
	case active && best < clearThreshold:
		return Decision{Transition: TransitionCleared, Active: false}
	default:
		return Decision{Transition: TransitionNone, Active: active}
	}
}

// ItemTemplate carries the fixed parts of every alert item.
type ItemTemplate struct {
	Location    string
	Threshold   float64
	Link        string
	GUIDPrefix  string
	Attribution string
}

// NewAlertItem builds the feed item announcing that best crossed the threshold.
// The GUID is <prefix>-<unix seconds> and pubDate is RFC 1123 in GMT.
func NewAlertItem(tmpl ItemTemplate, best types.BestForecast, now time.Time) types.FeedItem {
	now = now.UTC()
	return types.FeedItem{
		Title:       AlertTitle(tmpl.Location, tmpl.Threshold, best.Total),
		Description: fmt.Sprintf("%s\nSource: %s", best.Description, tmpl.Attribution),
		Link:        tmpl.Link,
		GUID:        ItemGUID(tmpl.GUIDPrefix, now),
		PubDate:     now.Format(PubDateLayout),
	}
}

// AlertTitle renders the item title. The hyphen in "48‑hr" is U+2011.
func AlertTitle(location string, threshold, total float64) string {
	return fmt.Sprintf("%s: 48‑hr rain ≥ %.2f\" (Forecast window total %.2f\")", location, threshold, total)
}

// ItemGUID returns <prefix>-<unix seconds>, or just the seconds when prefix is empty.
func ItemGUID(prefix string, now time.Time) string {
	secs := strconv.FormatInt(now.Unix(), 10)
	if prefix == "" {
		return secs
	}
	return prefix + "-" + secs
}
