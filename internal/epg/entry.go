// Package epg fetches, normalizes and caches per-channel programme guides.
package epg

import (
	"sort"
	"time"

	"github.com/snapetech/stalkerportal/internal/portal"
)

// Entry is one normalized programme. Zero Start or End means unknown.
type Entry struct {
	Title       string        `json:"title"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Minutes is the programme length in whole minutes, or 0 when unknown.
func (e Entry) Minutes() int {
	return int(e.Duration / time.Minute)
}

const (
	// Epoch values above this are milliseconds.
	msThreshold = 10_000_000_000
	maxDuration = 24 * time.Hour

	dateLayout = "2006-01-02 15:04:05"
)

var (
	titleKeys    = []string{"name", "title", "progname", "program"}
	startKeys    = []string{"start", "start_timestamp", "from"}
	endKeys      = []string{"end", "stop_timestamp", "to"}
	startStrKeys = []string{"time", "start_time", "start"}
	endStrKeys   = []string{"time_to", "end_time", "end", "stop"}
	durationKeys = []string{"duration", "prog_duration", "length"}
	descKeys     = []string{"descr", "description", "desc", "short_description", "long_description", "plot", "overview"}
	categoryKeys = []string{"category", "genre", "categories"}
)

// Normalize converts raw schedule rows into entries sorted by start time,
// unknown starts last. Date strings are read in loc (UTC when nil). Nothing
// in a row is required; unreadable fields stay empty.
func Normalize(rows []portal.Object, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, normalizeRow(row, loc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Start, out[j].Start
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.Before(b)
	})
	return out
}

func normalizeRow(row portal.Object, loc *time.Location) Entry {
	e := Entry{
		Title:       row.Str(titleKeys...),
		Description: row.Str(descKeys...),
		Category:    row.Str(categoryKeys...),
	}
	e.Start = epochOrDate(row, startKeys, startStrKeys, loc)
	e.End = epochOrDate(row, endKeys, endStrKeys, loc)

	if secs, ok := row.Int(durationKeys...); ok {
		e.Duration = bounded(time.Duration(secs) * time.Second)
	}
	if e.Duration == 0 && !e.Start.IsZero() && !e.End.IsZero() {
		e.Duration = bounded(e.End.Sub(e.Start))
	}
	if e.End.IsZero() && !e.Start.IsZero() && e.Duration > 0 {
		e.End = e.Start.Add(e.Duration)
	}
	return e
}

// epochOrDate reads the first positive epoch among epochKeys, else the
// first date string among strKeys.
func epochOrDate(row portal.Object, epochKeys, strKeys []string, loc *time.Location) time.Time {
	for _, k := range epochKeys {
		if n, ok := row.Int(k); ok && n > 0 {
			return fromEpoch(n)
		}
	}
	for _, k := range strKeys {
		s := row.Str(k)
		if s == "" {
			continue
		}
		if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func fromEpoch(n int64) time.Time {
	if n > msThreshold {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func bounded(d time.Duration) time.Duration {
	if d <= 0 || d >= maxDuration {
		return 0
	}
	return d
}
