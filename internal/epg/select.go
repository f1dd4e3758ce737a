package epg

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Current picks the entry to show for now: the one airing, else the first
// upcoming, else the most recent past one, else the first entry. Entries
// without both start and end only qualify for the last rule.
func Current(entries []Entry, now time.Time) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	var upcoming, past *Entry
	for i := range entries {
		e := &entries[i]
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}
		if !now.Before(e.Start) && now.Before(e.End) {
			return *e, true
		}
		if now.Before(e.Start) && upcoming == nil {
			upcoming = e
		}
		if !e.End.After(now) {
			past = e
		}
	}
	switch {
	case upcoming != nil:
		return *upcoming, true
	case past != nil:
		return *past, true
	}
	return entries[0], true
}

// NoEPG is the summary of an empty schedule.
const NoEPG = "No EPG."

const maxDescription = 500

// Summary renders the current entry as plain text: a header with title,
// times and date, an optional "category • N min" line and the description.
func Summary(entries []Entry, now time.Time, loc *time.Location) string {
	e, ok := Current(entries, now)
	if !ok {
		return NoEPG
	}
	if loc == nil {
		loc = time.Local
	}

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = "—"
	}
	header := title + " " + clock(e.Start, loc) + " – " + clock(e.End, loc)
	if !e.Start.IsZero() {
		header += " (" + e.Start.In(loc).Format("Mon, Jan 02") + ")"
	}
	lines := []string{header}

	var meta []string
	if c := strings.TrimSpace(e.Category); c != "" {
		meta = append(meta, c)
	}
	if m := e.Minutes(); m > 0 {
		meta = append(meta, strconv.Itoa(m)+" min")
	}
	if len(meta) > 0 {
		lines = append(lines, strings.Join(meta, " • "))
	}
	if d := truncate(e.Description, maxDescription); d != "" {
		lines = append(lines, d)
	}
	return strings.Join(lines, "\n")
}

func clock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "??:??"
	}
	return t.In(loc).Format("3:04 PM")
}

// truncate collapses whitespace and cuts s to max runes on a word boundary,
// marking the cut with an ellipsis.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := string([]rune(s)[:max-1])
	if i := strings.LastIndexByte(cut, ' '); i >= 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
