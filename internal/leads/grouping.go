package leads

import (
	"sort"
	"time"
)

// GroupMode selects which timestamp orders and buckets the collection.
type GroupMode string

const (
	GroupByDateAdded    GroupMode = "added"
	GroupByLastActivity GroupMode = "activity"
)

const unknownDateLabel = "Unknown date"

// Bucket is a labeled group of leads sharing a day-relative label.
type Bucket struct {
	Label string `json:"label"`
	Leads []Lead `json:"leads"`
}

// Group sorts the sequence descending by the mode's timestamp and partitions
// it into day buckets. Buckets appear in the order their most recent member
// is encountered; leads with an unparseable timestamp sort last and bucket
// under the unknown-date label.
func Group(collection []Lead, mode GroupMode, now time.Time) []Bucket {
	type keyed struct {
		lead Lead
		ts   time.Time
		ok   bool
	}
	entries := make([]keyed, len(collection))
	for i, lead := range collection {
		ts, ok := groupInstant(lead, mode)
		entries[i] = keyed{lead: lead, ts: ts, ok: ok}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ok != entries[j].ok {
			return entries[i].ok
		}
		return entries[i].ts.After(entries[j].ts)
	})

	var buckets []Bucket
	index := map[string]int{}
	for _, entry := range entries {
		label := unknownDateLabel
		if entry.ok {
			label = dayLabel(entry.ts, now)
		}
		at, seen := index[label]
		if !seen {
			at = len(buckets)
			index[label] = at
			buckets = append(buckets, Bucket{Label: label})
		}
		buckets[at].Leads = append(buckets[at].Leads, entry.lead)
	}
	return buckets
}

func groupInstant(lead Lead, mode GroupMode) (time.Time, bool) {
	if mode == GroupByLastActivity {
		return lead.LastActivityAt()
	}
	return lead.AddedAt()
}

func dayLabel(ts, now time.Time) string {
	local := ts.Local()
	today := startOfDay(now.Local())
	switch startOfDay(local) {
	case today:
		return "Today"
	case today.AddDate(0, 0, -1):
		return "Yesterday"
	}
	if local.Year() == now.Year() {
		return local.Format("2 Jan")
	}
	return local.Format("2 Jan 2006")
}
