package catalog

import "sort"

// SortCategories orders categories by name, then id.
func SortCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].Name != cats[j].Name {
			return cats[i].Name < cats[j].Name
		}
		return cats[i].ID < cats[j].ID
	})
}

// SortByName orders items by name using byte-wise comparison.
func SortByName(items []MediaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
}

// SortByNumber orders seasons by season number and episodes by episode
// number, falling back to name. Unnumbered items sort last.
func SortByNumber(items []MediaItem) {
	num := func(m MediaItem) int {
		n := m.SeasonNumber
		if m.Type == ItemEpisode {
			n = m.EpisodeNumber
		}
		if n <= 0 {
			return int(^uint(0) >> 1)
		}
		return n
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := num(items[i]), num(items[j])
		if a != b {
			return a < b
		}
		return items[i].Name < items[j].Name
	})
}

// Sort applies the ordering appropriate for the listing: by number for
// seasons and episodes, by name for everything else.
func Sort(items []MediaItem) {
	if len(items) == 0 {
		return
	}
	switch items[0].Type {
	case ItemSeason, ItemEpisode:
		SortByNumber(items)
	default:
		SortByName(items)
	}
}

// Dedupe drops items whose Key was already seen; the first occurrence wins.
// Items without a key are dropped. The input slice is reused.
func Dedupe(items []MediaItem) []MediaItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		k := it.Key()
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
