package autoplay

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"mediaconsole/models"
)

// Candidate is the normalized view of a content item that PickFreshest works on.
type Candidate struct {
	Freshness int64 // unix milliseconds, 0 when unknown
	SortOrder int
}

// Reasons reported alongside a selection.
const (
	ReasonAreaFreshest   = "area-freshest"
	ReasonAreaCurated    = "area-curated-order"
	ReasonGlobalFreshest = "global-freshest"
	ReasonGlobalCurated  = "global-curated-order"
)

var confirmedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

// PickFreshest returns the index of the candidate to auto-play. Candidates are ranked by
// freshness descending, ties broken by ascending sort order. When no candidate has any
// freshness the lowest sort order wins instead. Equal candidates keep input order.
func PickFreshest(cands []Candidate) (int, bool) {
	if len(cands) == 0 {
		return -1, false
	}

	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := cands[idx[a]], cands[idx[b]]
		if ca.Freshness != cb.Freshness {
			return ca.Freshness > cb.Freshness
		}
		return ca.SortOrder < cb.SortOrder
	})
	if cands[idx[0]].Freshness > 0 {
		return idx[0], true
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return cands[idx[a]].SortOrder < cands[idx[b]].SortOrder
	})
	return idx[0], true
}

// Freshness is the latest of an item's update, creation, and confirmation timestamps in
// unix milliseconds. Missing or unparseable timestamps count as zero.
func Freshness(item models.ContentItem) int64 {
	var best int64
	if item.UpdatedAt != nil && !item.UpdatedAt.IsZero() {
		best = max(best, item.UpdatedAt.UnixMilli())
	}
	if item.CreatedAt != nil && !item.CreatedAt.IsZero() {
		best = max(best, item.CreatedAt.UnixMilli())
	}
	best = max(best, ParseTimestamp(item.ConfirmedAt))
	if best < 0 {
		return 0
	}
	return best
}

// ParseTimestamp parses a free-form timestamp into unix milliseconds. Digits are read as
// unix seconds, or milliseconds when they have more than ten digits.
func ParseTimestamp(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0
		}
		if len(raw) > 10 {
			return n
		}
		return n * 1000
	}

	for _, layout := range confirmedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if ms := t.UnixMilli(); ms > 0 {
				return ms
			}
			return 0
		}
	}
	return 0
}

// Candidates normalizes items for PickFreshest.
func Candidates(items []models.ContentItem) []Candidate {
	cands := make([]Candidate, len(items))
	for i, item := range items {
		cands[i] = Candidate{Freshness: Freshness(item), SortOrder: item.EffectiveSortOrder()}
	}
	return cands
}

// Choose picks from a single list and reports whether freshness or curated order decided.
func Choose(items []models.ContentItem) (models.ContentItem, bool, bool) {
	cands := Candidates(items)
	i, ok := PickFreshest(cands)
	if !ok {
		return models.ContentItem{}, false, false
	}
	return items[i], cands[i].Freshness > 0, true
}

// GlobalLoader fetches the full published catalog; it is only called when the area scope is
// empty.
type GlobalLoader func(ctx context.Context) ([]models.ContentItem, error)

// Select chooses the item to auto-play, trying the area's catalog first and falling back to
// the global catalog. ok is false when both are empty, leaving the ambient default active.
func Select(ctx context.Context, areaItems []models.ContentItem, loadGlobal GlobalLoader) (item models.ContentItem, reason string, ok bool, err error) {
	if picked, fresh, found := Choose(areaItems); found {
		if fresh {
			return picked, ReasonAreaFreshest, true, nil
		}
		return picked, ReasonAreaCurated, true, nil
	}

	if loadGlobal == nil {
		return models.ContentItem{}, "", false, nil
	}
	global, err := loadGlobal(ctx)
	if err != nil {
		return models.ContentItem{}, "", false, fmt.Errorf("load global catalog: %w", err)
	}
	if picked, fresh, found := Choose(global); found {
		if fresh {
			return picked, ReasonGlobalFreshest, true, nil
		}
		return picked, ReasonGlobalCurated, true, nil
	}
	return models.ContentItem{}, "", false, nil
}
