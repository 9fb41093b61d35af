package autoplay

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaconsole/models"
)

func intPtr(v int) *int { return &v }

func at(ms int64) *time.Time {
	t := time.UnixMilli(ms).UTC()
	return &t
}

func TestPickFreshest(t *testing.T) {
	tests := []struct {
		name   string
		cands  []Candidate
		want   int
		wantOk bool
	}{
		{"empty", nil, -1, false},
		{"freshest wins", []Candidate{{Freshness: 50, SortOrder: 1}, {Freshness: 100, SortOrder: 2}}, 1, true},
		{"freshness tie broken by sort order", []Candidate{{Freshness: 100, SortOrder: 3}, {Freshness: 100, SortOrder: 1}}, 1, true},
		{"all zero uses curated order", []Candidate{{SortOrder: 2}, {SortOrder: 1}}, 1, true},
		{"all zero equal order keeps input order", []Candidate{{SortOrder: 5}, {SortOrder: 5}}, 0, true},
		{"any freshness beats curated order", []Candidate{{SortOrder: 1}, {Freshness: 1, SortOrder: 999}}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickFreshest(tt.cands)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("PickFreshest() = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestFreshnessUsesLatestTimestamp(t *testing.T) {
	item := models.ContentItem{
		CreatedAt:   at(1_000),
		UpdatedAt:   at(2_000),
		ConfirmedAt: "1970-01-01T00:00:05Z",
	}
	if got := Freshness(item); got != 5_000 {
		t.Fatalf("Freshness() = %d, want 5000", got)
	}

	if got := Freshness(models.ContentItem{ConfirmedAt: "sometime soon"}); got != 0 {
		t.Fatalf("unparseable confirmation should normalize to zero, got %d", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"garbage", 0},
		{"1700000000", 1_700_000_000_000},
		{"1700000000123", 1_700_000_000_123},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{"2024-03-01 10:30:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC).UnixMilli()},
		{"2024-03-01T10:30:00.5Z", time.Date(2024, 3, 1, 10, 30, 0, 500_000_000, time.UTC).UnixMilli()},
		{"-5", 0},
	}
	for _, tt := range tests {
		if got := ParseTimestamp(tt.input); got != tt.want {
			t.Errorf("ParseTimestamp(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestSelectPrefersFreshItem(t *testing.T) {
	items := []models.ContentItem{
		{ID: "A", UpdatedAt: at(100), SortOrder: intPtr(2)},
		{ID: "B", UpdatedAt: at(50), SortOrder: intPtr(1)},
	}
	got, reason, ok, err := Select(context.Background(), items, nil)
	if err != nil || !ok {
		t.Fatalf("Select() ok=%v err=%v", ok, err)
	}
	if got.ID != "A" || reason != ReasonAreaFreshest {
		t.Fatalf("Select() = %s (%s), want A (%s)", got.ID, reason, ReasonAreaFreshest)
	}
}

func TestSelectFallsBackToCuratedOrder(t *testing.T) {
	items := []models.ContentItem{
		{ID: "A", SortOrder: intPtr(2)},
		{ID: "B", SortOrder: intPtr(1)},
	}
	got, reason, ok, _ := Select(context.Background(), items, nil)
	if !ok || got.ID != "B" || reason != ReasonAreaCurated {
		t.Fatalf("Select() = %s (%s, %v), want B curated", got.ID, reason, ok)
	}
}

func TestSelectUsesGlobalWhenAreaEmpty(t *testing.T) {
	calls := 0
	global := func(context.Context) ([]models.ContentItem, error) {
		calls++
		return []models.ContentItem{{ID: "G", CreatedAt: at(10)}}, nil
	}

	got, reason, ok, err := Select(context.Background(), nil, global)
	if err != nil || !ok || got.ID != "G" || reason != ReasonGlobalFreshest {
		t.Fatalf("Select() = %s (%s, %v, %v)", got.ID, reason, ok, err)
	}

	if _, _, _, err := Select(context.Background(), []models.ContentItem{{ID: "X"}}, global); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("global catalog should only load when the area is empty, loaded %d times", calls)
	}
}

func TestSelectNothingWhenBothEmpty(t *testing.T) {
	empty := func(context.Context) ([]models.ContentItem, error) { return nil, nil }
	if _, _, ok, err := Select(context.Background(), nil, empty); ok || err != nil {
		t.Fatalf("expected no selection, got ok=%v err=%v", ok, err)
	}

	failing := func(context.Context) ([]models.ContentItem, error) { return nil, errors.New("offline") }
	if _, _, ok, err := Select(context.Background(), nil, failing); ok || err == nil {
		t.Fatalf("expected error from global loader, got ok=%v err=%v", ok, err)
	}
}
