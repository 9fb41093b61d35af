package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	"mediaconsole/models"
)

var (
	ErrAreaIDRequired     = errors.New("area id is required")
	ErrUnknownArea        = errors.New("unknown area")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrContentNotFound    = errors.New("content not found")
)

// Source is the read-only query interface over published content.
type Source interface {
	ListPublishedByArea(ctx context.Context, areaID string) ([]models.ContentItem, error)
	ListPublished(ctx context.Context) ([]models.ContentItem, error)
}

// AreaLookup resolves area definitions.
type AreaLookup interface {
	Area(id string) (models.AreaDefinition, bool)
}

// View is a sorted, area-scoped slice of the catalog.
type View struct {
	AreaID     string               `json:"areaId"`
	Items      []models.ContentItem `json:"items"`
	Cities     []string             `json:"cities"`
	CityFilter bool                 `json:"cityFilter"`
	LoadedAt   time.Time            `json:"loadedAt"`
	Stale      bool                 `json:"stale,omitempty"`
}

// FilterByCity narrows the view to items tagged with city. It is a no-op when city is empty
// or the area does not support geographic sub-filtering.
func (v View) FilterByCity(city string) []models.ContentItem {
	key := foldCity(city)
	if key == "" || !v.CityFilter {
		return v.Items
	}
	out := make([]models.ContentItem, 0, len(v.Items))
	for _, item := range v.Items {
		if hasCity(item, key) {
			out = append(out, item)
		}
	}
	return out
}

// Options tunes retry behaviour.
type Options struct {
	Attempts   uint
	RetryDelay time.Duration
	WarmLimit  int
}

// Service loads and caches catalog views. A failed reload keeps serving the previous view.
type Service struct {
	mu      sync.RWMutex
	source  Source
	areas   AreaLookup
	opts    Options
	views   map[string]View
	global  []models.ContentItem
	hasAll  bool
	nowFunc func() time.Time
}

// NewService constructs a catalog service.
func NewService(source Source, areas AreaLookup, opts Options) *Service {
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.WarmLimit <= 0 {
		opts.WarmLimit = 4
	}
	return &Service{
		source:  source,
		areas:   areas,
		opts:    opts,
		views:   make(map[string]View),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// LoadArea fetches the published items of an area. On failure it returns
// ErrCatalogUnavailable together with the previously loaded view, marked stale.
func (s *Service) LoadArea(ctx context.Context, areaID string) (View, error) {
	areaID = strings.TrimSpace(areaID)
	if areaID == "" {
		return View{}, ErrAreaIDRequired
	}
	area, ok := s.areas.Area(areaID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownArea, areaID)
	}

	items, err := retry.DoWithData(
		func() ([]models.ContentItem, error) {
			return s.source.ListPublishedByArea(ctx, areaID)
		},
		s.retryOptions(ctx)...,
	)
	if err != nil {
		log.Printf("[catalog] load area %s failed: %v", areaID, err)
		s.mu.RLock()
		previous, had := s.views[areaID]
		s.mu.RUnlock()
		if had {
			previous.Stale = true
		} else {
			previous = View{AreaID: areaID, Items: []models.ContentItem{}, Cities: []string{}, CityFilter: area.CityFilter, Stale: true}
		}
		return previous, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	scoped := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		if item.IsPublished && item.AreaID == areaID {
			scoped = append(scoped, item)
		}
	}
	SortItems(scoped)

	view := View{
		AreaID:     areaID,
		Items:      scoped,
		Cities:     []string{},
		CityFilter: area.CityFilter,
		LoadedAt:   s.nowFunc(),
	}
	if area.CityFilter {
		view.Cities = DistinctCities(scoped)
	}

	s.mu.Lock()
	s.views[areaID] = view
	s.mu.Unlock()

	return view, nil
}

// Cached returns the last successfully loaded view for an area.
func (s *Service) Cached(areaID string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.views[areaID]
	return view, ok
}

// LoadGlobal fetches the full published catalog, sorted like an area view.
func (s *Service) LoadGlobal(ctx context.Context) ([]models.ContentItem, error) {
	items, err := retry.DoWithData(
		func() ([]models.ContentItem, error) {
			return s.source.ListPublished(ctx)
		},
		s.retryOptions(ctx)...,
	)
	if err != nil {
		log.Printf("[catalog] load global catalog failed: %v", err)
		s.mu.RLock()
		previous, had := s.global, s.hasAll
		s.mu.RUnlock()
		if had {
			return previous, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		return []models.ContentItem{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	published := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		if item.IsPublished {
			published = append(published, item)
		}
	}
	SortItems(published)

	s.mu.Lock()
	s.global = published
	s.hasAll = true
	s.mu.Unlock()

	return published, nil
}

// Find resolves a content id from cached views, falling back to the global catalog.
func (s *Service) Find(ctx context.Context, contentID string) (models.ContentItem, error) {
	s.mu.RLock()
	for _, view := range s.views {
		for _, item := range view.Items {
			if item.ID == contentID {
				s.mu.RUnlock()
				return item, nil
			}
		}
	}
	s.mu.RUnlock()

	items, err := s.LoadGlobal(ctx)
	for _, item := range items {
		if item.ID == contentID {
			return item, nil
		}
	}
	if err != nil {
		return models.ContentItem{}, err
	}
	return models.ContentItem{}, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
}

// Warm preloads the given areas concurrently. Failures are logged and do not stop the
// remaining areas.
func (s *Service) Warm(ctx context.Context, areaIDs []string) {
	start := time.Now()
	p := pool.New().WithMaxGoroutines(s.opts.WarmLimit).WithContext(ctx)
	for _, id := range areaIDs {
		p.Go(func(ctx context.Context) error {
			if _, err := s.LoadArea(ctx, id); err != nil {
				log.Printf("[catalog] warm %s: %v", id, err)
			}
			return nil
		})
	}
	_ = p.Wait()
	log.Printf("[catalog] warmed %d area(s) in %s", len(areaIDs), time.Since(start).Round(time.Millisecond))
}

func (s *Service) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(s.opts.Attempts),
		retry.Delay(s.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}

// SortItems orders items by sort order ascending (missing last), then newest creation first,
// then id.
func SortItems(items []models.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		oi, oj := items[i].EffectiveSortOrder(), items[j].EffectiveSortOrder()
		if oi != oj {
			return oi < oj
		}
		ci, cj := createdMillis(items[i]), createdMillis(items[j])
		if ci != cj {
			return ci > cj
		}
		return items[i].ID < items[j].ID
	})
}

func createdMillis(item models.ContentItem) int64 {
	if item.CreatedAt == nil {
		return 0
	}
	return item.CreatedAt.UnixMilli()
}
