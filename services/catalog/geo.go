package catalog

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"mediaconsole/models"
)

// foldCity reduces a city name to a comparison key: diacritics removed, case folded,
// whitespace collapsed. "São Paulo" and "sao  paulo" share a key.
func foldCity(city string) string {
	ascii := unidecode.Unidecode(strings.TrimSpace(city))
	// A Caser carries state and is not shared between goroutines.
	return strings.Join(strings.Fields(cases.Fold().String(ascii)), " ")
}

// DistinctCities returns the distinct non-empty city values across items. The first spelling
// seen for a key is kept; the result is in collation order.
func DistinctCities(items []models.ContentItem) []string {
	seen := make(map[string]struct{})
	cities := make([]string, 0)
	for _, item := range items {
		for _, city := range item.Cities {
			display := strings.TrimSpace(city)
			if display == "" {
				continue
			}
			key := foldCity(display)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			cities = append(cities, display)
		}
	}
	collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics).SortStrings(cities)
	return cities
}

func hasCity(item models.ContentItem, key string) bool {
	for _, city := range item.Cities {
		if foldCity(city) == key {
			return true
		}
	}
	return false
}
