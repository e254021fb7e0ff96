// backend/internal/chronology/chronology.go
package chronology

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/historyflow/backend/internal/models"
)

// DefaultStartYear is the lower bound used when a request supplies only an
// end year. It mirrors the product's "recent past to now" window.
const DefaultStartYear = 1900

var (
	// Compiled regex patterns for better performance
	bcPattern = regexp.MustCompile(`(?i)(?:[A-Za-z]+\s+)?\b(\d{1,4})\s*BCE?\b`)
	adPattern = regexp.MustCompile(`(?:[A-Za-z]+\s+)?\b(\d{1,4})$`)
)

// ParseYear extracts a signed year from a display date such as "1945",
// "July 1969" or "44 BC". BCE years come back negative. The second return
// is false when no year can be recognized.
func ParseYear(dateText string) (int, bool) {
	if dateText == "" {
		return 0, false
	}

	if m := bcPattern.FindStringSubmatch(dateText); m != nil {
		year, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return -year, true
	}

	if m := adPattern.FindStringSubmatch(dateText); m != nil {
		year, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return year, true
	}

	return 0, false
}

// Compare orders two events by parsed year. Events without a recognizable
// year sort before all dated events.
func Compare(a, b models.TimelineEvent) int {
	yearA, okA := ParseYear(a.Date)
	yearB, okB := ParseYear(b.Date)

	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	case yearA < yearB:
		return -1
	case yearA > yearB:
		return 1
	default:
		return 0
	}
}

// SortEvents sorts events ascending by year, in place. The sort is stable
// so events sharing a year (or lacking one) keep their insertion order.
func SortEvents(events []models.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return Compare(events[i], events[j]) < 0
	})
}

// DropUndated returns only the events whose date yields a year. Cached
// records keep just the events with resolvable chronology.
func DropUndated(events []models.TimelineEvent) []models.TimelineEvent {
	kept := make([]models.TimelineEvent, 0, len(events))
	for _, event := range events {
		if _, ok := ParseYear(event.Date); ok {
			kept = append(kept, event)
		}
	}
	return kept
}

// FilterByRange keeps events whose parsed year falls inside [start, end]
// inclusive. Events without a parseable year are always dropped.
func FilterByRange(events []models.TimelineEvent, start, end int) []models.TimelineEvent {
	filtered := make([]models.TimelineEvent, 0, len(events))
	for _, event := range events {
		year, ok := ParseYear(event.Date)
		if !ok {
			continue
		}
		if year >= start && year <= end {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// EffectiveRange resolves optional request bounds into a concrete window.
// A missing end defaults to the current calendar year, a missing start to
// DefaultStartYear. When neither bound is supplied no filtering applies
// and the third return is false.
func EffectiveRange(start, end *int) (int, int, bool) {
	if start == nil && end == nil {
		return 0, 0, false
	}

	effectiveStart := DefaultStartYear
	effectiveEnd := time.Now().Year()

	if start != nil {
		effectiveStart = *start
	}
	if end != nil {
		effectiveEnd = *end
	}

	return effectiveStart, effectiveEnd, true
}
