package wardrobe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// styleKeywords is the vocabulary recognized in style tags. Tags outside it
// still live on the item; they just do not feed the aggregates.
var styleKeywords = []string{
	"minimalist", "formal", "casual", "elegant", "vintage", "modern",
	"classic", "trendy", "bohemian", "street", "business", "sporty",
	"romantic", "edgy", "preppy", "grunge", "feminine", "masculine",
}

// insightsItemCap bounds how many catalog items feed one insights pass.
const insightsItemCap = 1000

// evolutionWindow splits the catalog into a recent and an older bucket.
const evolutionWindow = 30 * 24 * time.Hour

// StyleInsights aggregates a wardrobe into style, color and category shares.
type StyleInsights struct {
	TotalItems           int                `json:"total_items"`
	StylePreferences     map[string]float64 `json:"style_preferences"`
	ColorPalette         []ColorShare       `json:"color_palette"`
	CategoryDistribution map[string]float64 `json:"category_distribution"`
	StyleEvolution       *StyleEvolution    `json:"style_evolution,omitempty"`
}

// ColorShare is one color's share of all color mentions, most frequent first.
type ColorShare struct {
	Color      string  `json:"color"`
	Percentage float64 `json:"percentage"`
}

// StyleEvolution compares keyword shares between items added in the last 30
// days and everything older. Only shifts of at least five points are kept.
type StyleEvolution struct {
	RecentItems   int                   `json:"recent_items"`
	PreviousItems int                   `json:"previous_items"`
	Shifts        map[string]StyleShift `json:"shifts"`
}

type StyleShift struct {
	RecentPercentage   float64 `json:"recent_percentage"`
	PreviousPercentage float64 `json:"previous_percentage"`
	Change             float64 `json:"change"`
	Trend              string  `json:"trend"`
}

// StyleInsights computes the aggregates over the owner's whole catalog.
func (s *Service) StyleInsights(ctx context.Context, ownerID uuid.UUID) (*StyleInsights, error) {
	items, err := s.allItems(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	insights := &StyleInsights{
		TotalItems:           len(items),
		StylePreferences:     keywordShares(items),
		ColorPalette:         colorPalette(items),
		CategoryDistribution: categoryDistribution(items),
		StyleEvolution:       styleEvolution(items, time.Now()),
	}
	return insights, nil
}

// allItems pages through the catalog up to the insights cap. The store caps
// a single page, so large wardrobes take several reads.
func (s *Service) allItems(ctx context.Context, ownerID uuid.UUID) ([]*models.WardrobeItem, error) {
	var items []*models.WardrobeItem
	for page := 1; ; page++ {
		batch, total, err := s.store.ListWardrobeItems(ctx, store.WardrobeFilter{
			OwnerID: ownerID,
			Page:    page,
			Limit:   100,
		})
		if err != nil {
			return nil, fmt.Errorf("listing wardrobe items: %w", err)
		}
		items = append(items, batch...)
		if len(batch) == 0 || len(items) >= total || len(items) >= insightsItemCap {
			return items, nil
		}
	}
}

// keywordShares is the percentage of items carrying each style keyword.
// Keywords no item carries are omitted.
func keywordShares(items []*models.WardrobeItem) map[string]float64 {
	shares := make(map[string]float64)
	if len(items) == 0 {
		return shares
	}
	for _, keyword := range styleKeywords {
		count := 0
		for _, item := range items {
			if hasKeyword(item, keyword) {
				count++
			}
		}
		if count > 0 {
			shares[keyword] = round1(float64(count) / float64(len(items)) * 100)
		}
	}
	return shares
}

func hasKeyword(item *models.WardrobeItem, keyword string) bool {
	for _, tag := range item.StyleTags {
		if strings.Contains(strings.ToLower(tag), keyword) {
			return true
		}
	}
	return false
}

// colorPalette shares are relative to color mentions, not items: a two-color
// item contributes twice.
func colorPalette(items []*models.WardrobeItem) []ColorShare {
	counts := make(map[string]int)
	total := 0
	for _, item := range items {
		for _, color := range item.Colors {
			color = strings.ToLower(strings.TrimSpace(color))
			if color == "" {
				continue
			}
			counts[color]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	palette := make([]ColorShare, 0, len(counts))
	for color, count := range counts {
		palette = append(palette, ColorShare{
			Color:      titleCase(color),
			Percentage: round1(float64(count) / float64(total) * 100),
		})
	}
	sort.Slice(palette, func(i, j int) bool {
		if palette[i].Percentage != palette[j].Percentage {
			return palette[i].Percentage > palette[j].Percentage
		}
		return palette[i].Color < palette[j].Color
	})
	return palette
}

func categoryDistribution(items []*models.WardrobeItem) map[string]float64 {
	dist := make(map[string]float64)
	if len(items) == 0 {
		return dist
	}
	counts := make(map[string]int)
	for _, item := range items {
		counts[strings.ToLower(item.Category)]++
	}
	for category, count := range counts {
		dist[category] = round1(float64(count) / float64(len(items)) * 100)
	}
	return dist
}

// styleEvolution needs at least four items and a non-empty bucket on each
// side of the window; otherwise there is nothing meaningful to compare.
func styleEvolution(items []*models.WardrobeItem, now time.Time) *StyleEvolution {
	if len(items) < 4 {
		return nil
	}

	cutoff := now.Add(-evolutionWindow)
	var recent, older []*models.WardrobeItem
	for _, item := range items {
		if item.CreatedAt.After(cutoff) {
			recent = append(recent, item)
		} else {
			older = append(older, item)
		}
	}
	if len(recent) == 0 || len(older) == 0 {
		return nil
	}

	shifts := make(map[string]StyleShift)
	for _, keyword := range styleKeywords {
		recentPct := keywordShare(recent, keyword)
		olderPct := keywordShare(older, keyword)
		change := round1(recentPct - olderPct)
		if math.Abs(change) < 5.0 {
			continue
		}
		trend := "up"
		if change < 0 {
			trend = "down"
		}
		shifts[keyword] = StyleShift{
			RecentPercentage:   recentPct,
			PreviousPercentage: olderPct,
			Change:             change,
			Trend:              trend,
		}
	}
	if len(shifts) == 0 {
		return nil
	}
	return &StyleEvolution{
		RecentItems:   len(recent),
		PreviousItems: len(older),
		Shifts:        shifts,
	}
}

func keywordShare(items []*models.WardrobeItem, keyword string) float64 {
	count := 0
	for _, item := range items {
		if hasKeyword(item, keyword) {
			count++
		}
	}
	return round1(float64(count) / float64(len(items)) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
