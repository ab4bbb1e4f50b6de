package models

import (
	"time"

	"github.com/google/uuid"
)

// WardrobeItem is a catalog record of one garment owned by a user. Try-on
// items of kind "wardrobe" resolve their image through this record.
type WardrobeItem struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	OwnerID    uuid.UUID  `db:"owner_id"     json:"owner_id"`
	Title      string     `db:"title"        json:"title"`
	Category   string     `db:"category"     json:"category"`
	Colors     []string   `db:"colors"       json:"colors"`
	StyleTags  []string   `db:"style_tags"   json:"style_tags,omitempty"`
	ImageURL   *string    `db:"image_url"    json:"image_url,omitempty"`
	WornCount  int        `db:"worn_count"   json:"worn_count"`
	LastWornAt *time.Time `db:"last_worn_at" json:"last_worn_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
