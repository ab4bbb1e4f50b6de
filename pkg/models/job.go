package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TryOnStatusProcessing = "processing"
	TryOnStatusCompleted  = "completed"
	TryOnStatusFailed     = "failed"
)

// Item source kinds. A wardrobe item is resolved through the catalog; an
// external item carries its own URL or inline payload.
const (
	ItemSourceWardrobe = "wardrobe"
	ItemSourceExternal = "external"
)

// TryOnItem describes one garment input of a try-on job. Stored as part of
// the job's items JSON column; immutable after creation.
type TryOnItem struct {
	Kind           string     `json:"kind"`
	WardrobeItemID *uuid.UUID `json:"wardrobe_item_id,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	ImageData      []byte     `json:"image_data,omitempty"`
	ImageMime      string     `json:"image_mime,omitempty"`
	Category       string     `json:"category"`
	Colors         []string   `json:"colors"`
	StyleTags      []string   `json:"style_tags,omitempty"`
}

// TryOnJob is the persisted record of one try-on request. The API returns the
// job id on POST /api/v1/tryon; the client polls GET /api/v1/tryon/{job_id}
// until status is completed or failed. ResultURL stays empty until the result
// has been durably uploaded; before that a completed job's image is served
// from the fast result cache.
type TryOnJob struct {
	ID               uuid.UUID   `db:"id"                 json:"id"`
	OwnerID          uuid.UUID   `db:"owner_id"           json:"owner_id"`
	SubjectImageURL  *string     `db:"subject_image_url"  json:"subject_image_url,omitempty"`
	SubjectImageData []byte      `db:"subject_image_data" json:"-"`
	SubjectImageMime *string     `db:"subject_image_mime" json:"-"`
	Items            []TryOnItem `db:"items"              json:"items"`
	Status           string      `db:"status"             json:"status"`
	ResultURL        *string     `db:"result_url"         json:"result_url,omitempty"`
	ErrorMessage     *string     `db:"error_message"      json:"error_message,omitempty"`
	CleanBackground  bool        `db:"clean_background"   json:"clean_background"`
	Instruction      *string     `db:"instruction"        json:"instruction,omitempty"`
	StartedAt        *time.Time  `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time  `db:"completed_at"       json:"completed_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"         json:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *TryOnJob) Terminal() bool {
	return j.Status == TryOnStatusCompleted || j.Status == TryOnStatusFailed
}
