package wardrobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/storage"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// ErrValidation marks a rejected wardrobe request.
var ErrValidation = errors.New("invalid wardrobe request")

// Service manages the garment catalog. Item images are uploaded once at
// creation; try-on jobs reference them by catalog id.
type Service struct {
	store   store.Store
	storage storage.Uploader
	logger  *slog.Logger
}

func NewService(st store.Store, up storage.Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, storage: up, logger: logger}
}

// CreateParams describes a new catalog item. ImageData is raw bytes or a
// data URL; either way the image lands in object storage, never the database.
type CreateParams struct {
	Title     string
	Category  string
	Colors    []string
	StyleTags []string
	ImageData []byte
	ImageMime string
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, params CreateParams) (*models.WardrobeItem, error) {
	if params.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if params.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrValidation)
	}

	item := &models.WardrobeItem{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     params.Title,
		Category:  params.Category,
		Colors:    params.Colors,
		StyleTags: params.StyleTags,
	}

	if len(params.ImageData) > 0 {
		mime := params.ImageMime
		if mime == "" {
			mime = "image/jpeg"
		}
		key := itemObjectKey(ownerID, item.ID, mime)
		url, err := s.storage.Put(ctx, key, mime, params.ImageData)
		if err != nil {
			return nil, fmt.Errorf("uploading item image: %w", err)
		}
		item.ImageURL = &url
	}

	if err := s.store.CreateWardrobeItem(ctx, item); err != nil {
		return nil, fmt.Errorf("creating wardrobe item: %w", err)
	}

	s.logger.Info("wardrobe item created", "item_id", item.ID, "owner_id", ownerID, "category", item.Category)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id, ownerID uuid.UUID) (*models.WardrobeItem, error) {
	return s.store.GetWardrobeItem(ctx, id, ownerID)
}

func (s *Service) List(ctx context.Context, filter store.WardrobeFilter) ([]*models.WardrobeItem, int, error) {
	return s.store.ListWardrobeItems(ctx, filter)
}

// UpdateParams carries the mutable fields. Nil means leave unchanged.
type UpdateParams struct {
	Title     *string
	Category  *string
	Colors    []string
	StyleTags []string
}

func (s *Service) Update(ctx context.Context, id, ownerID uuid.UUID, params UpdateParams) (*models.WardrobeItem, error) {
	item, err := s.store.GetWardrobeItem(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if params.Title != nil {
		if *params.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		item.Title = *params.Title
	}
	if params.Category != nil {
		if *params.Category == "" {
			return nil, fmt.Errorf("%w: category cannot be empty", ErrValidation)
		}
		item.Category = *params.Category
	}
	if params.Colors != nil {
		item.Colors = params.Colors
	}
	if params.StyleTags != nil {
		item.StyleTags = params.StyleTags
	}

	if err := s.store.UpdateWardrobeItem(ctx, item); err != nil {
		return nil, fmt.Errorf("updating wardrobe item: %w", err)
	}
	return item, nil
}

// Delete removes the catalog row. The stored image is kept; generated try-on
// results may still reference scenes built from it.
func (s *Service) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	return s.store.DeleteWardrobeItem(ctx, id, ownerID)
}

// MarkWorn bumps the wear counter and stamps last_worn_at.
func (s *Service) MarkWorn(ctx context.Context, id, ownerID uuid.UUID) error {
	return s.store.MarkWardrobeItemWorn(ctx, id, ownerID)
}

func itemObjectKey(ownerID, itemID uuid.UUID, mime string) string {
	return fmt.Sprintf("wardrobe/%s/%s.%s", ownerID, itemID, extensionFor(mime))
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
