package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// maxErrorMessageLen bounds the stored failure reason so a verbose upstream
// error cannot grow the jobs table without limit.
const maxErrorMessageLen = 500

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateTryOnJob(ctx context.Context, job *models.TryOnJob) error
	GetTryOnJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.TryOnJob, error)
	GetTryOnJobByID(ctx context.Context, id uuid.UUID) (*models.TryOnJob, error)
	ListTryOnJobs(ctx context.Context, filter JobFilter) ([]*models.TryOnJob, int, error)
	UpdateTryOnJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	SetTryOnJobResultURL(ctx context.Context, id uuid.UUID, resultURL string) error
	DeleteTryOnJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
	FailStaleTryOnJobs(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
	ListUndeliveredTryOnJobs(ctx context.Context, olderThan time.Duration) ([]*models.TryOnJob, error)
	DemoteUndeliveredTryOnJob(ctx context.Context, id uuid.UUID, reason string) error

	CreateWardrobeItem(ctx context.Context, item *models.WardrobeItem) error
	GetWardrobeItem(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.WardrobeItem, error)
	ListWardrobeItems(ctx context.Context, filter WardrobeFilter) ([]*models.WardrobeItem, int, error)
	UpdateWardrobeItem(ctx context.Context, item *models.WardrobeItem) error
	DeleteWardrobeItem(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
	MarkWardrobeItemWorn(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
}

type JobFilter struct {
	OwnerID uuid.UUID
	Status  string
	Page    int
	Limit   int
}

type WardrobeFilter struct {
	OwnerID  uuid.UUID
	Category string
	Page     int
	Limit    int
}

// JobUpdate collects the optional fields of a status update. Exported so
// Store fakes can apply options the same way PostgresStore does.
type JobUpdate struct {
	ErrorMessage *string
	ResultURL    *string
}

// ApplyJobUpdateOptions folds opts into a JobUpdate.
func ApplyJobUpdateOptions(opts []JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		truncated := truncateString(msg, maxErrorMessageLen)
		u.ErrorMessage = &truncated
	}
}

func WithResultURL(url string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ResultURL = &url
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && s[maxBytes]&0xC0 == 0x80 {
		maxBytes--
	}
	return s[:maxBytes]
}
