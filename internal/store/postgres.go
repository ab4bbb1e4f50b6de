package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tryrack/tryon/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	stampTimestamps(&key.CreatedAt, &key.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Try-on jobs ---

const tryOnJobColumns = `id, owner_id, subject_image_url, subject_image_data, subject_image_mime,
	items, status, result_url, error_message, clean_background, instruction,
	started_at, completed_at, created_at, updated_at`

func (s *PostgresStore) CreateTryOnJob(ctx context.Context, job *models.TryOnJob) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal job items: %w", err)
	}

	stampTimestamps(&job.CreatedAt, &job.UpdatedAt)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tryon_jobs (id, owner_id, subject_image_url, subject_image_data, subject_image_mime,
		   items, status, clean_background, instruction, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OwnerID, job.SubjectImageURL, job.SubjectImageData, job.SubjectImageMime,
		itemsJSON, job.Status, job.CleanBackground, job.Instruction, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tryon job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTryOnJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.TryOnJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tryOnJobColumns+` FROM tryon_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanTryOnJob(row)
}

func (s *PostgresStore) GetTryOnJobByID(ctx context.Context, id uuid.UUID) (*models.TryOnJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tryOnJobColumns+` FROM tryon_jobs WHERE id = $1`, id)
	return scanTryOnJob(row)
}

func (s *PostgresStore) ListTryOnJobs(ctx context.Context, filter JobFilter) ([]*models.TryOnJob, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM tryon_jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tryon jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+tryOnJobColumns+` FROM tryon_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tryon jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TryOnJob
	for rows.Next() {
		job, err := scanTryOnJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// validTransitions defines the forward-only job state machine. A processing
// job may be re-marked processing: the orchestrator re-writes the status at
// the start of a run to defend against a crash-and-restart duplicate run.
var validTransitions = map[string][]string{
	models.TryOnStatusProcessing: {
		models.TryOnStatusProcessing,
		models.TryOnStatusCompleted,
		models.TryOnStatusFailed,
	},
}

func (s *PostgresStore) UpdateTryOnJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM tryon_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get tryon job status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE tryon_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.TryOnStatusProcessing {
		query += fmt.Sprintf(", started_at = COALESCE(started_at, $%d)", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.TryOnStatusCompleted || status == models.TryOnStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.ResultURL != nil {
		query += fmt.Sprintf(", result_url = $%d", argIdx)
		args = append(args, *params.ResultURL)
		argIdx++
	}

	// Compare-and-swap on the status read above. The liveness sweep mutates
	// status concurrently; an unconditional write here could resurrect a job
	// the sweep just failed.
	query += fmt.Sprintf(" WHERE id = $1 AND status = $%d", argIdx)
	args = append(args, currentStatus)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tryon job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s (status changed concurrently)",
			ErrInvalidTransition, currentStatus, status)
	}
	return nil
}

// SetTryOnJobResultURL records the durable result location after a successful
// upload. It only applies to completed jobs: the cache-first delivery order
// guarantees the status flip has already happened.
func (s *PostgresStore) SetTryOnJobResultURL(ctx context.Context, id uuid.UUID, resultURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tryon_jobs SET result_url = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, resultURL, models.TryOnStatusCompleted)
	if err != nil {
		return fmt.Errorf("set tryon job result url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTryOnJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tryon_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete tryon job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailStaleTryOnJobs fails every job stuck in processing whose last update is
// older than olderThan. Reclaims jobs whose run died with the process.
func (s *PostgresStore) FailStaleTryOnJobs(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	reason = truncateString(reason, maxErrorMessageLen)
	tag, err := s.pool.Exec(ctx,
		`UPDATE tryon_jobs
		 SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE status = $3 AND updated_at < NOW() - $4::interval`,
		models.TryOnStatusFailed, reason, models.TryOnStatusProcessing,
		fmt.Sprintf("%d milliseconds", olderThan.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("fail stale tryon jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListUndeliveredTryOnJobs returns completed jobs whose result never reached
// durable storage, completed at least olderThan ago.
func (s *PostgresStore) ListUndeliveredTryOnJobs(ctx context.Context, olderThan time.Duration) ([]*models.TryOnJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tryOnJobColumns+` FROM tryon_jobs
		 WHERE status = $1 AND result_url IS NULL AND completed_at < NOW() - $2::interval
		 ORDER BY completed_at ASC`,
		models.TryOnStatusCompleted,
		fmt.Sprintf("%d milliseconds", olderThan.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("list undelivered tryon jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TryOnJob
	for rows.Next() {
		job, err := scanTryOnJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DemoteUndeliveredTryOnJob fails a completed job whose result expired from
// the cache before it could be uploaded. The status guard keeps the demotion
// from clobbering a job whose upload raced in after the sweep's read.
func (s *PostgresStore) DemoteUndeliveredTryOnJob(ctx context.Context, id uuid.UUID, reason string) error {
	reason = truncateString(reason, maxErrorMessageLen)
	tag, err := s.pool.Exec(ctx,
		`UPDATE tryon_jobs
		 SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4 AND result_url IS NULL`,
		id, models.TryOnStatusFailed, reason, models.TryOnStatusCompleted)
	if err != nil {
		return fmt.Errorf("demote undelivered tryon job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Wardrobe items ---

const wardrobeItemColumns = `id, owner_id, title, category, colors, style_tags,
	image_url, worn_count, last_worn_at, created_at, updated_at`

func (s *PostgresStore) CreateWardrobeItem(ctx context.Context, item *models.WardrobeItem) error {
	stampTimestamps(&item.CreatedAt, &item.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wardrobe_items (id, owner_id, title, category, colors, style_tags, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.OwnerID, item.Title, item.Category, item.Colors, item.StyleTags,
		item.ImageURL, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wardrobe item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWardrobeItem(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.WardrobeItem, error) {
	var it models.WardrobeItem
	err := s.pool.QueryRow(ctx,
		`SELECT `+wardrobeItemColumns+` FROM wardrobe_items WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&it.ID, &it.OwnerID, &it.Title, &it.Category, &it.Colors, &it.StyleTags,
		&it.ImageURL, &it.WornCount, &it.LastWornAt, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wardrobe item: %w", err)
	}
	return &it, nil
}

func (s *PostgresStore) ListWardrobeItems(ctx context.Context, filter WardrobeFilter) ([]*models.WardrobeItem, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, filter.Category)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wardrobe_items WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wardrobe items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT `+wardrobeItemColumns+` FROM wardrobe_items WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list wardrobe items: %w", err)
	}
	defer rows.Close()

	var items []*models.WardrobeItem
	for rows.Next() {
		var it models.WardrobeItem
		if err := rows.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Category, &it.Colors, &it.StyleTags,
			&it.ImageURL, &it.WornCount, &it.LastWornAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan wardrobe item: %w", err)
		}
		items = append(items, &it)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) UpdateWardrobeItem(ctx context.Context, item *models.WardrobeItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wardrobe_items
		 SET title = $3, category = $4, colors = $5, style_tags = $6, image_url = $7, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`,
		item.ID, item.OwnerID, item.Title, item.Category, item.Colors, item.StyleTags, item.ImageURL)
	if err != nil {
		return fmt.Errorf("update wardrobe item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteWardrobeItem(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wardrobe_items WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete wardrobe item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkWardrobeItemWorn(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wardrobe_items
		 SET worn_count = worn_count + 1, last_worn_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("mark wardrobe item worn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTryOnJob(row rowScanner) (*models.TryOnJob, error) {
	var j models.TryOnJob
	var itemsJSON []byte
	err := row.Scan(&j.ID, &j.OwnerID, &j.SubjectImageURL, &j.SubjectImageData, &j.SubjectImageMime,
		&itemsJSON, &j.Status, &j.ResultURL, &j.ErrorMessage, &j.CleanBackground, &j.Instruction,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tryon job: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &j.Items); err != nil {
		return nil, fmt.Errorf("unmarshal job items: %w", err)
	}
	return &j, nil
}

// stampTimestamps fills zero created/updated timestamps before an insert.
func stampTimestamps(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = now
	}
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
