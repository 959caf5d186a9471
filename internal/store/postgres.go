package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applyhq/applypilot/pkg/models"
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

// --- Users ---

func (s *PostgresStore) GetDefaultUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, timezone, created_at, updated_at FROM users WHERE name = 'default' LIMIT 1`,
	).Scan(&u.ID, &u.Name, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, timezone, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Workflows ---

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflows (id, user_id, cv_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		wf.ID, wf.UserID, wf.CVID, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, cv_id, created_at, updated_at FROM workflows WHERE id = $1`, id,
	).Scan(&wf.ID, &wf.UserID, &wf.CVID, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// --- Queue items ---

const queueItemColumns = `id, workflow_id, user_id, cv_id, job_external_id, status,
	priority, attempts, match_score, last_error, next_run_at, created_at, updated_at`

func scanQueueItem(row pgx.Row) (*models.QueueItem, error) {
	var q models.QueueItem
	err := row.Scan(&q.ID, &q.WorkflowID, &q.UserID, &q.CVID, &q.JobExternalID, &q.Status,
		&q.Priority, &q.Attempts, &q.MatchScore, &q.LastError, &q.NextRunAt, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func collectQueueItems(rows pgx.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()
	var items []*models.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// CreateQueueItems bulk-inserts one pending item per target with next_run_at = now.
func (s *PostgresStore) CreateQueueItems(ctx context.Context, workflowID, userID, cvID uuid.UUID, targets []QueueTarget) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(targets))
	for _, tgt := range targets {
		rows = append(rows, []any{
			uuid.New(), workflowID, userID, cvID, tgt.JobExternalID,
			models.QueueStatusPending, 0, 0, tgt.MatchScore, now, now, now,
		})
	}

	count, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"queue_items"},
		[]string{"id", "workflow_id", "user_id", "cv_id", "job_external_id",
			"status", "priority", "attempts", "match_score", "next_run_at", "created_at", "updated_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("create queue items: %w", err)
	}
	return int(count), nil
}

// GetQueueItems returns all items for a workflow, highest priority first.
func (s *PostgresStore) GetQueueItems(ctx context.Context, workflowID uuid.UUID) ([]*models.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE workflow_id = $1 ORDER BY priority DESC, next_run_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get queue items: %w", err)
	}
	return collectQueueItems(rows)
}

// GetReadyQueueItems returns pending/ready items whose slot has arrived.
func (s *PostgresStore) GetReadyQueueItems(ctx context.Context, workflowID uuid.UUID, now time.Time) ([]*models.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE workflow_id = $1 AND status IN ($2, $3) AND next_run_at <= $4
		 ORDER BY priority DESC, next_run_at ASC`,
		workflowID, models.QueueStatusPending, models.QueueStatusReady, now)
	if err != nil {
		return nil, fmt.Errorf("get ready queue items: %w", err)
	}
	return collectQueueItems(rows)
}

// ListDueItems is the cross-workflow feed for the submission worker.
func (s *PostgresStore) ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE status IN ($1, $2) AND next_run_at <= $3
		 ORDER BY priority DESC, next_run_at ASC LIMIT $4`,
		models.QueueStatusPending, models.QueueStatusReady, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	return collectQueueItems(rows)
}

// The queue item lifecycle. rate_limited -> pending is the only retry path;
// submitted and failed are terminal absent external intervention.
var validTransitions = map[string][]string{
	models.QueueStatusPending:     {models.QueueStatusCustomizing},
	models.QueueStatusCustomizing: {models.QueueStatusReady, models.QueueStatusFailed},
	models.QueueStatusReady:       {models.QueueStatusSubmitting},
	models.QueueStatusSubmitting:  {models.QueueStatusSubmitted, models.QueueStatusFailed, models.QueueStatusRateLimited},
	models.QueueStatusRateLimited: {models.QueueStatusPending},
}

// UpdateQueueItemStatus validates and applies a transition in one transaction.
// The row is locked for the read so two workers racing on the same item see
// serialized transitions.
func (s *PostgresStore) UpdateQueueItemStatus(ctx context.Context, id uuid.UUID, status string, opts ...ItemUpdateOption) error {
	params := ApplyItemUpdateOptions(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM queue_items WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get queue item status: %w", err)
	}

	valid := false
	for _, allowed := range validTransitions[currentStatus] {
		if allowed == status {
			valid = true
			break
		}
	}
	if !valid {
		return &InvalidTransitionError{From: currentStatus, To: status}
	}

	now := time.Now().UTC()
	query := `UPDATE queue_items SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(`, last_error = COALESCE(last_error || E'\n', '') || $%d, attempts = attempts + 1`, argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.NextRunAt != nil {
		query += fmt.Sprintf(`, next_run_at = $%d`, argIdx)
		args = append(args, *params.NextRunAt)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update queue item status: %w", err)
	}
	return tx.Commit(ctx)
}

// GetWorkflowProgress returns counts per status, zero-filled so every known
// status appears even for an empty or unknown workflow.
func (s *PostgresStore) GetWorkflowProgress(ctx context.Context, workflowID uuid.UUID) (map[string]int, error) {
	progress := make(map[string]int, len(models.AllQueueStatuses))
	for _, st := range models.AllQueueStatuses {
		progress[st] = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM queue_items WHERE workflow_id = $1 GROUP BY status`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st string
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		progress[st] = count
	}
	return progress, rows.Err()
}

func (s *PostgresStore) UpdateQueueItemPriority(ctx context.Context, id uuid.UUID, priority int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET priority = $2, updated_at = NOW() WHERE id = $1`, id, priority)
	if err != nil {
		return fmt.Errorf("update queue item priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkUpdateSchedule writes optimizer results back item by item. A failed row
// is logged and skipped; the rest of the batch proceeds. Returns the number of
// items actually updated.
func (s *PostgresStore) BulkUpdateSchedule(ctx context.Context, updates []ScheduleUpdate) (int, error) {
	updated := 0
	for _, u := range updates {
		tag, err := s.pool.Exec(ctx,
			`UPDATE queue_items SET priority = $2, next_run_at = $3, updated_at = NOW() WHERE id = $1`,
			u.ItemID, u.Priority, u.NextRunAt)
		if err != nil {
			slog.Error("schedule write-back failed", "item_id", u.ItemID, "error", err)
			continue
		}
		if tag.RowsAffected() == 0 {
			slog.Warn("schedule write-back matched no item", "item_id", u.ItemID)
			continue
		}
		updated++
	}
	return updated, nil
}

// RequeueRateLimited moves rate_limited items whose delay has elapsed back to
// pending so the submission worker picks them up again.
func (s *PostgresStore) RequeueRateLimited(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND next_run_at <= $3`,
		models.QueueStatusPending, models.QueueStatusRateLimited, now)
	if err != nil {
		return 0, fmt.Errorf("requeue rate limited items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Jobs ---

func (s *PostgresStore) UpsertJobs(ctx context.Context, jobs []models.Job) (int, error) {
	upserted := 0
	for _, j := range jobs {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO jobs (id, external_id, source, title, company, location, url, description, remote, tags, posted_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (external_id) DO UPDATE SET
			   title = EXCLUDED.title,
			   company = EXCLUDED.company,
			   location = EXCLUDED.location,
			   url = EXCLUDED.url,
			   description = EXCLUDED.description,
			   remote = EXCLUDED.remote,
			   tags = EXCLUDED.tags,
			   posted_at = EXCLUDED.posted_at,
			   updated_at = NOW()`,
			j.ID, j.ExternalID, j.Source, j.Title, j.Company, j.Location, j.URL,
			j.Description, j.Remote, j.Tags, j.PostedAt, j.CreatedAt, j.UpdatedAt)
		if err != nil {
			slog.Error("job upsert failed", "external_id", j.ExternalID, "error", err)
			continue
		}
		upserted++
	}
	return upserted, nil
}

func (s *PostgresStore) GetJobsByExternalIDs(ctx context.Context, externalIDs []string) ([]*models.Job, error) {
	if len(externalIDs) == 0 {
		return []*models.Job{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, source, title, company, location, url, description, remote, tags, posted_at, created_at, updated_at
		 FROM jobs WHERE external_id = ANY($1)`, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("get jobs by external ids: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.ExternalID, &j.Source, &j.Title, &j.Company, &j.Location,
			&j.URL, &j.Description, &j.Remote, &j.Tags, &j.PostedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
