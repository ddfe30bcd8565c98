package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ghost-systems/internal/models"
)

const uniqueViolation = "23505"

// Store wraps pgxpool for Postgres persistence of job documents.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// attributes holds the document fields that never drive queries.
type attributes struct {
	Tags                   []string                 `json:"tags,omitempty"`
	MarketingHooks         []string                 `json:"marketingHooks,omitempty"`
	ImagePrompt            string                   `json:"imagePrompt,omitempty"`
	DigitalContent         string                   `json:"digitalContent,omitempty"`
	BundleComponents       []models.BundleComponent `json:"bundleComponents,omitempty"`
	EstimatedCostRangeUSD  []float64                `json:"estimatedCostRangeUsd,omitempty"`
	ProfitabilityRangeUSD  []float64                `json:"profitabilityRangeUsd,omitempty"`
	PopularityEstimateDays int                      `json:"popularityEstimateDays,omitempty"`
}

const jobColumns = `id, sku, status, product_type, title, description, price::float8, currency, image_url,
	auto_publish, delivery_type, attributes, source, version, created_at, updated_at`

// CreateJob inserts a new document. The store assigns the id and timestamps;
// an empty status becomes pending.
func (s *Store) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
	if err := job.Validate(); err != nil {
		return models.Job{}, err
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	attrs, err := json.Marshal(attributes{
		Tags:                   job.Tags,
		MarketingHooks:         job.MarketingHooks,
		ImagePrompt:            job.ImagePrompt,
		DigitalContent:         job.DigitalContent,
		BundleComponents:       job.BundleComponents,
		EstimatedCostRangeUSD:  job.EstimatedCostRangeUSD,
		ProfitabilityRangeUSD:  job.ProfitabilityRangeUSD,
		PopularityEstimateDays: job.PopularityEstimateDays,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal attributes: %w", err)
	}

	job.ID = uuid.New().String()
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, sku, status, product_type, title, description, price, currency, image_url,
			auto_publish, delivery_type, attributes, source, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::float8, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, job.ID, emptyToNil(job.SKU), string(job.Status), string(job.ProductType), job.Title, job.Description,
		job.Price, job.Currency, job.ImageURL, job.AutoPublish, job.DeliveryType, attrs, job.Source, job.Version, now)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.Job{}, fmt.Errorf("insert job %q: %w", job.SKU, ErrDuplicateSKU)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// FindBySKU is the producer's existence check.
func (s *Store) FindBySKU(ctx context.Context, sku string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE sku = $1`, sku)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// ListByStatus returns every document currently matching status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status models.Status) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query jobs by status: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// ClaimJob moves a job from pending to processing. claimed is false when the
// job was no longer pending, which means another task owns it.
func (s *Store) ClaimJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, string(models.StatusProcessing), string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJob writes a terminal status unless the job is already terminal.
func (s *Store) FinishJob(ctx context.Context, id string, status models.Status) error {
	if !models.IsTerminal(status) {
		return fmt.Errorf("finish job: %q is not a terminal status", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, string(status), string(models.StatusPending), string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %s: %w", id, ErrNotFinalizable)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// AuditTrail returns a job's audit rows in insertion order.
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, ts FROM audit_logs WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditLog, error) {
		var a models.AuditLog
		err := row.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded)
		return a, err
	})
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job         models.Job
		sku         pgtype.Text
		status      string
		productType string
		attrsJSON   []byte
	)
	err := row.Scan(&job.ID, &sku, &status, &productType, &job.Title, &job.Description, &job.Price,
		&job.Currency, &job.ImageURL, &job.AutoPublish, &job.DeliveryType, &attrsJSON, &job.Source,
		&job.Version, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.SKU = sku.String
	if job.Status, err = models.ParseStatus(status); err != nil {
		return models.Job{}, fmt.Errorf("scan job %s: %w", job.ID, err)
	}
	job.ProductType = models.ProductType(productType)

	var attrs attributes
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &attrs); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	job.Tags = attrs.Tags
	job.MarketingHooks = attrs.MarketingHooks
	job.ImagePrompt = attrs.ImagePrompt
	job.DigitalContent = attrs.DigitalContent
	job.BundleComponents = attrs.BundleComponents
	job.EstimatedCostRangeUSD = attrs.EstimatedCostRangeUSD
	job.ProfitabilityRangeUSD = attrs.ProfitabilityRangeUSD
	job.PopularityEstimateDays = attrs.PopularityEstimateDays
	return job, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
