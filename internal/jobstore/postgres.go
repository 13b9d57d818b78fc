package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/sqlinline"
)

// PostgresStore persists jobs in a jobs table through the marker-checked SQL
// runner. Durability comes from Postgres itself; every mutation is committed
// before the call returns.
type PostgresStore struct {
	db infra.SQLExecutor
}

var _ domain.JobStore = (*PostgresStore)(nil)

// NewPostgres wraps the given executor.
func NewPostgres(db infra.SQLExecutor) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("jobstore: sql executor is required")
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the jobs table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{
		sqlinline.QCreateJobsTable,
		sqlinline.QCreateJobsCacheIndex,
		sqlinline.QCreateJobsCreatedIndex,
	} {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("jobstore: ensure schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new pending job.
func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("jobstore: job is required")
	}
	if job.ID == "" {
		return errors.New("jobstore: job id is required")
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.Exec(ctx, sqlinline.QInsertJob,
		job.ID, string(job.Type), string(job.Status), job.Prompt,
		job.SourceDigest, job.CacheKey, job.Country,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobstore: insert job: %w", err)
	}
	return nil
}

// Get returns the job or domain.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: select job: %w", err)
	}
	return job, nil
}

// Update merges patch into the stored row. An unknown id affects zero rows
// and is a silent no-op.
func (s *PostgresStore) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	var status, taskID, errMsg *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	taskID = patch.TaskID
	errMsg = patch.Error

	var artifactPath, artifactURL, artifactFormat *string
	var artifactSize *int64
	if patch.Artifact != nil {
		artifactPath = &patch.Artifact.Path
		artifactURL = &patch.Artifact.URL
		artifactFormat = &patch.Artifact.Format
		artifactSize = &patch.Artifact.SizeBytes
	}

	var scorecard []byte
	if patch.Scorecard != nil {
		data, err := json.Marshal(patch.Scorecard)
		if err != nil {
			return fmt.Errorf("jobstore: encode scorecard: %w", err)
		}
		scorecard = data
	}

	var rating *int
	var ratingNotes *string
	var ratedAt *time.Time
	if patch.Feedback != nil {
		rating = &patch.Feedback.Rating
		ratingNotes = &patch.Feedback.Notes
		ratedAt = &patch.Feedback.RatedAt
	}

	_, err := s.db.Exec(ctx, sqlinline.QUpdateJob,
		id, status, taskID, errMsg,
		artifactPath, artifactURL, artifactFormat, artifactSize,
		scorecard, rating, ratingNotes, ratedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobstore: update job: %w", err)
	}
	return nil
}

// Recent returns up to n jobs, most recently created first.
func (s *PostgresStore) Recent(ctx context.Context, n int) ([]*domain.Job, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, sqlinline.QRecentJobs, n)
	if err != nil {
		return nil, fmt.Errorf("jobstore: recent jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobstore: scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: recent jobs: %w", err)
	}
	return out, nil
}

// FindCached returns the newest cache-eligible job for the type and key, or
// nil when there is none.
func (s *PostgresStore) FindCached(ctx context.Context, jobType domain.JobType, cacheKey string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, sqlinline.QFindCachedJob, string(jobType), cacheKey))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobstore: find cached job: %w", err)
	}
	return job, nil
}

// Stats aggregates the jobs table.
func (s *PostgresStore) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{
		ByStatus: make(map[domain.JobStatus]int),
		ByType:   make(map[domain.JobType]int),
	}

	var pending, processing, done, failed, textJobs, imageJobs int
	err := s.db.QueryRow(ctx, sqlinline.QJobStatsTotals).Scan(
		&stats.Total,
		&pending, &processing, &done, &failed,
		&textJobs, &imageJobs,
		&stats.AvgScore,
		&stats.RatingsUp, &stats.RatingsDown,
	)
	if err != nil {
		return nil, fmt.Errorf("jobstore: stats totals: %w", err)
	}
	stats.ByStatus[domain.JobStatusPending] = pending
	stats.ByStatus[domain.JobStatusProcessing] = processing
	stats.ByStatus[domain.JobStatusDone] = done
	stats.ByStatus[domain.JobStatusError] = failed
	stats.ByType[domain.JobTypeText] = textJobs
	stats.ByType[domain.JobTypeImage] = imageJobs

	rows, err := s.db.Query(ctx, sqlinline.QJobStatsCountries)
	if err != nil {
		return nil, fmt.Errorf("jobstore: stats countries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc domain.CountryCount
		if err := rows.Scan(&cc.Country, &cc.Count); err != nil {
			return nil, fmt.Errorf("jobstore: scan country: %w", err)
		}
		stats.Countries = append(stats.Countries, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: stats countries: %w", err)
	}
	return stats, nil
}

// Ping runs a trivial query against the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, sqlinline.QPing).Scan(&one); err != nil {
		return fmt.Errorf("jobstore: ping: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job            domain.Job
		jobType        string
		status         string
		artifactPath   *string
		artifactURL    *string
		artifactFormat *string
		artifactSize   *int64
		scorecard      []byte
		rating         *int
		ratingNotes    *string
		ratedAt        *time.Time
	)
	err := row.Scan(
		&job.ID, &jobType, &status, &job.Prompt, &job.SourceDigest, &job.CacheKey,
		&job.TaskID, &job.Error, &job.Country,
		&artifactPath, &artifactURL, &artifactFormat, &artifactSize,
		&scorecard, &rating, &ratingNotes, &ratedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if artifactPath != nil {
		ref := domain.ArtifactRef{Path: *artifactPath}
		if artifactURL != nil {
			ref.URL = *artifactURL
		}
		if artifactFormat != nil {
			ref.Format = *artifactFormat
		}
		if artifactSize != nil {
			ref.SizeBytes = *artifactSize
		}
		job.Artifact = &ref
	}
	if len(scorecard) > 0 {
		var card domain.Scorecard
		if err := json.Unmarshal(scorecard, &card); err != nil {
			return nil, fmt.Errorf("decode scorecard: %w", err)
		}
		job.Scorecard = &card
	}
	if rating != nil {
		fb := domain.Feedback{Rating: *rating}
		if ratingNotes != nil {
			fb.Notes = *ratingNotes
		}
		if ratedAt != nil {
			fb.RatedAt = *ratedAt
		}
		job.Feedback = &fb
	}
	return &job, nil
}
