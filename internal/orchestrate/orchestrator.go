// Package orchestrate coordinates the full lifecycle of generation jobs:
// cache lookup, request coalescing, rate-limited dispatch and bookkeeping.
// All shared mutable state (the flight table, the rate limiter, the poller)
// lives behind the Orchestrator so handlers stay stateless.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"forge3d/internal/cachekey"
	"forge3d/internal/coalesce"
	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/ratelimit"
	"forge3d/internal/scheduler"
)

// Config tunes submission limits and the polling cadence.
type Config struct {
	MaxPromptChars int
	MaxUploadBytes int64
	RatePerSec     int
	Poll           scheduler.Config
}

func (c Config) withDefaults() Config {
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 1000
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	return c
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store    domain.JobStore
	Provider domain.Generator
	// Evaluator may be nil; completed jobs then carry no scorecard.
	Evaluator scheduler.Evaluator
	Logger    *infra.Logger
	// BaseContext parents every poll goroutine. Cancelling it stops all
	// in-flight polling; nil means context.Background().
	BaseContext context.Context
	Config      Config
}

// SubmitResult is the outcome of a submission: a fresh job, a cache hit, or
// an attachment to an identical in-flight job.
type SubmitResult struct {
	Job       *domain.Job
	Cached    bool
	Coalesced bool
}

// Orchestrator accepts submissions and drives them to completion.
type Orchestrator struct {
	store    domain.JobStore
	flights  *coalesce.Table
	poller   *scheduler.Poller
	logger   *infra.Logger
	base     context.Context
	cfg      Config
	inFlight sync.WaitGroup
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrate: job store is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("orchestrate: provider is required")
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	cfg := opts.Config.withDefaults()
	flights := coalesce.NewTable()
	poller, err := scheduler.New(scheduler.Options{
		Store:     opts.Store,
		Provider:  opts.Provider,
		Limiter:   ratelimit.New(cfg.RatePerSec, time.Second),
		Flights:   flights,
		Evaluator: opts.Evaluator,
		Logger:    logger,
		Config:    cfg.Poll,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:   opts.Store,
		flights: flights,
		poller:  poller,
		logger:  logger,
		base:    base,
		cfg:     cfg,
	}, nil
}

// SubmitText accepts a text-to-3D request.
func (o *Orchestrator) SubmitText(ctx context.Context, prompt, country string) (*SubmitResult, error) {
	trimmed, err := o.validatePrompt(prompt, true)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		Type:    domain.JobTypeText,
		Prompt:  trimmed,
		Country: country,
	}
	payload := scheduler.Payload{Prompt: trimmed}
	return o.submit(ctx, job, cachekey.Text(trimmed), payload)
}

// SubmitImage accepts an image-to-3D request. The companion prompt is
// optional.
func (o *Orchestrator) SubmitImage(ctx context.Context, data []byte, mime, prompt, country string) (*SubmitResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image payload is required", domain.ErrInvalidInput)
	}
	if int64(len(data)) > o.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, o.cfg.MaxUploadBytes)
	}
	trimmed, err := o.validatePrompt(prompt, false)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		Type:         domain.JobTypeImage,
		Prompt:       trimmed,
		SourceDigest: cachekey.Digest(data),
		Country:      country,
	}
	payload := scheduler.Payload{Prompt: trimmed, ImageData: data, ImageMIME: mime}
	return o.submit(ctx, job, cachekey.Image(data, trimmed), payload)
}

// submit runs the shared pipeline: exact-match cache, coalescing, then a
// fresh job. The flight slot is claimed before the job row exists so at most
// one submission per key can ever reach the provider; the claim is rolled
// back when persistence fails.
func (o *Orchestrator) submit(ctx context.Context, job *domain.Job, key string, payload scheduler.Payload) (*SubmitResult, error) {
	job.CacheKey = key

	cached, err := o.store.FindCached(ctx, job.Type, key)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: cache lookup: %w", err)
	}
	if cached != nil {
		o.logger.Debug().
			Str("job_id", cached.ID).
			Str("cache_key", key).
			Msg("orchestrate: cache hit")
		return &SubmitResult{Job: cached, Cached: true}, nil
	}

	if ownerID, attached := o.flights.TryAttach(key); attached {
		return o.coalesced(ctx, job, ownerID)
	}

	job.ID = uuid.NewString()
	if ownerID, registered := o.flights.Register(key, job.ID); !registered {
		return o.coalesced(ctx, job, ownerID)
	}

	if err := o.store.Create(ctx, job); err != nil {
		o.flights.Release(key, job.ID)
		return nil, fmt.Errorf("orchestrate: persist job: %w", err)
	}

	runJob := job.Clone()
	o.inFlight.Add(1)
	go func() {
		defer o.inFlight.Done()
		o.poller.Run(o.base, runJob, payload)
	}()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("cache_key", key).
		Msg("orchestrate: job accepted")

	return &SubmitResult{Job: job.Clone()}, nil
}

// coalesced resolves the job a duplicate submission attached to. The owner
// claims its flight slot before its row is written, so a lookup in that
// window falls back to a pending snapshot instead of failing.
func (o *Orchestrator) coalesced(ctx context.Context, incoming *domain.Job, ownerID string) (*SubmitResult, error) {
	owner, err := o.store.Get(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("orchestrate: load coalesced job: %w", err)
		}
		now := time.Now().UTC()
		owner = &domain.Job{
			ID:        ownerID,
			Type:      incoming.Type,
			Prompt:    incoming.Prompt,
			CacheKey:  incoming.CacheKey,
			Status:    domain.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	o.logger.Debug().
		Str("job_id", ownerID).
		Str("cache_key", incoming.CacheKey).
		Msg("orchestrate: coalesced duplicate submission")

	return &SubmitResult{Job: owner, Coalesced: true}, nil
}

func (o *Orchestrator) validatePrompt(prompt string, required bool) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		if required {
			return "", fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
		}
		return "", nil
	}
	if utf8.RuneCountInString(trimmed) > o.cfg.MaxPromptChars {
		return "", fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidInput, o.cfg.MaxPromptChars)
	}
	return trimmed, nil
}

// Get returns one job by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Job, error) {
	return o.store.Get(ctx, id)
}

// Recent lists the latest jobs, newest first. n is clamped to [1, 100]; zero
// or negative selects the default of 20.
func (o *Orchestrator) Recent(ctx context.Context, n int) ([]*domain.Job, error) {
	if n <= 0 {
		n = 20
	}
	if n > 100 {
		n = 100
	}
	return o.store.Recent(ctx, n)
}

// Lookup answers a cache probe without submitting anything. For text lookups
// digest must be empty; for image lookups it is the hex content digest of
// the candidate upload.
func (o *Orchestrator) Lookup(ctx context.Context, jobType domain.JobType, prompt, digest string) (*domain.Job, error) {
	var key string
	switch jobType {
	case domain.JobTypeText:
		key = cachekey.Text(prompt)
	case domain.JobTypeImage:
		if strings.TrimSpace(digest) == "" {
			return nil, fmt.Errorf("%w: digest is required for image lookups", domain.ErrInvalidInput)
		}
		key = cachekey.ImageFromDigest(digest, prompt)
	default:
		return nil, fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidInput, jobType)
	}
	return o.store.FindCached(ctx, jobType, key)
}

// LookupKey answers a cache probe for an already-derived key.
func (o *Orchestrator) LookupKey(ctx context.Context, jobType domain.JobType, key string) (*domain.Job, error) {
	if jobType != domain.JobTypeText && jobType != domain.JobTypeImage {
		return nil, fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidInput, jobType)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: cache key is required", domain.ErrInvalidInput)
	}
	return o.store.FindCached(ctx, jobType, key)
}

// Ping reports whether the backing store is reachable.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

// RecordFeedback attaches a thumbs up/down rating to a completed job and
// returns the updated record.
func (o *Orchestrator) RecordFeedback(ctx context.Context, id string, rating int, notes string) (*domain.Job, error) {
	if rating != 1 && rating != -1 {
		return nil, fmt.Errorf("%w: rating must be 1 or -1", domain.ErrInvalidInput)
	}

	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusDone {
		return nil, fmt.Errorf("%w: only completed jobs can be rated", domain.ErrInvalidInput)
	}

	fb := domain.Feedback{Rating: rating, Notes: strings.TrimSpace(notes), RatedAt: time.Now().UTC()}
	if err := o.store.Update(ctx, id, domain.JobPatch{Feedback: &fb}); err != nil {
		return nil, fmt.Errorf("orchestrate: persist feedback: %w", err)
	}
	return o.store.Get(ctx, id)
}

// Stats aggregates stored jobs plus the live in-flight count.
func (o *Orchestrator) Stats(ctx context.Context) (*domain.Stats, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.InFlight = o.flights.Len()
	return stats, nil
}

// InFlight reports how many jobs currently hold a flight slot.
func (o *Orchestrator) InFlight() int {
	return o.flights.Len()
}

// Wait blocks until every poll goroutine has returned or ctx expires. Meant
// for shutdown after cancelling the base context.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
