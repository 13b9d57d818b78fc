// Package scheduler drives submitted jobs to completion: it dispatches the
// provider call, then polls task status with exponential backoff until the
// task settles or the wall-clock deadline passes.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"forge3d/internal/coalesce"
	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/ratelimit"
)

// Config tunes the polling cadence.
type Config struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Deadline        time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1.5
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 15 * time.Minute
	}
	return c
}

// Evaluator scores a downloaded artifact.
type Evaluator interface {
	Evaluate(path string) (*domain.Scorecard, error)
}

// Options wires the poller's collaborators.
type Options struct {
	Store     domain.JobStore
	Provider  domain.Generator
	Limiter   *ratelimit.Limiter
	Flights   *coalesce.Table
	Evaluator Evaluator
	Logger    *infra.Logger
	Config    Config
}

// Payload carries the provider submission input for one job. The image bytes
// are held here rather than on the job so the store never persists uploads.
type Payload struct {
	Prompt    string
	ImageData []byte
	ImageMIME string
}

// Poller runs one goroutine per in-flight job.
type Poller struct {
	store     domain.JobStore
	provider  domain.Generator
	limiter   *ratelimit.Limiter
	flights   *coalesce.Table
	evaluator Evaluator
	logger    *infra.Logger
	cfg       Config
}

func New(opts Options) (*Poller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler: job store is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("scheduler: provider is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("scheduler: rate limiter is required")
	}
	if opts.Flights == nil {
		return nil, fmt.Errorf("scheduler: flight table is required")
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Poller{
		store:     opts.Store,
		provider:  opts.Provider,
		limiter:   opts.Limiter,
		flights:   opts.Flights,
		evaluator: opts.Evaluator,
		logger:    logger,
		cfg:       opts.Config.withDefaults(),
	}, nil
}

// Run takes the job from pending to a terminal state. It owns the job's
// coalescing slot and frees it on every exit path, so a finished or failed
// key immediately becomes submittable again. Cancelling ctx abandons the job
// without a terminal write; it stays pending or processing in the store.
func (p *Poller) Run(ctx context.Context, job *domain.Job, payload Payload) {
	logger := p.logger.With().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Logger()
	defer p.flights.Release(job.CacheKey, job.ID)

	if err := p.limiter.Acquire(ctx); err != nil {
		logger.Warn().Err(err).Msg("poll: aborted while waiting for submission slot")
		return
	}

	taskID, err := p.submit(ctx, job, payload)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Msg("poll: aborted during submission")
			return
		}
		p.fail(ctx, job.ID, &logger, "provider rejected submission: "+err.Error())
		return
	}

	processing := domain.JobStatusProcessing
	if err := p.store.Update(ctx, job.ID, domain.JobPatch{Status: &processing, TaskID: &taskID}); err != nil {
		logger.Error().Err(err).Msg("poll: persist processing state")
	}
	logger.Info().Str("task_id", taskID).Msg("poll: task submitted")

	p.poll(ctx, job.ID, taskID, &logger)
}

func (p *Poller) submit(ctx context.Context, job *domain.Job, payload Payload) (string, error) {
	if job.Type == domain.JobTypeImage {
		return p.provider.SubmitImage(ctx, payload.ImageData, payload.ImageMIME, payload.Prompt)
	}
	return p.provider.SubmitText(ctx, payload.Prompt)
}

func (p *Poller) poll(ctx context.Context, jobID, taskID string, logger *infra.Logger) {
	deadline := time.Now().Add(p.cfg.Deadline)
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.cfg.Multiplier,
		MaxInterval:         p.cfg.MaxInterval,
	}
	bo.Reset()

	for {
		wait := bo.NextBackOff()
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				logger.Warn().Msg("poll: shutdown with task in flight")
				return
			case <-time.After(wait):
			}
		}
		if !time.Now().Before(deadline) {
			p.fail(ctx, jobID, logger, fmt.Sprintf("generation timed out after %s", p.cfg.Deadline))
			return
		}

		status, err := p.provider.CheckStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn().Msg("poll: shutdown with task in flight")
				return
			}
			// Transient by assumption; the deadline bounds how long we retry.
			logger.Warn().Err(err).Msg("poll: status check failed")
			continue
		}

		switch status.State {
		case domain.TaskStateSucceeded:
			p.complete(ctx, jobID, status, logger)
			return
		case domain.TaskStateFailed:
			message := status.ErrorMessage
			if message == "" {
				message = "provider reported failure"
			}
			p.fail(ctx, jobID, logger, message)
			return
		default:
			logger.Debug().
				Str("state", string(status.State)).
				Int("progress", status.Progress).
				Msg("poll: task not settled")
		}
	}
}

// complete downloads the artifact, evaluates it, and lands status, artifact
// and scorecard in a single store update so cache eligibility and the score
// appear together. A failed evaluation is logged and the job still completes,
// just without a scorecard.
func (p *Poller) complete(ctx context.Context, jobID string, status domain.TaskStatus, logger *infra.Logger) {
	if status.ArtifactURL == "" {
		p.fail(ctx, jobID, logger, "provider succeeded without an artifact url")
		return
	}

	ref, err := p.provider.DownloadArtifact(ctx, status.ArtifactURL, jobID)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Msg("poll: shutdown during artifact download")
			return
		}
		p.fail(ctx, jobID, logger, "artifact download failed: "+err.Error())
		return
	}

	done := domain.JobStatusDone
	patch := domain.JobPatch{Status: &done, Artifact: &ref}
	if p.evaluator != nil {
		card, err := p.evaluator.Evaluate(ref.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("poll: artifact evaluation failed")
		} else {
			patch.Scorecard = card
		}
	}

	if err := p.store.Update(context.WithoutCancel(ctx), jobID, patch); err != nil {
		logger.Error().Err(err).Msg("poll: persist completed job")
		return
	}

	event := logger.Info().Str("format", ref.Format).Int64("size", ref.SizeBytes)
	if patch.Scorecard != nil {
		event = event.Int("score", patch.Scorecard.Score)
	}
	event.Msg("poll: job completed")
}

func (p *Poller) fail(ctx context.Context, jobID string, logger *infra.Logger, message string) {
	status := domain.JobStatusError
	if err := p.store.Update(context.WithoutCancel(ctx), jobID, domain.JobPatch{Status: &status, Error: &message}); err != nil {
		logger.Error().Err(err).Msg("poll: persist failed job")
		return
	}
	logger.Warn().Str("reason", message).Msg("poll: job failed")
}
