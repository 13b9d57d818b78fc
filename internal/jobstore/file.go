// Package jobstore provides durable JobStore implementations: a file-backed
// store for single-node deployments and a Postgres-backed store.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge3d/internal/domain"
)

type cacheIdx struct {
	jobType domain.JobType
	key     string
}

// FileStore keeps every job as one JSON document under root. Mutations are
// flushed to disk (write, fsync, rename) before they are considered
// committed, so a crash after a returned write never loses the record. A
// single mutex serializes writers within the process; cross-process locking
// is out of scope.
//
// Cache lookups go through an in-memory (type, key) index of cache-eligible
// jobs, most recent creation wins, rebuilt from disk on open.
type FileStore struct {
	mu     sync.Mutex
	root   string
	jobs   map[string]*domain.Job
	order  []string
	cached map[cacheIdx]string
}

var _ domain.JobStore = (*FileStore)(nil)

// OpenFile loads (or initializes) a file store rooted at dir.
func OpenFile(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("jobstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobstore: ensure directory: %w", err)
	}
	s := &FileStore{
		root:   dir,
		jobs:   make(map[string]*domain.Job),
		cached: make(map[cacheIdx]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("jobstore: read directory: %w", err)
	}
	loaded := make([]*domain.Job, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			return fmt.Errorf("jobstore: read %s: %w", entry.Name(), err)
		}
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("jobstore: decode %s: %w", entry.Name(), err)
		}
		if job.ID == "" {
			continue
		}
		loaded = append(loaded, &job)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		if loaded[i].CreatedAt.Equal(loaded[j].CreatedAt) {
			return loaded[i].ID < loaded[j].ID
		}
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})
	for _, job := range loaded {
		s.jobs[job.ID] = job
		s.order = append(s.order, job.ID)
		s.index(job)
	}
	return nil
}

// index records job in the cache lookup map when it is eligible and more
// recently created than the current holder.
func (s *FileStore) index(job *domain.Job) {
	if !job.CacheEligible() {
		return
	}
	idx := cacheIdx{jobType: job.Type, key: job.CacheKey}
	if currentID, ok := s.cached[idx]; ok {
		if current := s.jobs[currentID]; current != nil && current.CreatedAt.After(job.CreatedAt) {
			return
		}
	}
	s.cached[idx] = job.ID
}

func (s *FileStore) persist(job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: encode job: %w", err)
	}
	final := filepath.Join(s.root, job.ID+".json")
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("jobstore: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("jobstore: write job: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("jobstore: sync job: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("jobstore: close job file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("jobstore: commit job file: %w", err)
	}
	return nil
}

// Create persists a new pending job before returning.
func (s *FileStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job == nil {
		return errors.New("jobstore: job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("jobstore: job %s already exists", job.ID)
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	stored := job.Clone()
	if err := s.persist(stored); err != nil {
		return err
	}
	s.jobs[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return nil
}

// Get returns a snapshot of the job, or domain.ErrNotFound.
func (s *FileStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// Update merges patch into the stored job and flushes it. An unknown id is a
// silent no-op.
func (s *FileStore) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}

	next := job.Clone()
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.TaskID != nil {
		next.TaskID = *patch.TaskID
	}
	if patch.Error != nil {
		next.Error = *patch.Error
	}
	if patch.Artifact != nil {
		ref := *patch.Artifact
		next.Artifact = &ref
	}
	if patch.Scorecard != nil {
		card := *patch.Scorecard
		next.Scorecard = &card
	}
	if patch.Feedback != nil {
		fb := *patch.Feedback
		next.Feedback = &fb
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.persist(next); err != nil {
		return err
	}
	s.jobs[id] = next
	s.index(next)
	return nil
}

// Recent returns up to n jobs, most recently created first.
func (s *FileStore) Recent(ctx context.Context, n int) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Job, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		if job, ok := s.jobs[s.order[i]]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// FindCached returns the most recently created cache-eligible job for the
// type and key, or nil when there is none.
func (s *FileStore) FindCached(ctx context.Context, jobType domain.JobType, cacheKey string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cached[cacheIdx{jobType: jobType, key: cacheKey}]
	if !ok {
		return nil, nil
	}
	job, ok := s.jobs[id]
	if !ok || !job.CacheEligible() {
		return nil, nil
	}
	return job.Clone(), nil
}

// Stats aggregates the stored job population.
func (s *FileStore) Stats(ctx context.Context) (*domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.Stats{
		ByStatus: make(map[domain.JobStatus]int),
		ByType:   make(map[domain.JobType]int),
	}
	countries := make(map[string]int)
	var scoreSum float64
	var scored int
	for _, job := range s.jobs {
		stats.Total++
		stats.ByStatus[job.Status]++
		stats.ByType[job.Type]++
		if job.Scorecard != nil {
			scoreSum += float64(job.Scorecard.Score)
			scored++
		}
		if job.Feedback != nil {
			switch {
			case job.Feedback.Rating > 0:
				stats.RatingsUp++
			case job.Feedback.Rating < 0:
				stats.RatingsDown++
			}
		}
		if job.Country != "" {
			countries[job.Country]++
		}
	}
	if scored > 0 {
		avg := scoreSum / float64(scored)
		stats.AvgScore = &avg
	}
	for country, count := range countries {
		stats.Countries = append(stats.Countries, domain.CountryCount{Country: country, Count: count})
	}
	sort.Slice(stats.Countries, func(i, j int) bool {
		if stats.Countries[i].Count == stats.Countries[j].Count {
			return stats.Countries[i].Country < stats.Countries[j].Country
		}
		return stats.Countries[i].Count > stats.Countries[j].Count
	})
	if len(stats.Countries) > 10 {
		stats.Countries = stats.Countries[:10]
	}
	return stats, nil
}

// Ping verifies the backing directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("jobstore: ping: %w", err)
	}
	return nil
}
