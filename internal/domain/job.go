package domain

import "time"

// JobType enumerates supported generation inputs.
type JobType string

const (
	JobTypeText  JobType = "text"
	JobTypeImage JobType = "image"
)

// JobStatus enumerates job lifecycle states. Transitions only move forward:
// pending -> processing -> done | error.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// ArtifactRef points at a downloaded model file.
type ArtifactRef struct {
	Path      string `json:"path"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
}

// Scorecard is the structural quality report computed from a completed
// artifact. It is deterministic for identical input bytes and immutable once
// attached to a job.
type Scorecard struct {
	Errors     int    `json:"errors"`
	Warnings   int    `json:"warnings"`
	Infos      int    `json:"infos"`
	Meshes     int    `json:"meshes"`
	Materials  int    `json:"materials"`
	Images     int    `json:"images"`
	Animations int    `json:"animations"`
	Vertices   int    `json:"vertices"`
	Triangles  int    `json:"triangles"`
	Format     string `json:"format"`
	SizeBytes  int64  `json:"size_bytes"`
	Score      int    `json:"score"`
}

// Feedback records a thumbs up/down rating left by a user on a job.
type Feedback struct {
	Rating  int       `json:"rating"`
	Notes   string    `json:"notes,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

// Job tracks one generation request through its asynchronous lifecycle.
type Job struct {
	ID           string       `json:"id"`
	Type         JobType      `json:"type"`
	Prompt       string       `json:"prompt,omitempty"`
	SourceDigest string       `json:"source_digest,omitempty"`
	CacheKey     string       `json:"cache_key"`
	Status       JobStatus    `json:"status"`
	TaskID       string       `json:"task_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	Artifact     *ArtifactRef `json:"artifact,omitempty"`
	Scorecard    *Scorecard   `json:"scorecard,omitempty"`
	Feedback     *Feedback    `json:"feedback,omitempty"`
	Country      string       `json:"country,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CacheEligible reports whether the job may be returned by exact-match cache
// lookups. Only completed jobs with a downloaded artifact qualify.
func (j *Job) CacheEligible() bool {
	return j != nil && j.Status == JobStatusDone && j.Artifact != nil && j.Artifact.Path != ""
}

// Clone returns a deep copy so callers never mutate store-owned state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Artifact != nil {
		ref := *j.Artifact
		out.Artifact = &ref
	}
	if j.Scorecard != nil {
		card := *j.Scorecard
		out.Scorecard = &card
	}
	if j.Feedback != nil {
		fb := *j.Feedback
		out.Feedback = &fb
	}
	return &out
}

// JobPatch carries the fields an update may merge into a stored job. Nil
// fields are left untouched.
type JobPatch struct {
	Status    *JobStatus
	TaskID    *string
	Error     *string
	Artifact  *ArtifactRef
	Scorecard *Scorecard
	Feedback  *Feedback
}

// CountryCount aggregates jobs per submitting country.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Stats summarizes the job population for the stats endpoint.
type Stats struct {
	Total       int               `json:"total"`
	ByStatus    map[JobStatus]int `json:"by_status"`
	ByType      map[JobType]int   `json:"by_type"`
	AvgScore    *float64          `json:"avg_score,omitempty"`
	RatingsUp   int               `json:"ratings_up"`
	RatingsDown int               `json:"ratings_down"`
	Countries   []CountryCount    `json:"countries,omitempty"`
	InFlight    int               `json:"in_flight"`
}
