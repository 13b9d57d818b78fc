package domain

import "context"

// TaskState is the normalized provider-side lifecycle state. Upstream wire
// values are folded into this fixed set; anything unrecognized maps to
// TaskStateUnknown so pollers keep going instead of aborting.
type TaskState string

const (
	TaskStateQueued     TaskState = "queued"
	TaskStateProcessing TaskState = "processing"
	TaskStateSucceeded  TaskState = "succeeded"
	TaskStateFailed     TaskState = "failed"
	TaskStateUnknown    TaskState = "unknown"
)

// TaskStatus is the normalized result of a provider status check.
type TaskStatus struct {
	State         TaskState
	ArtifactURL   string
	ThumbnailURL  string
	ErrorMessage  string
	Progress      int
	QueuePosition int
}

// Generator is the boundary to the external 3D generation backend. The live
// client and the deterministic offline synthesizer both implement it; the
// variant is selected once at process start.
type Generator interface {
	// SubmitText starts a text-to-3D task and returns an opaque task id.
	SubmitText(ctx context.Context, prompt string) (string, error)
	// SubmitImage starts an image-to-3D task and returns an opaque task id.
	SubmitImage(ctx context.Context, data []byte, mime, prompt string) (string, error)
	// CheckStatus reports the normalized state of a submitted task.
	CheckStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// DownloadArtifact fetches the finished model and persists it locally
	// under a key derived from the job id and detected format.
	DownloadArtifact(ctx context.Context, url, jobID string) (ArtifactRef, error)
}
