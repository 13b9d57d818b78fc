// Package meshy implements the generation backend against the Meshy HTTP API.
package meshy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"forge3d/internal/domain"
	"forge3d/internal/infra"
	"forge3d/internal/storage"
)

const (
	textTaskPath  = "/openapi/v2/text-to-3d"
	imageTaskPath = "/openapi/v1/image-to-3d"

	textTaskKind  = "text"
	imageTaskKind = "image"
)

// Options controls how the Meshy client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Store      *storage.FileStore
}

// Client talks to the Meshy task API. Task ids returned from Submit carry a
// kind prefix ("text/..." or "image/...") because text and image tasks live
// on different status endpoints; CheckStatus strips the prefix to pick the
// right one.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	store      *storage.FileStore
}

var _ domain.Generator = (*Client)(nil)

type createTaskRequest struct {
	Mode     string `json:"mode,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type createTaskResponse struct {
	Result string `json:"result"`
}

type modelURLs struct {
	GLB  string `json:"glb,omitempty"`
	FBX  string `json:"fbx,omitempty"`
	USDZ string `json:"usdz,omitempty"`
	OBJ  string `json:"obj,omitempty"`
}

type taskErrorBody struct {
	Message string `json:"message,omitempty"`
}

// taskStatusResponse tolerates the field drift observed across Meshy API
// revisions: state under two names, the artifact URL under three, progress as
// int or float, and the error as a string or an object.
type taskStatusResponse struct {
	ID             string          `json:"id,omitempty"`
	Status         string          `json:"status,omitempty"`
	State          string          `json:"state,omitempty"`
	Progress       json.Number     `json:"progress,omitempty"`
	ModelURLs      modelURLs       `json:"model_urls,omitempty"`
	ModelURL       string          `json:"model_url,omitempty"`
	AssetURL       string          `json:"asset_url,omitempty"`
	ThumbnailURL   string          `json:"thumbnail_url,omitempty"`
	TaskError      *taskErrorBody  `json:"task_error,omitempty"`
	Message        string          `json:"message,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	PrecedingTasks int             `json:"preceding_tasks,omitempty"`
}

type meshyErrorResponse struct {
	Message string `json:"message,omitempty"`
}

// NewClient constructs a Meshy client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("meshy: api key is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("meshy: artifact store is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.meshy.ai"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
		store:      opts.Store,
	}, nil
}

// SubmitText starts a preview-mode text-to-3D task.
func (c *Client) SubmitText(ctx context.Context, prompt string) (string, error) {
	payload := createTaskRequest{Mode: "preview", Prompt: prompt}
	var response createTaskResponse
	if err := c.invoke(ctx, http.MethodPost, textTaskPath, payload, &response); err != nil {
		return "", err
	}
	if response.Result == "" {
		return "", fmt.Errorf("meshy: create task returned no id")
	}

	c.logger.Debug().
		Str("task_id", response.Result).
		Msg("meshy: text task submitted")

	return textTaskKind + "/" + response.Result, nil
}

// SubmitImage starts an image-to-3D task. The image travels inline as a
// base64 data URI.
func (c *Client) SubmitImage(ctx context.Context, data []byte, mime, prompt string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("meshy: image data is required")
	}
	if strings.TrimSpace(mime) == "" {
		mime = "image/png"
	}

	payload := createTaskRequest{
		ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		Prompt:   prompt,
	}
	var response createTaskResponse
	if err := c.invoke(ctx, http.MethodPost, imageTaskPath, payload, &response); err != nil {
		return "", err
	}
	if response.Result == "" {
		return "", fmt.Errorf("meshy: create task returned no id")
	}

	c.logger.Debug().
		Str("task_id", response.Result).
		Msg("meshy: image task submitted")

	return imageTaskKind + "/" + response.Result, nil
}

// CheckStatus fetches the task and folds the wire payload into the
// normalized status.
func (c *Client) CheckStatus(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	kind, id, err := splitTaskID(taskID)
	if err != nil {
		return domain.TaskStatus{}, err
	}

	endpoint := textTaskPath
	if kind == imageTaskKind {
		endpoint = imageTaskPath
	}

	var payload taskStatusResponse
	if err := c.invoke(ctx, http.MethodGet, endpoint+"/"+url.PathEscape(id), nil, &payload); err != nil {
		return domain.TaskStatus{}, err
	}

	status := domain.TaskStatus{
		State:         normalizeState(firstNonEmpty(payload.Status, payload.State)),
		ArtifactURL:   firstNonEmpty(payload.ModelURLs.GLB, payload.ModelURL, payload.AssetURL),
		ThumbnailURL:  payload.ThumbnailURL,
		ErrorMessage:  extractErrorMessage(payload),
		Progress:      parseProgress(payload.Progress),
		QueuePosition: payload.PrecedingTasks,
	}

	c.logger.Debug().
		Str("task_id", taskID).
		Str("state", string(status.State)).
		Int("progress", status.Progress).
		Msg("meshy: task status")

	return status, nil
}

// DownloadArtifact fetches the model behind rawURL and persists it in the
// artifact store keyed by job id and detected format.
func (c *Client) DownloadArtifact(ctx context.Context, rawURL, jobID string) (domain.ArtifactRef, error) {
	target := rawURL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(rawURL, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: create download request: %w", err)
	}
	// Model URLs are usually presigned CDN links; only authenticate requests
	// that go back to the API host.
	if strings.HasPrefix(target, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return domain.ArtifactRef{}, &domain.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: read artifact: %w", err)
	}
	if len(blob) == 0 {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: artifact is empty")
	}

	ext := extensionForModel(target, resp.Header.Get("Content-Type"), blob)
	key := jobID + ext
	storedKey, err := c.store.Write(ctx, key, blob)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: persist artifact: %w", err)
	}
	storedPath, err := c.store.Path(storedKey)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("meshy: resolve artifact path: %w", err)
	}

	c.logger.Debug().
		Str("job_id", jobID).
		Str("key", key).
		Int("size", len(blob)).
		Msg("meshy: artifact downloaded")

	return domain.ArtifactRef{
		Path:      storedPath,
		URL:       "/files/" + key,
		Format:    strings.TrimPrefix(ext, "."),
		SizeBytes: int64(len(blob)),
	}, nil
}

func (c *Client) invoke(ctx context.Context, method, p string, payload, out any) error {
	endpoint := c.baseURL + p

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("meshy: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("meshy: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("meshy: invoke api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		message := ""
		var apiErr meshyErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil {
			message = apiErr.Message
		}
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		return &domain.ProviderError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("meshy: decode response: %w", err)
	}
	return nil
}

func splitTaskID(taskID string) (string, string, error) {
	kind, id, ok := strings.Cut(taskID, "/")
	if !ok || id == "" || (kind != textTaskKind && kind != imageTaskKind) {
		return "", "", fmt.Errorf("meshy: malformed task id %q", taskID)
	}
	return kind, id, nil
}

func normalizeState(raw string) domain.TaskState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "QUEUED", "SUBMITTED", "WAITING":
		return domain.TaskStateQueued
	case "IN_PROGRESS", "PROCESSING", "RUNNING", "GENERATING":
		return domain.TaskStateProcessing
	case "SUCCEEDED", "SUCCESS", "COMPLETED", "FINISHED", "DONE":
		return domain.TaskStateSucceeded
	case "FAILED", "ERROR", "CANCELED", "CANCELLED", "EXPIRED":
		return domain.TaskStateFailed
	default:
		return domain.TaskStateUnknown
	}
}

func extractErrorMessage(payload taskStatusResponse) string {
	if payload.TaskError != nil && payload.TaskError.Message != "" {
		return payload.TaskError.Message
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Error) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(payload.Error, &asString); err == nil {
		return asString
	}
	var asObject taskErrorBody
	if err := json.Unmarshal(payload.Error, &asObject); err == nil {
		return asObject.Message
	}
	return strings.TrimSpace(string(payload.Error))
}

func parseProgress(raw json.Number) int {
	if raw == "" {
		return 0
	}
	if n, err := raw.Int64(); err == nil {
		return int(n)
	}
	if f, err := raw.Float64(); err == nil {
		return int(f)
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func extensionForModel(rawURL, mime string, data []byte) string {
	if len(data) >= 4 && string(data[:4]) == "glTF" {
		return ".glb"
	}
	switch strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0])) {
	case "model/gltf-binary":
		return ".glb"
	case "model/gltf+json":
		return ".gltf"
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		switch strings.ToLower(path.Ext(parsed.Path)) {
		case ".glb":
			return ".glb"
		case ".gltf":
			return ".gltf"
		}
	}
	if len(data) > 0 && data[0] == '{' {
		return ".gltf"
	}
	return ".glb"
}
