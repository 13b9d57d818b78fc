package meshy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"forge3d/internal/domain"
	"forge3d/internal/storage"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Store:      store,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestSubmitText(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/openapi/v2/text-to-3d" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization = %q", got)
		}
		var body createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Mode != "preview" || body.Prompt != "a spooky castle" {
			t.Fatalf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "task-123"})
	}))

	taskID, err := client.SubmitText(context.Background(), "a spooky castle")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if taskID != "text/task-123" {
		t.Fatalf("task id = %q, want %q", taskID, "text/task-123")
	}
}

func TestSubmitImage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/v1/image-to-3d" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if !strings.HasPrefix(body.ImageURL, "data:image/png;base64,") {
			t.Fatalf("image url = %q, want data uri", body.ImageURL)
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "task-456"})
	}))

	taskID, err := client.SubmitImage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png", "a crate")
	if err != nil {
		t.Fatalf("SubmitImage: %v", err)
	}
	if taskID != "image/task-456" {
		t.Fatalf("task id = %q, want %q", taskID, "image/task-456")
	}
}

func TestCheckStatusNormalization(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantState domain.TaskState
		wantURL   string
		wantErr   string
		wantPct   int
	}{
		{
			name:      "pending",
			body:      `{"status":"PENDING","progress":0,"preceding_tasks":3}`,
			wantState: domain.TaskStateQueued,
		},
		{
			name:      "in progress with float progress",
			body:      `{"status":"IN_PROGRESS","progress":42.7}`,
			wantState: domain.TaskStateProcessing,
			wantPct:   42,
		},
		{
			name:      "succeeded with model_urls",
			body:      `{"status":"SUCCEEDED","progress":100,"model_urls":{"glb":"https://cdn.example/model.glb"}}`,
			wantState: domain.TaskStateSucceeded,
			wantURL:   "https://cdn.example/model.glb",
			wantPct:   100,
		},
		{
			name:      "succeeded with legacy model_url",
			body:      `{"state":"succeeded","model_url":"https://cdn.example/legacy.glb"}`,
			wantState: domain.TaskStateSucceeded,
			wantURL:   "https://cdn.example/legacy.glb",
		},
		{
			name:      "failed with task_error object",
			body:      `{"status":"FAILED","task_error":{"message":"nsfw content"}}`,
			wantState: domain.TaskStateFailed,
			wantErr:   "nsfw content",
		},
		{
			name:      "failed with bare error string",
			body:      `{"status":"FAILED","error":"quota exhausted"}`,
			wantState: domain.TaskStateFailed,
			wantErr:   "quota exhausted",
		},
		{
			name:      "unrecognized state maps to unknown",
			body:      `{"status":"REBALANCING"}`,
			wantState: domain.TaskStateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/openapi/v2/text-to-3d/task-1" {
					t.Fatalf("unexpected path: %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))

			status, err := client.CheckStatus(context.Background(), "text/task-1")
			if err != nil {
				t.Fatalf("CheckStatus: %v", err)
			}
			if status.State != tt.wantState {
				t.Fatalf("state = %q, want %q", status.State, tt.wantState)
			}
			if status.ArtifactURL != tt.wantURL {
				t.Fatalf("artifact url = %q, want %q", status.ArtifactURL, tt.wantURL)
			}
			if status.ErrorMessage != tt.wantErr {
				t.Fatalf("error = %q, want %q", status.ErrorMessage, tt.wantErr)
			}
			if status.Progress != tt.wantPct {
				t.Fatalf("progress = %d, want %d", status.Progress, tt.wantPct)
			}
		})
	}
}

func TestCheckStatusRoutesImageTasks(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/v1/image-to-3d/task-9" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"IN_PROGRESS"}`))
	}))

	status, err := client.CheckStatus(context.Background(), "image/task-9")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status.State != domain.TaskStateProcessing {
		t.Fatalf("state = %q, want processing", status.State)
	}
}

func TestCheckStatusMalformedTaskID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	for _, id := range []string{"", "task-1", "video/task-1", "text/"} {
		if _, err := client.CheckStatus(context.Background(), id); err == nil {
			t.Fatalf("CheckStatus(%q): expected error", id)
		}
	}
}

func TestInvokeErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message":"insufficient credits"}`))
	}))

	_, err := client.SubmitText(context.Background(), "a castle")
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if provErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", provErr.StatusCode)
	}
	if provErr.Message != "insufficient credits" {
		t.Fatalf("message = %q", provErr.Message)
	}
}

func TestDownloadArtifact(t *testing.T) {
	blob := append([]byte("glTF"), make([]byte, 64)...)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/task.glb" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(blob)
	}))

	ref, err := client.DownloadArtifact(context.Background(), "/models/task.glb", "job-7")
	if err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}
	if ref.Format != "glb" {
		t.Fatalf("format = %q, want glb", ref.Format)
	}
	if ref.URL != "/files/job-7.glb" {
		t.Fatalf("url = %q, want /files/job-7.glb", ref.URL)
	}
	if ref.SizeBytes != int64(len(blob)) {
		t.Fatalf("size = %d, want %d", ref.SizeBytes, len(blob))
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatalf("read stored artifact: %v", err)
	}
	if string(data[:4]) != "glTF" {
		t.Fatalf("stored bytes = %q...", data[:4])
	}
}

func TestExtensionForModel(t *testing.T) {
	tests := []struct {
		url, mime string
		data      []byte
		want      string
	}{
		{"https://cdn.example/m.bin", "model/gltf-binary", []byte{1}, ".glb"},
		{"https://cdn.example/m.bin", "model/gltf+json", []byte("{}"), ".gltf"},
		{"https://cdn.example/m.gltf?sig=abc", "", []byte("x"), ".gltf"},
		{"https://cdn.example/m", "", []byte("glTF\x02"), ".glb"},
		{"https://cdn.example/m", "", []byte(`{"asset":{}}`), ".gltf"},
		{"https://cdn.example/m", "application/octet-stream", []byte{0xff}, ".glb"},
	}
	for _, tt := range tests {
		if got := extensionForModel(tt.url, tt.mime, tt.data); got != tt.want {
			t.Fatalf("extensionForModel(%q, %q) = %q, want %q", tt.url, tt.mime, got, tt.want)
		}
	}
}
