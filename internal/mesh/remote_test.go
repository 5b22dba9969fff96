package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider scripts the generation API endpoints for one test.
type fakeProvider struct {
	polls        atomic.Int32
	transient    int32
	finalStatus  string
	output       TaskOutput
	submitCode   int
	modelPayload []byte
}

func (p *fakeProvider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/openapi/task", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": p.submitCode,
			"data": map[string]string{"task_id": "task-1"},
		})
	})
	mux.HandleFunc("GET /v2/openapi/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		n := p.polls.Add(1)
		if n <= p.transient {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "upstream hiccup")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"status": p.finalStatus, "output": p.output},
		})
	})
	mux.HandleFunc("GET /model.glb", func(w http.ResponseWriter, r *http.Request) {
		w.Write(p.modelPayload)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

type stubUploader struct {
	url string
	err error
}

func (u stubUploader) Upload(_ context.Context, _ string) (string, error) {
	return u.url, u.err
}

func newRemoteReq(t *testing.T) Request {
	t.Helper()
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame_000001.jpg")
	if err := os.WriteFile(framePath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return Request{
		SessionID:    "room",
		FramePaths:   []string{framePath},
		ArtifactPath: filepath.Join(dir, "reconstruction.glb"),
	}
}

func TestRemoteJobSucceedsAfterTransientPolls(t *testing.T) {
	provider := &fakeProvider{
		transient:    3,
		finalStatus:  "success",
		modelPayload: []byte("glb-bytes"),
	}
	ts := provider.serve(t)
	provider.output = TaskOutput{BaseModel: ts.URL + "/model.glb"}

	client := NewTripoClient("key", ts.URL)
	job := NewRemoteJob(stubUploader{url: "https://img.example/x.jpg"}, client, time.Millisecond, 10)

	var steps []string
	req := newRemoteReq(t)
	artifact, err := job.Generate(context.Background(), req, func(s string) { steps = append(steps, s) })
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if artifact.Origin != OriginRemote {
		t.Fatalf("Origin = %q, want %q", artifact.Origin, OriginRemote)
	}
	if artifact.URL != "reconstruction.glb" {
		t.Fatalf("URL = %q, want session-relative filename", artifact.URL)
	}
	data, err := os.ReadFile(req.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "glb-bytes" {
		t.Fatalf("artifact bytes = %q, want downloaded model", data)
	}
	if got := provider.polls.Load(); got != 4 {
		t.Fatalf("polls = %d, want 4 (3 transient + 1 success)", got)
	}
	// Progress fires per phase transition, never per poll attempt.
	if len(steps) != 3 {
		t.Fatalf("progress steps = %v, want 3 phase transitions", steps)
	}
}

func TestRemoteJobTimesOutWithoutTerminalStatus(t *testing.T) {
	provider := &fakeProvider{finalStatus: "running"}
	ts := provider.serve(t)

	client := NewTripoClient("key", ts.URL)
	job := NewRemoteJob(stubUploader{url: "https://img.example/x.jpg"}, client, time.Millisecond, 5)

	_, err := job.Generate(context.Background(), newRemoteReq(t), func(string) {})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut", err)
	}
	if got := provider.polls.Load(); got != 5 {
		t.Fatalf("polls = %d, want full attempt budget 5", got)
	}
}

func TestRemoteJobTerminalFailureStopsPolling(t *testing.T) {
	provider := &fakeProvider{finalStatus: "banned"}
	ts := provider.serve(t)

	client := NewTripoClient("key", ts.URL)
	job := NewRemoteJob(stubUploader{url: "https://img.example/x.jpg"}, client, time.Millisecond, 50)

	_, err := job.Generate(context.Background(), newRemoteReq(t), func(string) {})
	var failed *TaskFailedError
	if !errors.As(err, &failed) || failed.Status != "banned" {
		t.Fatalf("error = %v, want TaskFailedError{banned}", err)
	}
	if got := provider.polls.Load(); got != 1 {
		t.Fatalf("polls = %d, want 1 (terminal status ends polling)", got)
	}
}

func TestRemoteJobSubmitRejection(t *testing.T) {
	provider := &fakeProvider{submitCode: 2010}
	ts := provider.serve(t)

	client := NewTripoClient("key", ts.URL)
	job := NewRemoteJob(stubUploader{url: "https://img.example/x.jpg"}, client, time.Millisecond, 5)

	_, err := job.Generate(context.Background(), newRemoteReq(t), func(string) {})
	var submit *SubmitError
	if !errors.As(err, &submit) || submit.Code != 2010 {
		t.Fatalf("error = %v, want SubmitError{2010}", err)
	}
}

func TestRemoteJobUploadFailureIsCloudSync(t *testing.T) {
	job := NewRemoteJob(stubUploader{err: errors.New("boom")}, nil, time.Millisecond, 5)
	_, err := job.Generate(context.Background(), newRemoteReq(t), func(string) {})
	if !errors.Is(err, ErrCloudSync) {
		t.Fatalf("error = %v, want ErrCloudSync", err)
	}
}

func TestRemoteJobCancellationBetweenPolls(t *testing.T) {
	provider := &fakeProvider{finalStatus: "running"}
	ts := provider.serve(t)

	client := NewTripoClient("key", ts.URL)
	job := NewRemoteJob(stubUploader{url: "https://img.example/x.jpg"}, client, 50*time.Millisecond, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := job.Generate(ctx, newRemoteReq(t), func(string) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRemoteJobRequiresFrames(t *testing.T) {
	job := NewRemoteJob(stubUploader{}, nil, time.Millisecond, 5)
	_, err := job.Generate(context.Background(), Request{SessionID: "room"}, func(string) {})
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("error = %v, want ErrNoFrames", err)
	}
}

func TestImgBBUploaderRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("key"); got != "secret" {
			t.Errorf("key = %q, want secret", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"url": "https://img.example/hosted.jpg"},
		})
	}))
	defer ts.Close()

	framePath := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(framePath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	u := NewImgBBUploader("secret", ts.URL)
	url, err := u.Upload(context.Background(), framePath)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://img.example/hosted.jpg" {
		t.Fatalf("url = %q", url)
	}
}

func TestImgBBUploaderRetriesThrottling(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"url": "https://img.example/hosted.jpg"},
		})
	}))
	defer ts.Close()

	framePath := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(framePath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	u := NewImgBBUploader("secret", ts.URL)
	u.baseDelay = time.Millisecond
	url, err := u.Upload(context.Background(), framePath)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://img.example/hosted.jpg" {
		t.Fatalf("url = %q", url)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upload attempts = %d, want 2", got)
	}
}

func TestTripoBalanceAcceptsStringAndNumber(t *testing.T) {
	for _, body := range []string{
		`{"code":0,"data":{"balance":"42"}}`,
		`{"code":0,"data":{"balance":42}}`,
	} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/user/balance") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			fmt.Fprint(w, body)
		}))
		client := NewTripoClient("key", ts.URL)
		balance, err := client.Balance(context.Background())
		ts.Close()
		if err != nil {
			t.Fatalf("Balance() error = %v for %s", err, body)
		}
		if balance != 42 {
			t.Fatalf("balance = %d, want 42", balance)
		}
	}
}
