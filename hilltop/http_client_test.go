package hilltop

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

func pngServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Accept"), "image/") {
			t.Errorf("expected Accept: image/*, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchImage_Success(t *testing.T) {
	srv := pngServer(t, encodedPNG(t, 9, 4))

	img, err := FetchImage(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchImage() error: %v", err)
	}
	if img.Bounds().Dx() != 9 || img.Bounds().Dy() != 4 {
		t.Errorf("size = %v, want 9x4", img.Bounds())
	}
}

func TestFetchImage_EmptyURL(t *testing.T) {
	_, err := FetchImage(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "URL is empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchImage_UndecodableNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	_, err := FetchImage(context.Background(), srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "decoding image") {
		t.Fatalf("expected decode error, got: %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestFetchImage_ServerError_Retries(t *testing.T) {
	body := encodedPNG(t, 2, 2)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	_, err := FetchImage(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithBaseBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("FetchImage() error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestFetchImage_AllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchImage(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchImage_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchImage(ctx, srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Hour))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---------------------------------------------------------------------------
// Poller
// ---------------------------------------------------------------------------

type frameRecorder struct {
	mock.Mock
}

func (r *frameRecorder) handle(sourceID string, img image.Image) {
	r.Called(sourceID, img.Bounds())
}

func TestNewPoller_SelectsHTTPSources(t *testing.T) {
	p := NewPoller([]SourceConfig{
		{ID: "mqtt-only", Topic: "cams/a"},
		{ID: "polled", SnapshotURL: "http://cam/snap"},
	}, func(string, image.Image) {})

	if got := p.Sources(); len(got) != 1 || got[0] != "polled" {
		t.Errorf("Sources() = %v, want [polled]", got)
	}
}

func TestPoller_Run(t *testing.T) {
	srv := pngServer(t, encodedPNG(t, 6, 3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &frameRecorder{}
	rec.On("handle", "cam", image.Rect(0, 0, 6, 3)).Run(func(mock.Arguments) { cancel() }).Once()

	p := NewPoller([]SourceConfig{{ID: "cam", SnapshotURL: srv.URL, PollInterval: time.Hour}},
		rec.handle, WithHTTPClient(srv.Client()))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
	rec.AssertExpectations(t)
}

func TestPoller_FailedFetchSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &frameRecorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	p := NewPoller([]SourceConfig{{ID: "cam", SnapshotURL: srv.URL, PollInterval: 20 * time.Millisecond}},
		rec.handle, WithHTTPClient(srv.Client()), WithMaxRetries(1))
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	rec.AssertNotCalled(t, "handle", mock.Anything, mock.Anything)
}
