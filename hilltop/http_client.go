package hilltop

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for snapshot fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// FetchOption configures FetchImage behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchImage downloads and decodes a camera snapshot. Transport failures
// and non-200 responses are retried with exponential backoff; a body that
// does not decode is returned as an error straight away.
func FetchImage(ctx context.Context, url string, opts ...FetchOption) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch image: URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch image: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, url)
		if err != nil {
			lastErr = err
			continue
		}

		img, _, err := DecodeImage(body)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		return img, nil
	}

	return nil, fmt.Errorf("fetch image: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}

// FrameHandler receives a decoded frame for a source.
type FrameHandler func(sourceID string, img image.Image)

// Poller fetches snapshots for every source with a snapshotUrl on its poll
// interval and hands them to a FrameHandler.
type Poller struct {
	sources []SourceConfig
	handle  FrameHandler
	opts    []FetchOption
}

// NewPoller selects the HTTP sources from sources.
func NewPoller(sources []SourceConfig, handle FrameHandler, opts ...FetchOption) *Poller {
	var polled []SourceConfig
	for _, sc := range sources {
		if sc.SnapshotURL != "" {
			polled = append(polled, sc)
		}
	}
	return &Poller{sources: polled, handle: handle, opts: opts}
}

// Sources returns the IDs of the polled sources.
func (p *Poller) Sources() []string {
	ids := make([]string, len(p.sources))
	for i, sc := range p.sources {
		ids[i] = sc.ID
	}
	return ids
}

// Run polls until ctx is cancelled. Each source fetches once immediately
// and then on every tick; failed fetches are logged and skipped.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range p.sources {
		g.Go(func() error {
			p.poll(ctx, sc)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) poll(ctx context.Context, sc SourceConfig) {
	interval := sc.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		img, err := FetchImage(ctx, sc.SnapshotURL, p.opts...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			Logf("[HTTP] Snapshot for %s failed: %v", sc.ID, err)
		} else {
			p.handle(sc.ID, img)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
