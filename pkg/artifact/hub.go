package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// ---- constants ----

const (
	defaultEndpoint       = "https://huggingface.co"
	defaultRevision       = "main"
	defaultTimeout        = 10 * time.Minute
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Compile-time interface assertion.
var _ Fetcher = (*HubFetcher)(nil)

// Observer is notified once per Fetch call with its outcome and wall time.
type Observer func(ctx context.Context, ref Ref, outcome Outcome, elapsed time.Duration)

// ---- options ----

// Option is a functional option for configuring a [HubFetcher].
type Option func(*HubFetcher)

// WithEndpoint sets the hub base URL. Defaults to https://huggingface.co.
func WithEndpoint(endpoint string) Option {
	return func(f *HubFetcher) { f.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithRevision sets the revision (branch, tag or commit) to resolve files at.
// Defaults to "main".
func WithRevision(rev string) Option {
	return func(f *HubFetcher) {
		if rev != "" {
			f.revision = rev
		}
	}
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(f *HubFetcher) { f.token = token }
}

// WithHTTPClient replaces the HTTP client. The client's Timeout bounds a
// single transfer attempt unless [WithTimeout] is also given. c itself is
// never modified.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HubFetcher) { f.client = c }
}

// WithTimeout sets the per-attempt transfer timeout. It takes precedence over
// the Timeout of a client passed to [WithHTTPClient], regardless of option
// order. Defaults to 10 minutes.
func WithTimeout(d time.Duration) Option {
	return func(f *HubFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried before
// [ErrTransient] is returned. Defaults to 3.
func WithMaxRetries(n int) Option {
	return func(f *HubFetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the first retry delay. Subsequent delays grow
// exponentially. Defaults to 500 ms.
func WithInitialBackoff(d time.Duration) Option {
	return func(f *HubFetcher) {
		if d > 0 {
			f.initialBackoff = d
		}
	}
}

// WithObserver registers a callback invoked after every Fetch.
func WithObserver(o Observer) Option {
	return func(f *HubFetcher) { f.observer = o }
}

// ---- HubFetcher ----

// HubFetcher fetches artifacts from a model hub over HTTPS and caches them
// under a local directory laid out as cacheDir/collection/subfolder/filename.
//
// Files are downloaded into a temporary file next to their destination and
// published with an atomic rename, so readers never observe a partial file.
// At most one transfer per destination is in flight at any time.
//
// HubFetcher is safe for concurrent use.
type HubFetcher struct {
	endpoint       string
	revision       string
	token          string
	cacheDir       string
	client         *http.Client
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	observer       Observer

	group singleflight.Group
}

// NewHubFetcher creates a [HubFetcher] caching into cacheDir.
func NewHubFetcher(cacheDir string, opts ...Option) (*HubFetcher, error) {
	if cacheDir == "" {
		return nil, errors.New("artifact: cache directory must not be empty")
	}
	f := &HubFetcher{
		endpoint:       defaultEndpoint,
		revision:       defaultRevision,
		cacheDir:       cacheDir,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	for _, o := range opts {
		o(f)
	}
	switch {
	case f.client == nil:
		timeout := f.timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	case f.timeout > 0:
		// Copy so a shared client such as http.DefaultClient is left alone.
		c := *f.client
		c.Timeout = f.timeout
		f.client = &c
	}
	return f, nil
}

// Endpoint returns the hub base URL.
func (f *HubFetcher) Endpoint() string { return f.endpoint }

// CacheDir returns the local cache root.
func (f *HubFetcher) CacheDir() string { return f.cacheDir }

// LocalPath returns where ref is (or will be) stored on disk.
func (f *HubFetcher) LocalPath(ref Ref) string {
	return filepath.Join(f.cacheDir, filepath.FromSlash(ref.String()))
}

// URL returns the remote URL of ref.
func (f *HubFetcher) URL(ref Ref) string {
	var b strings.Builder
	b.WriteString(f.endpoint)
	for _, seg := range strings.Split(ref.Collection, "/") {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	b.WriteString("/resolve/")
	b.WriteString(url.PathEscape(f.revision))
	for _, seg := range strings.Split(ref.RelPath(), "/") {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// Fetch returns the local path of ref, downloading it on first use.
func (f *HubFetcher) Fetch(ctx context.Context, ref Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	start := time.Now()
	dst := f.LocalPath(ref)

	if isFile(dst) {
		f.observe(ctx, ref, OutcomeCached, start)
		return dst, nil
	}

	for {
		ch := f.group.DoChan(dst, func() (any, error) {
			return f.download(ctx, ref, dst)
		})
		select {
		case <-ctx.Done():
			f.observe(ctx, ref, OutcomeFailed, start)
			return "", ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The transfer belonged to another caller whose context ended.
				if isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				f.observe(ctx, ref, outcomeOf(res.Err), start)
				return "", res.Err
			}
			f.observe(ctx, ref, OutcomeDownloaded, start)
			return res.Val.(string), nil
		}
	}
}

// download transfers ref into dst, retrying transient failures with
// exponential backoff.
func (f *HubFetcher) download(ctx context.Context, ref Ref, dst string) (string, error) {
	if isFile(dst) {
		return dst, nil
	}
	src := f.URL(ref)
	log := slog.With("artifact", ref.String())
	log.Info("downloading artifact", "url", src)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialBackoff
	bo.MaxInterval = defaultMaxBackoff

	op := func() (string, error) {
		err := f.transfer(ctx, src, dst)
		switch {
		case err == nil:
			return dst, nil
		case errors.Is(err, ErrTransient) && ctx.Err() == nil:
			return "", err
		default:
			return "", backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("artifact download failed, retrying", "err", err, "backoff", wait)
	}

	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.maxRetries)+1),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isContextErr(err) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		log.Warn("artifact download failed", "err", err)
		return "", err
	}
	log.Debug("artifact published", "path", p)
	return p, nil
}

// transfer performs one GET of src and atomically publishes the body at dst.
func (f *HubFetcher) transfer(ctx context.Context, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("artifact: build request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %v", ErrTransient, src, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnauthorized:
		// The hub answers 401 for collections that do not exist.
		return fmt.Errorf("%w: %s (status %d)", ErrNotFound, src, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s (status %d)", ErrTransient, src, resp.StatusCode)
	default:
		return fmt.Errorf("artifact: unexpected status %d for %s", resp.StatusCode, src)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: read %s: %v", ErrTransient, src, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = tmp.Close()
		return fmt.Errorf("%w: short read of %s: got %d of %d bytes", ErrTransient, src, n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("artifact: sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("artifact: publish %q: %w", dst, err)
	}
	published = true
	return nil
}

func (f *HubFetcher) observe(ctx context.Context, ref Ref, outcome Outcome, start time.Time) {
	if f.observer != nil {
		f.observer(ctx, ref, outcome, time.Since(start))
	}
}

// isFile reports whether p exists and is a regular file.
func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
