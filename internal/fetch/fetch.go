package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// chunkSize bounds how much of a response body is held in memory at once.
const chunkSize = 8 * 1024

// Options configures a Fetcher.
type Options struct {
	Dir            string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// Fetcher downloads documents into a local directory.
type Fetcher struct {
	dir       string
	userAgent string
	client    *http.Client
	log       *zap.Logger
}

// New creates a Fetcher. Timeout bounds a whole download, ConnectTimeout the
// dial and the wait for response headers.
func New(opts Options, log *zap.Logger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ArxivHarvester/1.0 (research pipeline)"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext
	transport.ResponseHeaderTimeout = opts.ConnectTimeout

	return &Fetcher{
		dir:       opts.Dir,
		userAgent: opts.UserAgent,
		log:       log.Named("fetch"),
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch streams url into the fetcher's directory under name and returns the
// local path. Any failure is returned as *Error and leaves no partial file.
func (f *Fetcher) Fetch(ctx context.Context, url, name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", &Error{URL: url, Err: errors.New("empty destination name")}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", &Error{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, chunkSize))
		return "", &Error{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", &Error{URL: url, Err: fmt.Errorf("creating download directory: %w", err)}
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+".*.part")
	if err != nil {
		return "", &Error{URL: url, Err: fmt.Errorf("creating file: %w", err)}
	}

	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(onlyWriter{tmp}, onlyReader{resp.Body}, buf)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", &Error{URL: url, Err: fmt.Errorf("reading body: %w", err)}
	}

	dst := filepath.Join(f.dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", &Error{URL: url, Err: fmt.Errorf("moving file into place: %w", err)}
	}

	f.log.Debug("downloaded", zap.String("url", url), zap.String("path", dst), zap.Int64("bytes", n))
	return dst, nil
}

// onlyReader and onlyWriter hide ReadFrom/WriteTo so io.CopyBuffer really
// moves the body through the fixed-size buffer.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }

// Error is returned for any failed download: a non-2xx status, a transport
// failure or a timeout.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the download failed because a deadline passed.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
