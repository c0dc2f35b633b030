package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/ArxivHarvester/internal/slug"
)

// Query selects one page of search results.
type Query struct {
	Terms      string
	Start      int
	MaxResults int
}

// SearchResult describes a saved result set.
type SearchResult struct {
	Query
	Path     string
	Total    int
	Returned int
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL         string
	ResultsDir      string
	UserAgent       string
	Timeout         time.Duration
	RequestInterval time.Duration
}

// Client queries the arXiv API and keeps each raw response on disk so it can
// be processed later.
type Client struct {
	baseURL   string
	dir       string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// NewClient creates a search client. Requests through one Client are spaced
// by RequestInterval; zero disables spacing.
func NewClient(opts ClientOptions, log *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}
	return &Client{
		baseURL:   opts.BaseURL,
		dir:       opts.ResultsDir,
		userAgent: opts.UserAgent,
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   rate.NewLimiter(limit, 1),
		log:       log.Named("arxiv"),
		now:       time.Now,
	}
}

// Search fetches one page of results, saves it and reports its counts.
func (c *Client) Search(ctx context.Context, q Query) (*SearchResult, error) {
	if q.Terms == "" {
		return nil, fmt.Errorf("empty search terms")
	}
	if q.Start < 0 {
		q.Start = 0
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 50
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("search_query", "all:"+q.Terms)
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("max_results", strconv.Itoa(q.MaxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("arxiv API returned %d", resp.StatusCode)
	}

	path, err := c.save(q, resp.Body)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reopening result set: %w", err)
	}
	defer f.Close()

	counts, err := ParseCounts(f)
	if err != nil {
		return nil, err
	}

	c.log.Info("saved result set",
		zap.String("terms", q.Terms),
		zap.String("path", path),
		zap.Int("total", counts.Total),
		zap.Int("returned", counts.Returned))

	return &SearchResult{Query: q, Path: path, Total: counts.Total, Returned: counts.Returned}, nil
}

func (c *Client) save(q Query, body io.Reader) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results directory: %w", err)
	}

	name := fmt.Sprintf("arxiv_%s_%d_%d_%s.xml",
		slug.Query(q.Terms), q.Start, q.MaxResults, c.now().Format("20060102_150405"))
	path := filepath.Join(c.dir, name)

	tmp, err := os.CreateTemp(c.dir, ".result-*.xml")
	if err != nil {
		return "", fmt.Errorf("creating result file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("saving result set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("saving result set: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("saving result set: %w", err)
	}
	return path, nil
}
