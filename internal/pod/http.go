package pod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderProvider allows injecting per-request headers (e.g. authorization).
type HeaderProvider func() map[string]string

// HTTPStore talks to a remote pod over plain HTTP. Document and collection
// URLs are absolute, so a single client reaches both parties' storage.
type HTTPStore struct {
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type HTTPOption func(*HTTPStore)

func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStore) { s.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) HTTPOption {
	return func(s *HTTPStore) { s.headers = h }
}

func WithRetry(max int) HTTPOption {
	return func(s *HTTPStore) { s.retryMax = max }
}

// WithDial replaces the client's dialer; tests use it with in-memory listeners.
func WithDial(dial fasthttp.DialFunc) HTTPOption {
	return func(s *HTTPStore) { s.http.Dial = dial }
}

func NewHTTPStore(opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// factsBody is the wire shape of documents and posted envelopes.
type factsBody struct {
	Facts []Fact `json:"facts"`
}

type membersBody struct {
	Members []string `json:"members"`
}

func (s *HTTPStore) Fetch(ctx context.Context, rawURL string) ([]Fact, error) {
	var body factsBody
	if _, err := s.doJSON(ctx, fasthttp.MethodGet, DocumentOf(rawURL), nil, &body, true); err != nil {
		return nil, err
	}
	if body.Facts == nil {
		body.Facts = []Fact{}
	}
	return body.Facts, nil
}

func (s *HTTPStore) Write(ctx context.Context, docURL string, facts []Fact) error {
	doc := DocumentOf(docURL)
	if strings.TrimSpace(doc) == "" {
		return ErrInvalidURL
	}
	_, err := s.doJSON(ctx, fasthttp.MethodPatch, doc, factsBody{Facts: facts}, nil, true)
	return err
}

func (s *HTTPStore) Delete(ctx context.Context, rawURL string) error {
	_, err := s.doJSON(ctx, fasthttp.MethodDelete, DocumentOf(rawURL), nil, nil, true)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *HTTPStore) ListTyped(ctx context.Context, collectionURL, typ string) ([]string, error) {
	target := collectionOf(collectionURL)
	if typ != "" {
		target += "?type=" + url.QueryEscape(typ)
	}
	var body membersBody
	if _, err := s.doJSON(ctx, fasthttp.MethodGet, target, nil, &body, true); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return body.Members, nil
}

// Post is not retried: a lost response would otherwise duplicate the envelope.
func (s *HTTPStore) Post(ctx context.Context, collectionURL string, facts []Fact) (string, error) {
	if strings.TrimSpace(collectionURL) == "" {
		return "", ErrInvalidURL
	}
	loc, err := s.doJSON(ctx, fasthttp.MethodPost, collectionOf(collectionURL), factsBody{Facts: facts}, nil, false)
	if err != nil {
		return "", err
	}
	if loc == "" {
		return "", fmt.Errorf("post %s: missing location header", collectionURL)
	}
	return loc, nil
}

// doJSON performs one request with bounded retries and returns the Location
// header of the final response.
func (s *HTTPStore) doJSON(ctx context.Context, method, target string, in any, out any, retry bool) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(target)
	req.Header.SetContentType("application/json")

	if s.headers != nil {
		for k, v := range s.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && s.retryMax > 0 {
		attempts = s.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.http.DoDeadline(req, resp, s.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, target, err)
			if attempt == attempts {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusNotFound {
			return "", fmt.Errorf("%s %s: %w", method, target, ErrNotFound)
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("pod error: %s %s status=%d body=%s", method, target, status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return "", fmt.Errorf("decode response: %w", err)
			}
		}
		return string(resp.Header.Peek(fasthttp.HeaderLocation)), nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return "", lastErr
}

func (s *HTTPStore) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(s.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
