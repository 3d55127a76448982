// Package fetch provides the one-shot HTTP request primitive used by the
// crawler and the detectors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Request describes a single fetch. Params are appended to the query string
// for GET requests and form-encoded into the body for POST requests.
type Request struct {
	URL     string
	Method  string
	Params  url.Values
	Body    string
	Headers map[string]string
}

// Response is the outcome of a successful fetch. Any 1xx-4xx status counts
// as success.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	FinalURL   string
}

// Options configures a Fetcher. Zero values are filled from configuration.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
	// RejectOversized rejects bodies over MaxBodyBytes with a TooLarge
	// error. By default such bodies are truncated and flagged.
	RejectOversized bool
	// ScopeCheck, when set, refuses redirects leading out of scope
	// (crawler mode).
	ScopeCheck func(string) bool
}

// Fetcher issues requests with bounded timeouts, redirects and body sizes.
// It keeps no cookie jar and never retries.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// NewFetcher builds a Fetcher, taking unset options from configuration.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = time.Duration(viper.GetInt("http.timeout_ms")) * time.Millisecond
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = viper.GetInt("http.max_redirects")
		if opts.MaxRedirects == 0 {
			opts.MaxRedirects = 5
		}
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = viper.GetInt64("http.max_body_bytes")
		if opts.MaxBodyBytes == 0 {
			opts.MaxBodyBytes = 2 * 1024 * 1024
		}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = viper.GetString("http.user_agent")
		if opts.UserAgent == "" {
			opts.UserAgent = "SecureScan-Worker/1.0"
		}
	}

	f := &Fetcher{opts: opts}
	f.client = &http.Client{
		Transport: createTransport(),
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			if opts.ScopeCheck != nil && !opts.ScopeCheck(req.URL.String()) {
				return fmt.Errorf("redirect to out-of-scope URL %s refused", req.URL)
			}
			return nil
		},
	}
	return f
}

// Fetch performs a single request. 1xx-4xx responses are returned as-is;
// 5xx responses and transport failures yield a classified *Error.
func (f *Fetcher) Fetch(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	targetURL := r.URL
	var bodyReader io.Reader
	contentType := ""

	if len(r.Params) > 0 {
		if method == http.MethodPost {
			bodyReader = strings.NewReader(r.Params.Encode())
			contentType = "application/x-www-form-urlencoded"
		} else {
			parsed, err := url.Parse(r.URL)
			if err != nil {
				return nil, &Error{Kind: ErrorKindNetwork, Cause: err}
			}
			query := parsed.Query()
			for key, values := range r.Params {
				for _, v := range values {
					query.Set(key, v)
				}
			}
			parsed.RawQuery = query.Encode()
			targetURL = parsed.String()
		}
	} else if r.Body != "" {
		bodyReader = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, bodyReader)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Cause: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: ErrorKindBadStatus, Cause: fmt.Errorf("server returned %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	truncated := false
	if int64(len(body)) > f.opts.MaxBodyBytes {
		if f.opts.RejectOversized {
			return nil, &Error{Kind: ErrorKindTooLarge, Cause: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBodyBytes)}
		}
		body = body[:f.opts.MaxBodyBytes]
		truncated = true
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Truncated:  truncated,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrorKindTimeout, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Cause: err}
	}
	return &Error{Kind: ErrorKindNetwork, Cause: err}
}
