package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchBasic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SecureScan-Worker/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Server", "nginx/1.18.0")
		fmt.Fprint(w, "hello")
	}))
	defer server.Close()

	f := NewFetcher(Options{UserAgent: "SecureScan-Worker/1.0"})
	resp, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "nginx/1.18.0", resp.Headers.Get("Server"))
	assert.False(t, resp.Truncated)
}

func TestFetchGetParamsAppendedToQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Query().Get("q"))
	}))
	defer server.Close()

	f := NewFetcher(Options{})
	params := url.Values{}
	params.Set("q", "needle")
	resp, err := f.Fetch(context.Background(), Request{URL: server.URL + "/search", Method: "GET", Params: params})
	require.NoError(t, err)
	assert.Equal(t, "needle", string(resp.Body))
}

func TestFetchPostParamsFormEncoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		fmt.Fprint(w, r.PostFormValue("name"))
	}))
	defer server.Close()

	f := NewFetcher(Options{})
	params := url.Values{}
	params.Set("name", "value")
	resp, err := f.Fetch(context.Background(), Request{URL: server.URL, Method: "POST", Params: params})
	require.NoError(t, err)
	assert.Equal(t, "value", string(resp.Body))
}

func TestFetch4xxIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "not here")
	}))
	defer server.Close()

	f := NewFetcher(Options{})
	resp, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not here", string(resp.Body))
}

func TestFetch5xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher(Options{})
	_, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, IsFetchError(err, ErrorKindBadStatus))
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	f := NewFetcher(Options{Timeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, IsFetchError(err, ErrorKindTimeout))
}

func TestFetchNetworkError(t *testing.T) {
	f := NewFetcher(Options{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), Request{URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	_, ok := err.(*Error)
	assert.True(t, ok)
}

func TestFetchBodyTruncation(t *testing.T) {
	big := strings.Repeat("a", 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, big)
	}))
	defer server.Close()

	f := NewFetcher(Options{MaxBodyBytes: 1024})
	resp, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, 1024)

	strict := NewFetcher(Options{MaxBodyBytes: 1024, RejectOversized: true})
	_, err = strict.Fetch(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, IsFetchError(err, ErrorKindTooLarge))
}

func TestFetchRedirectLimit(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	f := NewFetcher(Options{MaxRedirects: 5})
	_, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
}

func TestFetchRefusesOutOfScopeRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://evil.example.org/", http.StatusFound)
	}))
	defer server.Close()

	f := NewFetcher(Options{
		ScopeCheck: func(u string) bool { return strings.HasPrefix(u, server.URL) },
	})
	_, err := f.Fetch(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
}
