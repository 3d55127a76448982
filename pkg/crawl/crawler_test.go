package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securescan/securescan/internal/config"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/scope"
)

func setupConfig(t *testing.T, maxDepth, maxPages int) {
	t.Helper()
	viper.Reset()
	config.SetDefaultConfig()
	viper.Set("crawl.max_depth", maxDepth)
	viper.Set("crawl.max_pages", maxPages)
}

func newTestSite(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if requests != nil {
				requests.Add(1)
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/", page(`<html><body>
		<a href="/a">a</a>
		<a href="/b">b</a>
		<a href="/a">a again</a>
		<a href="/logout">logout</a>
		<a href="http://elsewhere.invalid/x">external</a>
	</body></html>`))
	mux.HandleFunc("/a", page(`<html><body><a href="/c">c</a></body></html>`))
	mux.HandleFunc("/b", page(`<html><body>
		<form action="/search" method="get"><input name="q"></form>
	</body></html>`))
	mux.HandleFunc("/c", page(`<html><body>deep</body></html>`))
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return httptest.NewServer(mux)
}

func newCrawler(t *testing.T, seed string) *Crawler {
	t.Helper()
	sc, err := scope.NewScope(seed)
	require.NoError(t, err)
	return NewCrawler(fetch.NewFetcher(fetch.Options{}), sc)
}

func TestCrawlBreadthFirstWithDepthLimit(t *testing.T) {
	setupConfig(t, 1, 20)
	server := newTestSite(t, nil)
	defer server.Close()

	var visited []string
	crawler := newCrawler(t, server.URL)
	crawler.OnPage(func(p *parse.Page) { visited = append(visited, p.URL) })

	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	// /c sits at depth 2, beyond the limit; /logout matches an exclude
	// pattern and the external host is out of scope.
	require.Len(t, result.Pages, 3)
	assert.Equal(t, server.URL+"/", result.Pages[0].URL)
	assert.Equal(t, server.URL+"/a", result.Pages[1].URL)
	assert.Equal(t, server.URL+"/b", result.Pages[2].URL)
	assert.Equal(t, []string{server.URL + "/", server.URL + "/a", server.URL + "/b"}, visited)

	assert.Equal(t, 3, result.Stats.TotalPages)
	assert.Equal(t, 1, result.Stats.TotalForms)
	assert.Equal(t, 1, result.Stats.MaxDepthReached)
	assert.Equal(t, 0, result.Pages[0].Depth)
	assert.Equal(t, 1, result.Pages[1].Depth)
}

func TestCrawlRespectsPageLimit(t *testing.T) {
	setupConfig(t, 3, 2)
	server := newTestSite(t, nil)
	defer server.Close()

	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	assert.Equal(t, server.URL+"/", result.Pages[0].URL)
	assert.Equal(t, server.URL+"/a", result.Pages[1].URL)
	assert.Equal(t, 2, result.Stats.VisitedUrls)
}

func TestCrawlZeroPageLimitFetchesNothing(t *testing.T) {
	setupConfig(t, 3, 0)
	var requests atomic.Int64
	server := newTestSite(t, &requests)
	defer server.Close()

	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.Empty(t, result.Pages)
	assert.Zero(t, requests.Load())
}

func TestCrawlZeroDepthOnlyFetchesSeed(t *testing.T) {
	setupConfig(t, 0, 20)
	server := newTestSite(t, nil)
	defer server.Close()

	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	assert.Equal(t, server.URL+"/", result.Pages[0].URL)
	assert.Equal(t, 0, result.Stats.MaxDepthReached)
}

func TestCrawlSkipsFailingPages(t *testing.T) {
	setupConfig(t, 3, 20)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/broken">x</a><a href="/ok">y</a></body></html>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>fine</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Len(t, result.Pages, 2)
	assert.Equal(t, server.URL+"/ok", result.Pages[1].URL)
}

func TestCrawlSeedFailureIsFatal(t *testing.T) {
	setupConfig(t, 3, 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "seed page unreachable")
}

func TestCrawlCancelledContext(t *testing.T) {
	setupConfig(t, 3, 20)
	server := newTestSite(t, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	crawler := newCrawler(t, server.URL)
	result, err := crawler.Crawl(ctx, server.URL+"/")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Pages)
}
