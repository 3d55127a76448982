package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/internal/config"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
)

func findingNames(findings []db.Finding) []string {
	names := make([]string, 0, len(findings))
	for _, f := range findings {
		names = append(names, f.Name)
	}
	return names
}

func TestScanPageRunsAllDetectors(t *testing.T) {
	viper.Reset()
	config.SetDefaultConfig()

	body := `<html><head><title>Login</title></head><body>
		<script>document.getElementById("out").innerHTML = location.hash;</script>
		<form action="/login" method="post">
			<input type="text" name="username">
			<input type="password" name="password">
		</form>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Apache/2.4.41")
		w.Header().Set("Content-Type", "text/html")
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseForm())
			fmt.Fprintf(w, "<html><body>hello %s</body></html>", r.PostFormValue("username"))
			return
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	page := parse.ParsePage([]byte(body), server.URL+"/login", nil)
	page.URL = server.URL + "/login"

	scanner := NewScanner(fetch.NewFetcher(fetch.Options{}))
	result, err := scanner.ScanPage(context.Background(), page)
	require.NoError(t, err)

	names := findingNames(result.Findings)
	assert.Contains(t, names, "Cross-Site Request Forgery (CSRF)")
	assert.Contains(t, names, "Potential DOM XSS")
	assert.Contains(t, names, "Server Header Disclosure")
	assert.Contains(t, names, "Reflected XSS")
	assert.Equal(t, 1, result.FormsFound)
	assert.Greater(t, result.EndpointsTested, 0)
}

func TestScanPageDeduplicatesFindings(t *testing.T) {
	viper.Reset()
	config.SetDefaultConfig()

	// Two identical forms produce the same reflected XSS finding; only one
	// copy survives.
	body := `<html><body>
		<form action="/echo" method="get"><input name="q"></form>
		<form action="/echo" method="get"><input name="q"></form>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Query().Get("q"))
	}))
	defer server.Close()

	page := parse.ParsePage([]byte(body), server.URL, nil)
	page.URL = server.URL

	scanner := NewScanner(fetch.NewFetcher(fetch.Options{}))
	result, err := scanner.ScanPage(context.Background(), page)
	require.NoError(t, err)

	reflected := 0
	for _, f := range result.Findings {
		if f.Name == "Reflected XSS" {
			reflected++
		}
	}
	assert.Equal(t, 1, reflected)
}

func TestScanPageHandlesOversizedBody(t *testing.T) {
	viper.Reset()
	config.SetDefaultConfig()
	viper.Set("http.max_body_bytes", 1024)

	filler := strings.Repeat("<p>filler</p>", 200)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.18.0")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>%s</body></html>", filler)
	}))
	defer server.Close()

	// A body over the cap is truncated, not rejected; the page still gets
	// scanned and header checks still apply.
	page := &parse.Page{URL: server.URL + "/big"}
	scanner := NewScanner(fetch.NewFetcher(fetch.Options{}))
	result, err := scanner.ScanPage(context.Background(), page)
	require.NoError(t, err)
	assert.Contains(t, findingNames(result.Findings), "Server Header Disclosure")
}

func TestScanPageFetchFailure(t *testing.T) {
	viper.Reset()
	config.SetDefaultConfig()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	page := &parse.Page{URL: server.URL}
	scanner := NewScanner(fetch.NewFetcher(fetch.Options{}))
	result, err := scanner.ScanPage(context.Background(), page)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, fetch.IsFetchError(err, fetch.ErrorKindBadStatus))
}
