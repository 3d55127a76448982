package active

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/payloads"
)

func TestFormXSSVulnerableInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Echoes the "comment" field unencoded, like a vulnerable guestbook.
		fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Query().Get("comment"))
	}))
	defer server.Close()

	page := &parse.Page{
		URL: server.URL,
		Forms: []parse.Form{{
			Action: server.URL + "/post",
			Method: "GET",
			Inputs: []parse.FormInput{
				{Name: "comment", Type: "text"},
				{Name: "author", Type: "text"},
			},
		}},
	}

	fetcher := fetch.NewFetcher(fetch.Options{})
	findings, endpoints := TestFormXSS(context.Background(), fetcher, page)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Reflected XSS", f.Name)
	assert.Equal(t, db.SeverityHigh, f.Severity)
	assert.Equal(t, db.CategoryXSS, f.Category)
	assert.Equal(t, "GET "+server.URL+"/post", f.Location)
	assert.Contains(t, f.Description, "comment")

	// The vulnerable input stops at its first confirming payload; the clean
	// one exhausts the corpus.
	corpus := len(payloads.GetXSSPayloads())
	assert.Equal(t, 1+corpus, endpoints)
}

func TestFormXSSCleanTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>nothing echoed</body></html>")
	}))
	defer server.Close()

	page := &parse.Page{
		URL: server.URL,
		Forms: []parse.Form{{
			Action: server.URL,
			Method: "POST",
			Inputs: []parse.FormInput{{Name: "q", Type: "text"}},
		}},
	}

	fetcher := fetch.NewFetcher(fetch.Options{})
	findings, endpoints := TestFormXSS(context.Background(), fetcher, page)
	assert.Empty(t, findings)
	assert.Equal(t, len(payloads.GetXSSPayloads()), endpoints)
}

func TestFormXSSSkipsHiddenOnlyForms(t *testing.T) {
	fetcher := fetch.NewFetcher(fetch.Options{})
	page := &parse.Page{
		URL: "http://t/",
		Forms: []parse.Form{{
			Action: "http://t/save",
			Method: "POST",
			Inputs: []parse.FormInput{{Name: "state", Type: "hidden"}},
		}},
	}
	findings, endpoints := TestFormXSS(context.Background(), fetcher, page)
	assert.Empty(t, findings)
	assert.Zero(t, endpoints)
}

func TestURLParamsXSSReflected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>Results for %s</body></html>", r.URL.Query().Get("q"))
	}))
	defer server.Close()

	page := &parse.Page{URL: server.URL + "/search?q=foo"}
	fetcher := fetch.NewFetcher(fetch.Options{})
	findings, endpoints := TestURLParamsXSS(context.Background(), fetcher, page)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Reflected XSS (URL)", f.Name)
	assert.Equal(t, db.SeverityHigh, f.Severity)
	assert.Equal(t, "GET "+server.URL+"/search?q=%3Cscript%3Ealert(%22XSS%22)%3C/script%3E", f.Location)
	assert.Equal(t, 1, endpoints)
}

func TestURLParamsXSSEncodedEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Proper encoding: no vulnerability.
		fmt.Fprintf(w, "<html><body>Results for %s</body></html>", r.URL.Query().Encode())
	}))
	defer server.Close()

	page := &parse.Page{URL: server.URL + "/search?q=foo"}
	fetcher := fetch.NewFetcher(fetch.Options{})
	findings, endpoints := TestURLParamsXSS(context.Background(), fetcher, page)
	assert.Empty(t, findings)
	assert.Equal(t, 1, endpoints)
}

func TestURLParamsXSSNoParams(t *testing.T) {
	fetcher := fetch.NewFetcher(fetch.Options{})
	page := &parse.Page{URL: "http://t/plain"}
	findings, endpoints := TestURLParamsXSS(context.Background(), fetcher, page)
	assert.Empty(t, findings)
	assert.Zero(t, endpoints)
}
