// Package scan runs vulnerability checks against crawled pages and
// coordinates whole-site scanning sessions.
package scan

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/active"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/passive"
)

// PageResult aggregates everything the detectors produced for one page.
type PageResult struct {
	Findings        []db.Finding
	FormsFound      int
	EndpointsTested int
}

// Scanner runs the detector suite against a single page: the passive
// checks first, then the active form and URL parameter probes.
type Scanner struct {
	fetcher *fetch.Fetcher
	log     zerolog.Logger
}

// NewScanner builds a Scanner around the given fetcher.
func NewScanner(fetcher *fetch.Fetcher) *Scanner {
	return &Scanner{
		fetcher: fetcher,
		log:     log.With().Str("module", "scanner").Logger(),
	}
}

// ScanPage fetches the page once for the passive checks, then probes its
// forms and URL parameters. The returned findings are deduplicated.
func (s *Scanner) ScanPage(ctx context.Context, page *parse.Page) (*PageResult, error) {
	resp, err := s.fetcher.Fetch(ctx, fetch.Request{URL: page.URL, Method: http.MethodGet})
	if err != nil {
		return nil, err
	}

	var findings []db.Finding
	findings = append(findings, passive.CheckCSRF(page)...)
	findings = append(findings, passive.CheckDOMSinks(page.URL, parse.InlineScripts(resp.Body))...)
	findings = append(findings, passive.CheckDisclosure(page.URL, resp)...)

	endpoints := 0
	formXSS, n := active.TestFormXSS(ctx, s.fetcher, page)
	findings = append(findings, formXSS...)
	endpoints += n

	urlXSS, n := active.TestURLParamsXSS(ctx, s.fetcher, page)
	findings = append(findings, urlXSS...)
	endpoints += n

	formSQLi, n := active.TestFormSQLi(ctx, s.fetcher, page)
	findings = append(findings, formSQLi...)
	endpoints += n

	urlSQLi, n := active.TestURLParamsSQLi(ctx, s.fetcher, page)
	findings = append(findings, urlSQLi...)
	endpoints += n

	findings = db.DeduplicateFindings(findings)
	s.log.Debug().
		Str("url", page.URL).
		Int("findings", len(findings)).
		Int("endpoints", endpoints).
		Msg("Page scan finished")

	return &PageResult{
		Findings:        findings,
		FormsFound:      len(page.Forms),
		EndpointsTested: endpoints,
	}, nil
}
