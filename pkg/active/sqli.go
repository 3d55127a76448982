package active

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/lib"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/payloads"
)

// TestFormSQLi probes every non-hidden form input with the SQL injection
// corpus, watching the response for database error fingerprints. Siblings
// are filled with "1" to also hit numeric query contexts.
func TestFormSQLi(ctx context.Context, fetcher *fetch.Fetcher, page *parse.Page) ([]db.Finding, int) {
	var findings []db.Finding
	endpointsTested := 0

	for _, form := range page.Forms {
		inputs := probeableInputs(form)
		if len(inputs) == 0 {
			continue
		}
		for _, target := range inputs {
			for _, payload := range payloads.GetSQLiPayloads() {
				params := buildFormParams(form, target.Name, payload, "1")
				endpointsTested++

				resp, err := fetcher.Fetch(ctx, fetch.Request{
					URL:    form.Action,
					Method: form.Method,
					Params: params,
				})
				if err != nil {
					log.Debug().Err(err).Str("action", form.Action).Str("input", target.Name).Msg("SQLi probe request failed")
					continue
				}

				if fingerprint := payloads.MatchSQLError(string(resp.Body)); fingerprint != "" {
					finding := db.NewFinding(
						"SQL Injection",
						db.CategorySQLInjection,
						db.SeverityCritical,
						fmt.Sprintf("The form input %q triggers a database error (%s). Payload: %s", target.Name, fingerprint, payload),
						fmt.Sprintf("%s %s", form.Method, form.Action),
						"Injected SQL can read or modify the entire database behind the application.",
					)
					finding.Input = target.Name
					findings = append(findings, finding)
					break
				}
			}
		}
	}
	return findings, endpointsTested
}

// TestURLParamsSQLi replaces each query parameter of the page URL with a
// single quote and checks for database error fingerprints.
func TestURLParamsSQLi(ctx context.Context, fetcher *fetch.Fetcher, page *parse.Page) ([]db.Finding, int) {
	var findings []db.Finding
	endpointsTested := 0

	params, err := lib.GetQueryParams(page.URL)
	if err != nil {
		return nil, 0
	}
	for _, param := range params {
		probeURL, err := lib.BuildURLWithParam(page.URL, param, payloads.SQLiURLProbe)
		if err != nil {
			continue
		}
		endpointsTested++

		resp, err := fetcher.Fetch(ctx, fetch.Request{URL: probeURL, Method: "GET"})
		if err != nil {
			log.Debug().Err(err).Str("url", probeURL).Str("param", param).Msg("URL SQLi probe request failed")
			continue
		}

		if fingerprint := payloads.MatchSQLError(string(resp.Body)); fingerprint != "" {
			finding := db.NewFinding(
				"SQL Injection (URL)",
				db.CategorySQLInjection,
				db.SeverityCritical,
				fmt.Sprintf("The query parameter %q triggers a database error (%s).", param, fingerprint),
				"GET "+probeURL,
				"Injected SQL can read or modify the entire database behind the application.",
			)
			finding.Input = param
			findings = append(findings, finding)
		}
	}
	return findings, endpointsTested
}
