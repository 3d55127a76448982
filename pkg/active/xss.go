// Package active holds the detectors that probe a page with crafted HTTP
// requests. All requests go through the fetcher handed in by the worker so
// that rate limiting applies.
package active

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/lib"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/payloads"
)

// TestFormXSS probes every non-hidden form input with the XSS corpus,
// looking for the payload reflected in the response. It returns the findings
// and the number of probe requests attempted.
func TestFormXSS(ctx context.Context, fetcher *fetch.Fetcher, page *parse.Page) ([]db.Finding, int) {
	var findings []db.Finding
	endpointsTested := 0

	for _, form := range page.Forms {
		inputs := probeableInputs(form)
		if len(inputs) == 0 {
			continue
		}
		for _, target := range inputs {
			for _, payload := range payloads.GetXSSPayloads() {
				params := buildFormParams(form, target.Name, payload, "test")
				endpointsTested++

				resp, err := fetcher.Fetch(ctx, fetch.Request{
					URL:    form.Action,
					Method: form.Method,
					Params: params,
				})
				if err != nil {
					log.Debug().Err(err).Str("action", form.Action).Str("input", target.Name).Msg("XSS probe request failed")
					continue
				}

				if containsCaseInsensitive(string(resp.Body), payload) {
					finding := db.NewFinding(
						"Reflected XSS",
						db.CategoryXSS,
						db.SeverityHigh,
						fmt.Sprintf("The form input %q reflects injected markup unencoded. Payload: %s", target.Name, payload),
						fmt.Sprintf("%s %s", form.Method, form.Action),
						"Reflected scripts execute in the victim's browser, enabling session theft and account takeover.",
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

// TestURLParamsXSS replaces each query parameter of the page URL with the
// canonical XSS payload and checks for an unencoded echo.
func TestURLParamsXSS(ctx context.Context, fetcher *fetch.Fetcher, page *parse.Page) ([]db.Finding, int) {
	var findings []db.Finding
	endpointsTested := 0

	params, err := lib.GetQueryParams(page.URL)
	if err != nil {
		return nil, 0
	}
	for _, param := range params {
		probeURL, err := lib.BuildURLWithParam(page.URL, param, payloads.CanonicalXSSPayload)
		if err != nil {
			continue
		}
		endpointsTested++

		resp, err := fetcher.Fetch(ctx, fetch.Request{URL: probeURL, Method: "GET"})
		if err != nil {
			log.Debug().Err(err).Str("url", probeURL).Str("param", param).Msg("URL XSS probe request failed")
			continue
		}

		if containsCaseInsensitive(string(resp.Body), payloads.CanonicalXSSPayload) {
			finding := db.NewFinding(
				"Reflected XSS (URL)",
				db.CategoryXSS,
				db.SeverityHigh,
				fmt.Sprintf("The query parameter %q reflects injected markup unencoded.", param),
				"GET "+probeURL,
				"Reflected scripts execute in the victim's browser, enabling session theft and account takeover.",
			)
			finding.Input = param
			findings = append(findings, finding)
		}
	}
	return findings, endpointsTested
}

// probeableInputs returns the form's non-hidden named inputs.
func probeableInputs(form parse.Form) []parse.FormInput {
	var inputs []parse.FormInput
	for _, input := range form.Inputs {
		if input.Type == "hidden" || input.Type == "submit" {
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// buildFormParams fills every named input with the filler value except the
// target, which receives the payload.
func buildFormParams(form parse.Form, targetName, payload, filler string) url.Values {
	params := url.Values{}
	for _, input := range form.Inputs {
		if input.Name == targetName {
			params.Set(input.Name, payload)
		} else {
			params.Set(input.Name, filler)
		}
	}
	return params
}

func containsCaseInsensitive(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
