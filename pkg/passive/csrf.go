// Package passive holds the detectors that inspect a page without issuing
// any additional HTTP requests.
package passive

import (
	"fmt"
	"strings"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/parse"
)

// CheckCSRF flags POST forms that carry a sensitive input but no hidden
// csrf/token field.
func CheckCSRF(page *parse.Page) []db.Finding {
	var findings []db.Finding
	for _, form := range page.Forms {
		if form.Method != "POST" {
			continue
		}
		if !hasSensitiveInput(form) || hasCSRFToken(form) {
			continue
		}
		findings = append(findings, db.NewFinding(
			"Cross-Site Request Forgery (CSRF)",
			db.CategoryCSRF,
			db.SeverityMedium,
			fmt.Sprintf("The form submitting to %s handles sensitive data but carries no CSRF token.", form.Action),
			"POST "+form.Action,
			"An attacker can forge state-changing requests on behalf of an authenticated victim.",
		))
	}
	return findings
}

// hasSensitiveInput reports whether the form contains a password input or an
// input whose name suggests credentials.
func hasSensitiveInput(form parse.Form) bool {
	for _, input := range form.Inputs {
		if input.Type == "password" {
			return true
		}
		name := strings.ToLower(input.Name)
		if strings.Contains(name, "password") || strings.Contains(name, "email") {
			return true
		}
	}
	return false
}

func hasCSRFToken(form parse.Form) bool {
	for _, input := range form.Inputs {
		if input.Type != "hidden" {
			continue
		}
		name := strings.ToLower(input.Name)
		if strings.Contains(name, "csrf") || strings.Contains(name, "token") {
			return true
		}
	}
	return false
}
