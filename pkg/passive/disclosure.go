package passive

import (
	"fmt"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/payloads"
)

// CheckDisclosure inspects the initial page response for information leaks:
// an exposed Server header and database error text in the body.
func CheckDisclosure(pageURL string, resp *fetch.Response) []db.Finding {
	var findings []db.Finding

	if server := resp.Headers.Get("Server"); server != "" {
		findings = append(findings, db.NewFinding(
			"Server Header Disclosure",
			db.CategoryInfoDisclosure,
			db.SeverityLow,
			fmt.Sprintf("The Server header reveals the software in use: %s", server),
			"HTTP Headers",
			"Version information helps attackers select known exploits for the server software.",
		))
	}

	if fingerprint := payloads.MatchSQLError(string(resp.Body)); fingerprint != "" {
		findings = append(findings, db.NewFinding(
			"Database Error Disclosure",
			db.CategoryInfoDisclosure,
			db.SeverityMedium,
			fmt.Sprintf("The page body contains database error output matching %q.", fingerprint),
			pageURL,
			"Database errors leak schema and query details that aid injection attacks.",
		))
	}

	return findings
}
