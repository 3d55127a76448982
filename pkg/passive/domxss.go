package passive

import (
	"fmt"
	"strings"

	"github.com/securescan/securescan/db"
)

// domSinks are the JavaScript sinks whose presence in inline scripts hints
// at DOM-based XSS.
var domSinks = []string{"innerHTML", "document.write"}

// CheckDOMSinks scans the page's inline scripts for dangerous DOM sinks and
// reports one finding per sink occurrence.
func CheckDOMSinks(pageURL string, inlineScripts []string) []db.Finding {
	var findings []db.Finding
	for _, script := range inlineScripts {
		for _, sink := range domSinks {
			if !strings.Contains(script, sink) {
				continue
			}
			finding := db.NewFinding(
				"Potential DOM XSS",
				db.CategoryXSS,
				db.SeverityHigh,
				fmt.Sprintf("An inline script uses the %s sink, which can execute attacker-controlled markup.", sink),
				pageURL,
				"User-controlled data reaching this sink executes arbitrary JavaScript in the victim's browser.",
			)
			finding.Input = sink
			findings = append(findings, finding)
		}
	}
	return findings
}
