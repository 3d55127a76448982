package db

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Severity string

func (s Severity) String() string {
	return string(s)
}

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// NewSeverity parses a severity string, defaulting to Low.
func NewSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

type Category string

const (
	CategorySQLInjection   Category = "SQL Injection"
	CategoryXSS            Category = "XSS"
	CategoryCSRF           Category = "CSRF"
	CategoryAPIIssues      Category = "API Issues"
	CategoryLoadTesting    Category = "Load Testing"
	CategoryInfoDisclosure Category = "Information Disclosure"
)

// Finding is a single reported vulnerability instance, the user-visible unit
// of scan output.
type Finding struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Impact      string   `json:"impact"`
	// Input is the probed input, parameter or sink the finding was confirmed
	// on. Only used to deduplicate findings within a page, never serialized.
	Input string `json:"-"`
}

// NewFinding builds a Finding with a fresh unique id.
func NewFinding(name string, category Category, severity Severity, description, location, impact string) Finding {
	return Finding{
		ID:          uuid.New().String(),
		Name:        name,
		Category:    category,
		Severity:    severity,
		Description: description,
		Location:    location,
		Impact:      impact,
	}
}

// findingKey identifies a finding for deduplication purposes. Keying on the
// input name rather than the description means a retried probe confirming on
// a different payload still counts as the same finding.
func findingKey(f Finding) string {
	return fmt.Sprintf("%s|%s|%s", f.Name, f.Location, f.Input)
}

// DeduplicateFindings removes duplicate findings, keeping first occurrences.
// Applying it twice yields the same set.
func DeduplicateFindings(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	result := make([]Finding, 0, len(findings))
	for _, f := range findings {
		key := findingKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, f)
	}
	return result
}
