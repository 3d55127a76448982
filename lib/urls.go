package lib

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// CanonicalizeURL normalizes a URL for visited-set comparisons: scheme and
// host are lower-cased, default ports removed and the fragment stripped.
// The query string is preserved verbatim.
func CanonicalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %s", rawURL)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port != "" && !isDefaultPort(parsed.Scheme, port) {
		host = host + ":" + port
	}
	parsed.Host = host
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// ResolveURL resolves a possibly relative reference against a base URL and
// strips the fragment. Returns an error for unparsable references.
func ResolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(refURL)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}

// BuildURLWithParam returns the original URL with a single query parameter
// replaced by the given payload, keeping the remaining parameters in their
// original order.
func BuildURLWithParam(original string, param string, payload string) (string, error) {
	parsedURL, err := url.Parse(original)
	if err != nil {
		return "", err
	}
	values, err := url.ParseQuery(parsedURL.RawQuery)
	if err != nil {
		return "", err
	}
	values.Set(param, payload)
	order, err := GetQueryParams(original)
	if err != nil {
		return "", err
	}
	if !slices.Contains(order, param) {
		order = append(order, param)
	}
	pairs := make([]string, 0, len(order))
	for _, name := range order {
		for _, value := range values[name] {
			pairs = append(pairs, escapeQueryComponent(name)+"="+escapeQueryComponent(value))
		}
	}
	parsedURL.RawQuery = strings.Join(pairs, "&")
	return parsedURL.String(), nil
}

// escapeQueryComponent percent-encodes only what RFC 3986 forbids in a query
// component, so payload characters such as ( ) ' and / stay literal in probe
// URLs. url.Values.Encode is stricter and would obscure the payload.
func escapeQueryComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isQueryByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isQueryByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	// Unreserved marks plus the sub-delimiters that are unambiguous inside
	// a query value. & = + and % keep their separator or escape meaning.
	case '-', '.', '_', '~', '!', '$', '\'', '(', ')', '*', ',', ';', ':', '@', '/', '?':
		return true
	}
	return false
}

// GetQueryParams returns the parameter names of a URL's query string in a
// stable order.
func GetQueryParams(rawURL string) ([]string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(parsedURL.RawQuery)
	if err != nil {
		return nil, err
	}
	params := make([]string, 0, len(values))
	seen := make(map[string]bool)
	// Walk the raw query to preserve parameter order.
	for _, pair := range strings.Split(parsedURL.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			key = pair[:idx]
		}
		decoded, err := url.QueryUnescape(key)
		if err != nil {
			decoded = key
		}
		if _, ok := values[decoded]; ok && !seen[decoded] {
			seen[decoded] = true
			params = append(params, decoded)
		}
	}
	return params, nil
}

// EnsureScheme prefixes scheme-less URLs with https://.
func EnsureScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "https://" + rawURL
}
