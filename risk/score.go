package risk

import "strings"

// Signals is one side of the comparison: the binding hashes captured at token
// issuance, or their live counterparts recomputed from the current request.
// A zero hash means the component was not recorded.
type Signals struct {
	Fingerprint [32]byte
	IP          [32]byte
	UserAgent   string
}

const (
	weightFingerprintChanged = 40
	weightIPChanged          = 30
	weightFingerprintAppears = 20
	weightAnomalousUserAgent = 10

	maxScore = 100
)

// Score compares issuance-time signals with live ones. Pure: no I/O, no
// clock, same inputs always give the same score.
func Score(issued, live Signals) int {
	var zero [32]byte
	score := 0

	switch {
	case issued.Fingerprint == zero && live.Fingerprint != zero:
		score += weightFingerprintAppears
	case issued.Fingerprint != zero && live.Fingerprint != zero && issued.Fingerprint != live.Fingerprint:
		score += weightFingerprintChanged
	}

	if issued.IP != zero && live.IP != zero && issued.IP != live.IP {
		score += weightIPChanged
	}

	if AnomalousUserAgent(live.UserAgent) {
		score += weightAnomalousUserAgent
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// Automation markers that have no business in an interactive dashboard
// session. Matched case-insensitively as substrings.
var anomalousMarkers = []string{
	"curl",
	"wget",
	"python",
	"go-http-client",
	"libwww",
	"scrapy",
	"httpclient",
	"headless",
	"phantomjs",
	"selenium",
	"sqlmap",
	"nikto",
	"masscan",
}

// AnomalousUserAgent reports whether a user-agent string looks like tooling
// rather than a browser. An empty user agent is anomalous: every mainstream
// client sends one.
func AnomalousUserAgent(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return true
	}

	lower := strings.ToLower(userAgent)
	for _, marker := range anomalousMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
