package monitor

import (
	"strings"

	"github.com/onnwee/live-recorder/stream"
)

// FailureClass labels why a resolve failed.
type FailureClass int

const (
	// FailureClassTransport covers network errors, timeouts and 5xx answers.
	FailureClassTransport FailureClass = iota
	// FailureClassBlocked covers anti-bot responses: verification pages,
	// 403/444, rate limiting.
	FailureClassBlocked
	// FailureClassUnknown is anything else, typically page schema drift.
	FailureClassUnknown
)

// String returns a human-readable name for the failure class.
func (fc FailureClass) String() string {
	switch fc {
	case FailureClassTransport:
		return "transport"
	case FailureClassBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

var blockedPatterns = []string{
	"403",
	"444",
	"429",
	"too many requests",
	"captcha",
	"verify",
	"verification",
	"验证",
	"forbidden",
}

var transportPatterns = []string{
	"500",
	"502",
	"503",
	"504",
	"connection reset",
	"connection refused",
	"timeout",
	"deadline exceeded",
	"no such host",
	"temporary failure in name resolution",
	"no route to host",
	"network is unreachable",
	"eof",
	"tls",
}

// ClassifyFailure labels a failed resolve for logs and metrics. Blocking
// signals win over transport ones since a challenge page often arrives as an
// HTTP error too. Only the per-strategy reasons after the summary are matched.
func ClassifyFailure(info stream.Info) FailureClass {
	reasons := info.Diagnostic
	if _, after, ok := strings.Cut(reasons, ": "); ok {
		reasons = after
	}
	lower := strings.ToLower(reasons)
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) {
			return FailureClassBlocked
		}
	}
	if info.Failure == stream.FailureTransport {
		return FailureClassTransport
	}
	for _, p := range transportPatterns {
		if strings.Contains(lower, p) {
			return FailureClassTransport
		}
	}
	return FailureClassUnknown
}
