// Package health provides health status reporting for the streaming
// subsystems and the aggregate surface served by the gateway.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Pre-compiled regexes for error message sanitization.
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex      = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a subsystem or of the whole
// process.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// HealthyStatus builds a healthy status for a component.
func HealthyStatus(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Timestamp: time.Now(),
	}
}

// UnhealthyStatus builds an unhealthy status; the message is sanitized before it
// can reach external clients.
func UnhealthyStatus(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   SanitizeMessage(message),
		Timestamp: time.Now(),
	}
}

// DegradedStatus builds a degraded status: the component works but something is
// off (e.g. the bus is reconnecting).
func DegradedStatus(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "degraded",
		Message:   SanitizeMessage(message),
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// WithSubStatus adds a sub-status and returns a copy.
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// Aggregate rolls sub-statuses up into one status for the named component:
// any unhealthy sub-status makes the aggregate unhealthy, any degraded one
// makes it degraded.
func Aggregate(component string, subs ...Status) Status {
	agg := HealthyStatus(component)
	for _, sub := range subs {
		agg = agg.WithSubStatus(sub)
		switch {
		case !sub.Healthy:
			agg.Healthy = false
			agg.Status = "unhealthy"
		case sub.IsDegraded() && agg.Status == "healthy":
			agg.Status = "degraded"
		}
	}
	return agg
}

// SanitizeMessage removes potentially sensitive information from a status
// message: URLs, file paths, IP addresses, ports, and credential-looking
// fragments.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := msg
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}
