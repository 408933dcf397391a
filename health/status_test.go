package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstructors(t *testing.T) {
	s := HealthyStatus("queue")
	assert.True(t, s.IsHealthy())
	assert.True(t, s.Healthy)

	u := UnhealthyStatus("bus", "connection refused")
	assert.False(t, u.Healthy)
	assert.Equal(t, "unhealthy", u.Status)

	d := DegradedStatus("bus", "reconnecting")
	assert.True(t, d.Healthy)
	assert.True(t, d.IsDegraded())
}

func TestAggregate(t *testing.T) {
	agg := Aggregate("entitystream", HealthyStatus("queue"), HealthyStatus("hub"))
	assert.Equal(t, "healthy", agg.Status)
	assert.Len(t, agg.SubStatuses, 2)

	agg = Aggregate("entitystream", HealthyStatus("queue"), DegradedStatus("bus", "reconnecting"))
	assert.Equal(t, "degraded", agg.Status)
	assert.True(t, agg.Healthy)

	agg = Aggregate("entitystream",
		DegradedStatus("bus", "reconnecting"), UnhealthyStatus("queue", "closed"))
	assert.Equal(t, "unhealthy", agg.Status)
	assert.False(t, agg.Healthy)
}

func TestSanitizeMessage(t *testing.T) {
	cases := map[string]struct {
		in       string
		contains string
		excludes string
	}{
		"url": {
			in:       "dial nats://10.0.0.5:4222 failed",
			contains: "[URL]",
			excludes: "10.0.0.5",
		},
		"path": {
			in:       "read /etc/entitystream/config.yaml failed",
			contains: "[PATH]",
			excludes: "/etc/entitystream",
		},
		"port": {
			in:       "listen on :8080 failed",
			contains: "[PORT]",
			excludes: "8080",
		},
		"credential": {
			in:       "auth failed: password=hunter2",
			contains: "[REDACTED]",
			excludes: "hunter2",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := SanitizeMessage(tc.in)
			assert.Contains(t, out, tc.contains)
			assert.NotContains(t, out, tc.excludes)
		})
	}
}
