package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/entitystream/event"
)

func TestInsightsCriticalAnomaly(t *testing.T) {
	e := entityEvent("e1", "c-1", event.TypeError, baseTime, nil)
	findings := []Finding{{
		Kind:        KindAnomaly,
		Type:        "error_rate",
		Severity:    SeverityCritical,
		Description: "entity customer-c-1 error rate 18% over the last hour (2 of 11 events)",
	}}

	out := Insights(e, findings)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "Critical anomaly:")
	assert.Contains(t, out[0], "immediate action required")
}

func TestInsightsLowerSeverityAnomaly(t *testing.T) {
	e := entityEvent("e1", "c-1", event.TypeUpdated, baseTime, nil)
	findings := []Finding{{
		Kind:        KindAnomaly,
		Type:        "timing",
		Severity:    SeverityMedium,
		Description: "operation on customer-c-1 took 12000ms",
	}}

	out := Insights(e, findings)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "Anomaly detected:")
	assert.Contains(t, out[0], "investigation recommended")
}

func TestInsightsWorkflowPattern(t *testing.T) {
	e := entityEvent("e1", "c-1", event.TypeError, baseTime, nil)
	findings := []Finding{{
		Kind:        KindPattern,
		Type:        "complex_workflow",
		Confidence:  0.8,
		Description: "entity customer-c-1 shows a complex workflow: created -> updated -> error",
	}}

	out := Insights(e, findings)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "Workflow efficiency opportunity")
	assert.Contains(t, out[0], "consider consolidating steps")
}

func TestInsightsEntityTypeAdvisories(t *testing.T) {
	route := &event.Event{
		ID:         "e1",
		EntityType: event.EntityRoute,
		EventType:  event.TypeUpdated,
		Timestamp:  baseTime,
		Data:       map[string]any{"entityId": "r-7"},
	}
	out := Insights(route, nil)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "Route optimization suggestion")
	assert.Contains(t, out[0], "r-7")

	facility := &event.Event{
		ID:         "e2",
		EntityType: event.EntityFacility,
		EventType:  event.TypeUpdated,
		Timestamp:  baseTime,
		Data:       map[string]any{"entityId": "f-3"},
	}
	out = Insights(facility, nil)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "Facility advisory")
}

func TestInsightsNoFindingsNoAdvisoryEntity(t *testing.T) {
	e := entityEvent("e1", "c-1", event.TypeUpdated, baseTime, nil)
	assert.Empty(t, Insights(e, nil))
}

func TestInsightsCombined(t *testing.T) {
	e := &event.Event{
		ID:         "e1",
		EntityType: event.EntityRoute,
		EventType:  event.TypeError,
		Timestamp:  time.Now(),
		Data:       map[string]any{"entityId": "r-1"},
	}
	findings := []Finding{
		{Kind: KindPattern, Type: "error_burst", Description: "burst"},
		{Kind: KindAnomaly, Type: "frequency", Severity: SeverityHigh, Description: "hot"},
	}

	out := Insights(e, findings)
	assert.Len(t, out, 3)
	assert.Contains(t, out[0], "Reliability concern")
	assert.Contains(t, out[1], "Critical anomaly")
	assert.Contains(t, out[2], "Route optimization suggestion")
}
