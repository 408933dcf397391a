package correlate

import (
	"fmt"

	"github.com/c360/entitystream/event"
)

// Insights maps the findings for one event to human-readable advisory
// strings. The mapping is a pure function of its inputs: no tracker state
// is consulted and no state is retained.
func Insights(e *event.Event, findings []Finding) []string {
	var out []string

	for _, f := range findings {
		switch f.Kind {
		case KindAnomaly:
			switch f.Severity {
			case SeverityCritical, SeverityHigh:
				out = append(out, fmt.Sprintf(
					"Critical anomaly: %s - immediate action required", f.Description))
			default:
				out = append(out, fmt.Sprintf(
					"Anomaly detected: %s - investigation recommended", f.Description))
			}

		case KindPattern:
			switch f.Type {
			case "complex_workflow", "workflow":
				out = append(out, fmt.Sprintf(
					"Workflow efficiency opportunity: %s - consider consolidating steps", f.Description))
			case "error_burst":
				out = append(out, fmt.Sprintf(
					"Reliability concern: %s - review recent changes", f.Description))
			case "slow_operation":
				out = append(out, fmt.Sprintf(
					"Performance degradation: %s - profile the slow path", f.Description))
			default:
				out = append(out, fmt.Sprintf("Pattern observed: %s", f.Description))
			}

		case KindCorrelation:
			out = append(out, fmt.Sprintf("Correlation observed: %s", f.Description))
		}
	}

	// Entity-type advisories are static and independent of findings.
	if e != nil {
		switch e.EntityType {
		case event.EntityRoute:
			out = append(out, fmt.Sprintf(
				"Route optimization suggestion: evaluate scheduling and stops for %s", e.EntityID()))
		case event.EntityFacility:
			out = append(out, fmt.Sprintf(
				"Facility advisory: review capacity utilization for %s", e.EntityID()))
		}
	}

	return out
}
