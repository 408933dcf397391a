package correlate

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/entitystream/event"
)

// Detection thresholds. The trailing window for all rate-based checks is
// one hour; window queries are linear scans over the bounded history.
const (
	trailingWindow = time.Hour

	workflowMinEvents = 3
	workflowMinTypes  = 3

	errorBurstMin = 3

	slowOperationThresholdMs = 5000
	timingThresholdMs        = 10000
	volumeThreshold          = 1000

	frequencyRatePerSec = 10.0
	frequencyMinEvents  = 10

	errorRateThreshold = 0.10
)

// Detector evaluates one incoming event against the entity's history
// snapshot and returns at most one finding. Detectors are stateless; the
// set is closed and registered in order at tracker construction.
type Detector interface {
	Name() string
	Evaluate(e *event.Event, view EntityView) (Finding, bool)
}

// DefaultDetectors returns the standard ordered detector set: pattern
// detectors first, then anomaly detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		workflowDetector{},
		errorBurstDetector{},
		slowOperationDetector{},
		frequencyAnomalyDetector{},
		timingAnomalyDetector{},
		volumeAnomalyDetector{},
		errorRateAnomalyDetector{},
	}
}

// workflowDetector flags entities whose history spans several distinct
// lifecycle stages.
type workflowDetector struct{}

func (workflowDetector) Name() string { return "workflow" }

func (workflowDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	if len(view.Events) < workflowMinEvents {
		return Finding{}, false
	}
	types := view.DistinctTypes()
	if len(types) < workflowMinTypes {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindPattern,
		Type:       "workflow",
		Confidence: 0.8,
		Description: fmt.Sprintf("entity %s progressed through %d stages: %s",
			view.Key, len(types), strings.Join(types, " -> ")),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// errorBurstDetector flags repeated error events in the trailing hour.
type errorBurstDetector struct{}

func (errorBurstDetector) Name() string { return "error_burst" }

func (errorBurstDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	recent := view.Since(view.Now.Add(-trailingWindow))
	errorCount := 0
	for _, ev := range recent {
		if ev.IsError() {
			errorCount++
		}
	}
	if errorCount < errorBurstMin {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindPattern,
		Type:       "error_burst",
		Confidence: 0.9,
		Description: fmt.Sprintf("entity %s produced %d error events in the last hour",
			view.Key, errorCount),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// slowOperationDetector flags individual events carrying a long duration.
type slowOperationDetector struct{}

func (slowOperationDetector) Name() string { return "slow_operation" }

func (slowOperationDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	d, ok := e.Duration()
	if !ok || d <= slowOperationThresholdMs {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindPattern,
		Type:       "slow_operation",
		Confidence: 0.7,
		Description: fmt.Sprintf("operation on %s took %.0fms (threshold %dms)",
			view.Key, d, slowOperationThresholdMs),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// frequencyAnomalyDetector flags entities emitting events faster than
// frequencyRatePerSec over the observed trailing-hour span. The rate is
// computed over the span actually covered by the recent events (floored at
// one second) rather than the full hour, so short dense bursts register.
type frequencyAnomalyDetector struct{}

func (frequencyAnomalyDetector) Name() string { return "frequency" }

func (frequencyAnomalyDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	recent := view.Since(view.Now.Add(-trailingWindow))
	if len(recent) < frequencyMinEvents {
		return Finding{}, false
	}
	span := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp)
	if span < time.Second {
		span = time.Second
	}
	rate := float64(len(recent)) / span.Seconds()
	if rate <= frequencyRatePerSec {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindAnomaly,
		Type:       "frequency",
		Severity:   SeverityHigh,
		Confidence: 0.8,
		Description: fmt.Sprintf("entity %s emitting %.1f events/sec (threshold %.0f/sec)",
			view.Key, rate, frequencyRatePerSec),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// timingAnomalyDetector flags a single event whose duration is extreme.
type timingAnomalyDetector struct{}

func (timingAnomalyDetector) Name() string { return "timing" }

func (timingAnomalyDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	d, ok := e.Duration()
	if !ok || d <= timingThresholdMs {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindAnomaly,
		Type:       "timing",
		Severity:   SeverityMedium,
		Confidence: 0.7,
		Description: fmt.Sprintf("operation on %s took %.0fms (threshold %dms)",
			view.Key, d, timingThresholdMs),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// volumeAnomalyDetector flags events carrying an outsized volume field.
type volumeAnomalyDetector struct{}

func (volumeAnomalyDetector) Name() string { return "volume" }

func (volumeAnomalyDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	v, ok := e.Volume()
	if !ok || v <= volumeThreshold {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindAnomaly,
		Type:       "volume",
		Severity:   SeverityMedium,
		Confidence: 0.6,
		Description: fmt.Sprintf("event on %s carries volume %.0f (threshold %d)",
			view.Key, v, volumeThreshold),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}

// errorRateAnomalyDetector flags entities whose trailing-hour error ratio
// exceeds errorRateThreshold. Only evaluated on error events; the
// denominator includes the event under evaluation.
type errorRateAnomalyDetector struct{}

func (errorRateAnomalyDetector) Name() string { return "error_rate" }

func (errorRateAnomalyDetector) Evaluate(e *event.Event, view EntityView) (Finding, bool) {
	if !e.IsError() {
		return Finding{}, false
	}
	recent := view.Since(view.Now.Add(-trailingWindow))
	if len(recent) == 0 {
		return Finding{}, false
	}
	errorCount := 0
	for _, ev := range recent {
		if ev.IsError() {
			errorCount++
		}
	}
	ratio := float64(errorCount) / float64(len(recent))
	if ratio <= errorRateThreshold {
		return Finding{}, false
	}
	return Finding{
		Kind:       KindAnomaly,
		Type:       "error_rate",
		Severity:   SeverityCritical,
		Confidence: 0.9,
		Description: fmt.Sprintf("entity %s error rate %.0f%% over the last hour (%d of %d events)",
			view.Key, ratio*100, errorCount, len(recent)),
		EntityKey: view.Key,
		Timestamp: view.Now,
	}, true
}
