// Package events provides an event system for worker, fault and metrics notifications.
package events

import (
	"time"

	"hwstress/internal/metrics"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStart is emitted when a worker enters RUNNING
	EventWorkerStart EventType = "worker_start"
	// EventWorkerProgress is emitted periodically while a worker runs
	EventWorkerProgress EventType = "worker_progress"
	// EventWorkerComplete is emitted once a worker reached a terminal status
	EventWorkerComplete EventType = "worker_complete"
	// EventFaultInjected is emitted after an injection attempt was recorded
	EventFaultInjected EventType = "fault_injected"
	// EventFaultRecovered is emitted when an active fault is torn down
	EventFaultRecovered EventType = "fault_recovered"
	// EventMetricsSample is emitted for every provider sample
	EventMetricsSample EventType = "metrics_sample"
)

// Event represents a single notification
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Kind       string            `json:"kind,omitempty"`
	Status     string            `json:"status,omitempty"`
	Progress   float64           `json:"progress,omitempty"`
	Operations uint64            `json:"operations,omitempty"`
	FaultID    string            `json:"fault_id,omitempty"`
	FaultType  string            `json:"fault_type,omitempty"`
	Severity   string            `json:"severity,omitempty"`
	Success    bool              `json:"success,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metrics    *metrics.Snapshot `json:"metrics,omitempty"`
}

// NewWorkerStartEvent creates a worker start event
func NewWorkerStartEvent(name, kind string) Event {
	return Event{
		Type:      EventWorkerStart,
		Timestamp: time.Now(),
		Source:    name,
		Data: EventData{
			Kind: kind,
		},
	}
}

// NewWorkerProgressEvent creates a worker progress event
func NewWorkerProgressEvent(name string, progress float64) Event {
	return Event{
		Type:      EventWorkerProgress,
		Timestamp: time.Now(),
		Source:    name,
		Data: EventData{
			Progress: progress,
		},
	}
}

// NewWorkerCompleteEvent creates a worker completion event
func NewWorkerCompleteEvent(name, kind, status string, operations uint64, errMsg string) Event {
	return Event{
		Type:      EventWorkerComplete,
		Timestamp: time.Now(),
		Source:    name,
		Data: EventData{
			Kind:       kind,
			Status:     status,
			Operations: operations,
			Error:      errMsg,
		},
	}
}

// NewFaultInjectedEvent creates a fault injection event
func NewFaultInjectedEvent(id, faultType, target, severity string, success bool, errMsg string) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Source:    target,
		Data: EventData{
			FaultID:   id,
			FaultType: faultType,
			Severity:  severity,
			Success:   success,
			Error:     errMsg,
		},
	}
}

// NewFaultRecoveredEvent creates a fault recovery event
func NewFaultRecoveredEvent(id, faultType, target string) Event {
	return Event{
		Type:      EventFaultRecovered,
		Timestamp: time.Now(),
		Source:    target,
		Data: EventData{
			FaultID:   id,
			FaultType: faultType,
		},
	}
}

// NewMetricsSampleEvent creates a metrics sample event
func NewMetricsSampleEvent(s metrics.Snapshot) Event {
	return Event{
		Type:      EventMetricsSample,
		Timestamp: s.Timestamp,
		Data: EventData{
			Metrics: &s,
		},
	}
}
