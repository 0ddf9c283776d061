package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// Topic names for the pipeline bus.
const (
	// TopicSignals carries classified signals from scrapers (and the
	// gateway's manual submission endpoint) into the ingestor.
	TopicSignals = "signals.classified"

	// TopicAlerts carries operator-facing notifications: new or upgraded
	// opportunities, terminal task outcomes, and quota deferrals.
	TopicAlerts = "alerts.opportunities"
)

// SignalEnvelope is the wire form of a classified signal on TopicSignals.
// Messages are keyed by ProjectID so all signals for one project land on
// the same partition and are consumed in order.
type SignalEnvelope struct {
	Signal     domain.Signal `json:"signal"`
	ReceivedAt time.Time     `json:"received_at"`
}

// AlertKind distinguishes the notification types on TopicAlerts.
type AlertKind string

const (
	AlertOpportunity AlertKind = "opportunity"
	AlertOutcome     AlertKind = "outcome"
	AlertDeferral    AlertKind = "deferral"
)

// AlertEnvelope is the wire form of a notification on TopicAlerts.
type AlertEnvelope struct {
	Kind      AlertKind         `json:"kind"`
	Tier      domain.ReportTier `json:"tier,omitempty"`
	ProjectID string            `json:"project_id"`
	Category  domain.Category   `json:"category,omitempty"`
	TaskKey   string            `json:"task_key,omitempty"`
	State     string            `json:"state,omitempty"`
	Score     float64           `json:"score,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
}

// EncodeSignal marshals a signal envelope for publishing.
func EncodeSignal(env SignalEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode signal envelope: %w", err)
	}
	return b, nil
}

// DecodeSignal unmarshals a signal envelope from a consumed message.
func DecodeSignal(value []byte) (SignalEnvelope, error) {
	var env SignalEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return SignalEnvelope{}, fmt.Errorf("decode signal envelope: %w", err)
	}
	return env, nil
}

// EncodeAlert marshals an alert envelope for publishing.
func EncodeAlert(env AlertEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode alert envelope: %w", err)
	}
	return b, nil
}
