package types

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 是引擎对外发布的事件类型。
type EventKind string

const (
	EventEngineStarted     EventKind = "engine_started"
	EventEngineStopped     EventKind = "engine_stopped"
	EventPositionOpened    EventKind = "position_opened"
	EventPositionClosed    EventKind = "position_closed"
	EventPartialClosed     EventKind = "partial_closed"
	EventStopMoved         EventKind = "stop_moved"
	EventOrderRejected     EventKind = "order_rejected"
	EventOrderFailed       EventKind = "order_failed"
	EventRiskHalt          EventKind = "risk_halt"
	EventNewsBlackout      EventKind = "news_blackout"
	EventSignalFailed      EventKind = "signal_failed"
	EventBrokerUnavailable EventKind = "broker_unavailable"
	EventConfigApplied     EventKind = "config_applied"
	EventConfigRejected    EventKind = "config_rejected"
	EventCommandCompleted  EventKind = "command_completed"
	EventReconciled        EventKind = "reconciled"
)

// Severity 是事件严重级别。
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event 是一条结构化引擎事件。
type Event struct {
	ID            string         `json:"id"`
	Kind          EventKind      `json:"kind"`
	Severity      Severity       `json:"severity"`
	Time          time.Time      `json:"time"`
	Symbol        string         `json:"symbol,omitempty"`
	Ticket        string         `json:"ticket,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Message       string         `json:"message"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// NewEvent 构造事件并分配 ID。
func NewEvent(kind EventKind, severity Severity, msg string) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severity,
		Time:     time.Now(),
		Message:  msg,
	}
}

func (e Event) WithSymbol(symbol string) Event {
	e.Symbol = symbol
	return e
}

func (e Event) WithTicket(ticket string) Event {
	e.Ticket = ticket
	return e
}

func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// WithField 返回附加字段后的副本。
func (e Event) WithField(key string, val any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = val
	e.Fields = fields
	return e
}
