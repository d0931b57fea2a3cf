package model

import "time"

// AuditEvent is the payload published to Kafka after an audit row is saved.
type AuditEvent struct {
	ID                string             `json:"id"`
	CorrelationID     string             `json:"correlation_id"`
	Operation         Operation          `json:"operation"`
	HashedPhoneNumber string             `json:"hashed_phone_number,omitempty"`
	Status            VerificationStatus `json:"status"`
	ClientIP          string             `json:"client_ip"`
	Timestamp         time.Time          `json:"timestamp"`
	ErrorMessage      string             `json:"error_message,omitempty"`
}

func NewAuditEvent(l VerificationLog) AuditEvent {
	return AuditEvent{
		ID:                l.ID,
		CorrelationID:     l.CorrelationID,
		Operation:         l.Operation,
		HashedPhoneNumber: l.HashedPhoneNumber,
		Status:            l.Status,
		ClientIP:          l.ClientIP,
		Timestamp:         l.Timestamp,
		ErrorMessage:      l.ErrorMessage.String,
	}
}

// Log converts the event back into an audit row (used by the analytics sink).
func (e AuditEvent) Log() VerificationLog {
	l := VerificationLog{
		ID:                e.ID,
		CorrelationID:     e.CorrelationID,
		Operation:         e.Operation,
		HashedPhoneNumber: e.HashedPhoneNumber,
		Status:            e.Status,
		ClientIP:          e.ClientIP,
		Timestamp:         e.Timestamp,
	}
	if e.ErrorMessage != "" {
		l.ErrorMessage.String = e.ErrorMessage
		l.ErrorMessage.Valid = true
	}
	return l
}
