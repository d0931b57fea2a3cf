package model

import (
	"database/sql"
	"time"
)

type VerificationStatus string

const (
	StatusMatch    VerificationStatus = "MATCH"
	StatusMismatch VerificationStatus = "MISMATCH"
)

func (s VerificationStatus) String() string {
	return string(s)
}

func (s VerificationStatus) Valid() bool {
	return s == StatusMatch || s == StatusMismatch
}

// StatusOf maps a provider match answer to a status.
func StatusOf(match bool) VerificationStatus {
	if match {
		return StatusMatch
	}
	return StatusMismatch
}

type Operation string

const (
	OperationVerify   Operation = "verify"
	OperationRetrieve Operation = "retrieve"
)

func (o Operation) String() string { return string(o) }

// VerificationLog is the audit row persisted in verification_logs.
// It only ever carries the digest of a phone number.
type VerificationLog struct {
	ID                string             `db:"id"`
	CorrelationID     string             `db:"correlation_id"`
	Operation         Operation          `db:"operation"`
	HashedPhoneNumber string             `db:"hashed_phone_number"` // empty when the provider returned no number
	Status            VerificationStatus `db:"status"`
	ClientIP          string             `db:"client_ip"`
	Timestamp         time.Time          `db:"timestamp"`
	ErrorMessage      sql.NullString     `db:"error_message"`
}

// VerificationResult is returned to callers of the verify endpoint.
type VerificationResult struct {
	VerificationID   string             `json:"verificationId"`
	Status           VerificationStatus `json:"status"`
	VerificationTime time.Time          `json:"verificationTime"`
}

// PhoneNumberResult is returned to callers of the device-phone-number endpoint.
type PhoneNumberResult struct {
	PhoneNumber   string    `json:"phoneNumber"`
	RetrievalTime time.Time `json:"retrievalTime"`
}

// StatusCount is one row of the per-status analytics report.
type StatusCount struct {
	Operation Operation          `db:"operation" json:"operation"`
	Status    VerificationStatus `db:"status" json:"status"`
	Total     uint64             `db:"total" json:"total"`
	Failed    uint64             `db:"failed" json:"failed"`
}
