// Package verification sequences the provider call, status mapping and audit
// trail for number verification and device-number retrieval.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/number-verification/internal/audit"
	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmehdipour/number-verification/internal/provider"
	"github.com/jmehdipour/number-verification/internal/request"
	"github.com/jmehdipour/number-verification/internal/util"
)

var (
	ErrProviderUnavailable = errors.New("telecom provider unavailable")
	ErrNoDeviceNumber      = errors.New("provider returned no device number")
)

type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type Service struct {
	provider provider.Provider
	audit    Auditor
	timeout  time.Duration

	now   func() time.Time
	newID func() string
}

// New builds the orchestrator; every provider call is bounded by timeout.
func New(p provider.Provider, a Auditor, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		provider: p,
		audit:    a,
		timeout:  timeout,
		now:      time.Now,
		newID:    util.New,
	}
}

// Verify asks the provider whether phoneNumber belongs to the calling device.
// A provider failure or timeout is returned as ErrProviderUnavailable and is
// audited as MISMATCH with the error message set; it is never reported to
// the caller as a match result.
func (s *Service) Verify(ctx context.Context, phoneNumber, correlationID string) (model.VerificationResult, error) {
	verificationID := s.newID()
	clientIP := request.ClientIP(ctx)

	match, err := withTimeout(ctx, s.timeout, func(pctx context.Context) (bool, error) {
		return s.provider.VerifyMatch(pctx, phoneNumber)
	})

	now := s.now().UTC()
	entry := audit.Entry{
		ID:            verificationID,
		CorrelationID: correlationID,
		Operation:     model.OperationVerify,
		PhoneNumber:   phoneNumber,
		ClientIP:      clientIP,
		Timestamp:     now,
	}

	if err != nil {
		entry.Status = model.StatusMismatch
		entry.ErrorMessage = err.Error()
		s.audit.Record(ctx, entry)
		metrics.VerificationsTotal.WithLabelValues(model.OperationVerify.String(), "error").Inc()
		return model.VerificationResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	entry.Status = model.StatusOf(match)
	s.audit.Record(ctx, entry)
	metrics.VerificationsTotal.WithLabelValues(model.OperationVerify.String(), entry.Status.String()).Inc()

	return model.VerificationResult{
		VerificationID:   verificationID,
		Status:           entry.Status,
		VerificationTime: now,
	}, nil
}

// Retrieve returns the number the provider associates with the calling
// device. An empty answer is ErrNoDeviceNumber, not an empty success.
func (s *Service) Retrieve(ctx context.Context, correlationID string) (model.PhoneNumberResult, error) {
	clientIP := request.ClientIP(ctx)

	number, err := withTimeout(ctx, s.timeout, s.provider.DeviceNumber)

	now := s.now().UTC()
	entry := audit.Entry{
		CorrelationID: correlationID,
		Operation:     model.OperationRetrieve,
		ClientIP:      clientIP,
		Timestamp:     now,
	}

	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	case number == "":
		err = ErrNoDeviceNumber
	}
	if err != nil {
		entry.Status = model.StatusMismatch
		entry.ErrorMessage = err.Error()
		s.audit.Record(ctx, entry)
		metrics.VerificationsTotal.WithLabelValues(model.OperationRetrieve.String(), "error").Inc()
		return model.PhoneNumberResult{}, err
	}

	// retrieval has no mismatch outcome
	entry.Status = model.StatusMatch
	entry.PhoneNumber = number
	s.audit.Record(ctx, entry)
	metrics.VerificationsTotal.WithLabelValues(model.OperationRetrieve.String(), entry.Status.String()).Inc()

	return model.PhoneNumberResult{PhoneNumber: number, RetrievalTime: now}, nil
}

// withTimeout stops waiting for call at the deadline even if call ignores its
// context; the call's late result is dropped.
func withTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(pctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-pctx.Done():
		var zero T
		return zero, pctx.Err()
	}
}
