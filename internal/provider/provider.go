// Package provider is the telecom-operator capability: check whether a number
// belongs to the calling device, and look the device's number up.
package provider

import (
	"context"
	"errors"
)

var ErrBreakerOpen = errors.New("provider circuit open")

// Provider implementations should return once ctx is done. The orchestrator
// stops waiting at its deadline either way, so a call that ignores ctx only
// leaks its own goroutine.
type Provider interface {
	Name() string
	VerifyMatch(ctx context.Context, phoneNumber string) (bool, error)
	DeviceNumber(ctx context.Context) (string, error)
}
