package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FaultKind classifies a provider failure.
type FaultKind string

const (
	FaultTimeout     FaultKind = "timeout"
	FaultAuth        FaultKind = "auth"
	FaultMalformed   FaultKind = "malformed"
	FaultUnavailable FaultKind = "unavailable"
)

// Fault is a structured provider failure. Faults are isolated, recorded on
// the run, and never abort the rest of the fan-out.
type Fault struct {
	Provider string
	Kind     FaultKind
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a Fault with an explicit kind.
func NewFault(providerName string, kind FaultKind, err error) *Fault {
	return &Fault{Provider: providerName, Kind: kind, Err: err}
}

// Classify wraps an adapter error as a Fault, inferring the kind from the
// error chain when the adapter did not classify it itself.
func Classify(providerName string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	kind := FaultUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FaultTimeout
	case isNetTimeout(err):
		kind = FaultTimeout
	case isAuthError(err):
		kind = FaultAuth
	}
	return &Fault{Provider: providerName, Kind: kind, Err: err}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
