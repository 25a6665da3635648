package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrRetriesExhausted wraps the last transient failure once every attempt is spent.
	ErrRetriesExhausted = errors.New("remote: retries exhausted")
	// ErrNotRetryable marks a failure that surfaced on the attempt that produced it.
	ErrNotRetryable = errors.New("remote: not retryable")
)

// Kind tags a remote failure at the point it is classified.
type Kind int

const (
	// KindPermanent failures are returned to the caller unchanged.
	KindPermanent Kind = iota
	// KindTransient failures (timeouts, dropped connections) are retried.
	KindTransient
	// KindRejected is a business refusal carrying a reason code.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	default:
		return "permanent"
	}
}

// Error is a classified failure of a remote operation.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err. Unclassified errors are permanent.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindPermanent
}

// ReasonOf returns the business reason code carried by err, if any.
func ReasonOf(err error) string {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	return ""
}

func classifyTransport(op string, err error) *Error {
	kind := KindPermanent
	if isConnectionIssue(err) {
		kind = KindTransient
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func isConnectionIssue(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func classifyStatus(op string, status int, reason string) *Error {
	e := &Error{Op: op, Status: status, Reason: reason}
	switch {
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		e.Kind = KindTransient
	case status >= 400 && status < 500 && status != http.StatusUnauthorized && status != http.StatusNotFound:
		e.Kind = KindRejected
	default:
		e.Kind = KindPermanent
	}
	return e
}
