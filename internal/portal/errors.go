package portal

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrTransport      = errors.New("portal: transport failure")
	ErrNotFound       = errors.New("portal: not found")
	ErrUnauthorized   = errors.New("portal: unauthorized")
	ErrUpstream       = errors.New("portal: upstream error status")
	ErrDecode         = errors.New("portal: undecodable response")
	ErrAuth           = errors.New("portal: handshake failed")
	ErrCatalogFetch   = errors.New("portal: catalog fetch failed")
	ErrStreamCreation = errors.New("portal: stream creation failed")
	ErrNotPlayable    = errors.New("portal: item not playable")
)

// Error wraps a sentinel with the portal action and HTTP status that produced it.
type Error struct {
	Sentinel error
	Op       string // "type/action"
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Sentinel, e.Op)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// NewError builds an *Error for op. err may be nil.
func NewError(sentinel error, op string, err error) *Error {
	return &Error{Sentinel: sentinel, Op: op, Err: err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return ErrUpstream
}
