// Package messages reads the inbound message log commands arrive on.
package messages

import (
	"context"
	"errors"
)

// ErrUnavailable is returned while the message log cannot be opened, e.g.
// before the messaging client has created it.
var ErrUnavailable = errors.New("message store unavailable")

// ErrReadOnly is returned by Append on a store opened read-only.
var ErrReadOnly = errors.New("message store is read-only")

// Message is one inbound message. Timestamp is in Unix nanoseconds and
// Identity is the sender handle (phone number or email).
type Message struct {
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Store is the read side of the message log.
type Store interface {
	// Available reports whether the log exists and can be read.
	Available(ctx context.Context) bool
	// ReadRecent returns up to limit inbound messages, newest first, skipping offset.
	ReadRecent(ctx context.Context, limit, offset int) ([]Message, error)
}

// Appender is implemented by stores that accept injected messages.
type Appender interface {
	Append(ctx context.Context, msg Message) error
}
