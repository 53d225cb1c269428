// Package trace provides turn ID generation and context propagation so that
// every log line produced while processing one inbound message can be
// correlated, from the router down to individual device-status fetches.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// turnKey is the unexported context key used to store the turn ID.
type turnKey struct{}

// NewTurnID generates a unique ID for one inbound-message turn.
func NewTurnID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if random fails (should never happen)
		return fmt.Sprintf("turn_%d", time.Now().UnixNano())
	}
	return "turn_" + hex.EncodeToString(bytes)
}

// WithTurnID returns a child context carrying the given turn ID.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnKey{}, id)
}

// FromContext extracts the turn ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(turnKey{}).(string); ok {
		return v
	}
	return ""
}
