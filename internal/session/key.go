// ABOUTME: Session keys and their namespaced storage form.
// ABOUTME: A key is the pair of tenant scope and conversation id.

package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey indicates a malformed session key.
var ErrInvalidKey = errors.New("invalid session key")

// Key identifies the stream of one conversation within a tenant scope.
type Key struct {
	Scope          string
	ConversationID string
}

// Storage returns the namespaced key used for buffers and the journal.
func (k Key) Storage(namespace string) string {
	return namespace + ":" + k.Scope + ":" + k.ConversationID
}

func (k Key) String() string {
	return k.Scope + "/" + k.ConversationID
}

// Validate reports whether both parts are set and free of separators.
func (k Key) Validate() error {
	if k.Scope == "" || k.ConversationID == "" {
		return fmt.Errorf("%w: scope and conversation id are required", ErrInvalidKey)
	}
	if strings.Contains(k.Scope, ":") || strings.Contains(k.ConversationID, ":") {
		return fmt.Errorf("%w: must not contain ':'", ErrInvalidKey)
	}
	return nil
}
