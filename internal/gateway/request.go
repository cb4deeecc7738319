// ABOUTME: Parsing and validation of inbound chat requests.
// ABOUTME: Accepts plain-string messages or part-structured message objects.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// Request validation errors, reported as 400.
var (
	ErrInvalidBody           = errors.New("invalid JSON body")
	ErrInvalidConversationID = errors.New("conversationId must be 1-128 characters of letters, digits, '_' or '-'")
	ErrInvalidMessage        = errors.New("message must be a non-empty string or contain text parts")
	ErrInvalidOffset         = errors.New("invalid stream offset")
)

// maxBodyBytes bounds the size of a chat request body.
const maxBodyBytes = 1 << 20

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	ConversationID string                  `json:"conversationId"`
	MessageID      string                  `json:"messageId,omitempty"`
	Message        json.RawMessage         `json:"message"`
	Context        *executor.ClientContext `json:"context,omitempty"`
}

// messagePart is one part of a structured message. Only text parts carry
// content the gateway understands.
type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type structuredMessage struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Parts   []messagePart `json:"parts"`
}

// chatInput is a validated ChatRequest.
type chatInput struct {
	ConversationID string
	MessageID      string
	Text           string
	Client         executor.ClientContext
}

// validConversationID reports whether id can be used in a stream key.
func validConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// parseChatRequest decodes and validates a chat request body.
func parseChatRequest(r io.Reader) (*chatInput, error) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&req); err != nil {
		return nil, ErrInvalidBody
	}

	if !validConversationID(req.ConversationID) {
		return nil, ErrInvalidConversationID
	}

	text, embeddedID, err := messageText(req.Message)
	if err != nil {
		return nil, err
	}

	in := &chatInput{
		ConversationID: req.ConversationID,
		MessageID:      strings.TrimSpace(req.MessageID),
		Text:           text,
	}
	if in.MessageID == "" {
		in.MessageID = embeddedID
	}
	if req.Context != nil {
		in.Client = *req.Context
	}
	return in, nil
}

// messageText extracts the user text from a string or structured message.
// Text parts are joined with newlines; content is used when there are none.
func messageText(raw json.RawMessage) (text, id string, err error) {
	if len(raw) == 0 {
		return "", "", ErrInvalidMessage
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		if strings.TrimSpace(s) == "" {
			return "", "", ErrInvalidMessage
		}
		return s, "", nil
	}

	var m structuredMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", "", ErrInvalidMessage
	}

	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	text = strings.Join(texts, "\n")
	if text == "" {
		text = m.Content
	}
	if strings.TrimSpace(text) == "" {
		return "", "", ErrInvalidMessage
	}
	return text, strings.TrimSpace(m.ID), nil
}

// resumeOffset returns the first seq to send. An explicit ?after=<seq> wins
// over a Last-Event-ID header; both name the last event the client has seen.
func resumeOffset(after, lastEventID string) (uint64, error) {
	v := after
	if v == "" {
		v = lastEventID
	}
	if v == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil || seq == math.MaxUint64 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, v)
	}
	return seq + 1, nil
}
