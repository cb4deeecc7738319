// ABOUTME: Service runs conversation turns: record the message, route, execute, seal.
// ABOUTME: History is the source of truth; the stream is what clients watch while it happens.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/dedupe"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
	"github.com/mimrai-org/mimrai-sub005/internal/session"
	"github.com/mimrai-org/mimrai-sub005/internal/store"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
	"github.com/mimrai-org/mimrai-sub005/internal/triage"
)

// ErrEmptyMessage is returned for a turn without text.
var ErrEmptyMessage = errors.New("message is empty")

// DefaultHistoryLimit is how many earlier turns are loaded as context.
const DefaultHistoryLimit = 20

const persistTimeout = 5 * time.Second

// Config wires the collaborators of a Service.
type Config struct {
	Sessions *session.Manager
	Router   *triage.Router
	Agents   *agent.Registry
	Executor *executor.Executor
	History  store.HistoryStore
	// Claims deduplicates re-posted message ids. Optional.
	Claims *dedupe.Cache[*session.Session]
	// HistoryLimit bounds the context loaded per turn. Zero selects the default.
	HistoryLimit int
	Logger       *slog.Logger
}

// Service is the conversation layer between the HTTP gateway and the
// routing and execution core.
type Service struct {
	sessions     *session.Manager
	router       *triage.Router
	agents       *agent.Registry
	exec         *executor.Executor
	history      store.HistoryStore
	claims       *dedupe.Cache[*session.Session]
	historyLimit int
	logger       *slog.Logger

	turns sync.WaitGroup
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	return &Service{
		sessions:     cfg.Sessions,
		router:       cfg.Router,
		agents:       cfg.Agents,
		exec:         cfg.Executor,
		history:      cfg.History,
		claims:       cfg.Claims,
		historyLimit: limit,
		logger:       logger.With("component", "conversation"),
	}
}

// TurnRequest is one user message for a conversation.
type TurnRequest struct {
	Key session.Key
	// MessageID is the client's id for the message. Generated when empty.
	MessageID string
	Message   string
	Client    executor.ClientContext
}

// Turn is the stream a request was attached to.
type Turn struct {
	Session   *session.Session
	MessageID string
	// Resumed is true when the request joined an existing stream instead of
	// starting a new turn.
	Resumed bool
}

// Start begins a turn for req and returns immediately; the turn runs in the
// background and writes to the returned session's stream.
//
// Record first, then act: the user message is saved before routing starts,
// so it survives a failed generation. The previous stream of the
// conversation is only replaced once the message is recorded, so a rejected
// request leaves it resumable. A request for a conversation whose turn is
// still running, or a re-posted message id, joins the existing stream
// without recording anything.
func (s *Service) Start(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}

	claim := req.Key.String() + "/" + req.MessageID
	claimed := false
	if s.claims != nil {
		prev, dup := s.claims.Claim(claim, nil)
		switch {
		case !dup:
			claimed = true
		case prev != nil:
			return s.rejoin(req, prev)
		}
		// A duplicate whose first request is still being admitted falls
		// through; Open waits for it and joins the turn it started.
	}

	var history []*store.Turn
	admit := func(ctx context.Context) error {
		h, err := s.history.LoadHistory(ctx, req.Key.Scope, req.Key.ConversationID, s.historyLimit)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		if err := s.history.AppendHistory(ctx, &store.Turn{
			ID:             uuid.New().String(),
			Scope:          req.Key.Scope,
			ConversationID: req.Key.ConversationID,
			MessageID:      req.MessageID,
			Role:           store.RoleUser,
			Content:        req.Message,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("recording message: %w", err)
		}
		history = h
		return nil
	}

	sess, producer, err := s.sessions.OpenAdmitted(ctx, req.Key, admit)
	if err != nil {
		if claimed {
			s.release(claim)
		}
		return nil, fmt.Errorf("opening session: %w", err)
	}
	if claimed {
		s.claims.Set(claim, sess)
	}
	if producer == nil {
		s.logger.Debug("turn already running, joining stream",
			"conversation_id", req.Key.ConversationID,
			"message_id", req.MessageID)
		return &Turn{Session: sess, MessageID: req.MessageID, Resumed: true}, nil
	}

	s.logger.Debug("user message recorded",
		"conversation_id", req.Key.ConversationID,
		"message_id", req.MessageID,
		"history_turns", len(history))

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		s.run(producer, req, history)
	}()

	return &Turn{Session: sess, MessageID: req.MessageID}, nil
}

// rejoin attaches a re-posted message id to the stream its first request
// started. Once a newer turn has replaced that stream the message is
// reported as already recorded.
func (s *Service) rejoin(req TurnRequest, first *session.Session) (*Turn, error) {
	if current, ok := s.sessions.Lookup(req.Key); !ok || current != first {
		return nil, fmt.Errorf("message %s: %w", req.MessageID, store.ErrDuplicateMessage)
	}
	s.logger.Debug("re-posted message joins existing stream",
		"conversation_id", req.Key.ConversationID,
		"message_id", req.MessageID)
	return &Turn{Session: first, MessageID: req.MessageID, Resumed: true}, nil
}

func (s *Service) release(claim string) {
	if s.claims != nil {
		s.claims.Release(claim)
	}
}

// run drives one turn to its terminal event. It never returns without End
// having been written, even if the pipeline panics.
func (s *Service) run(p *session.Producer, req TurnRequest, history []*store.Turn) {
	ctx := p.Context()
	logger := s.logger.With("conversation_id", req.Key.ConversationID, "stream_key", p.Session().StorageKey())
	machine := triage.NewMachine(p)

	var (
		res     executor.Result
		def     agent.Definition
		started = time.Now()
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r)
			s.terminate(p, stream.ErrorGenerationFailure, "internal error")
		}
		if !machine.Idle() {
			_ = machine.Finish()
		}
		s.persistReply(req, def.Kind, res, logger)
		logger.Info("turn finished",
			"agent", def.Kind,
			"rounds", res.Rounds,
			"truncated", res.Truncated,
			"duration", time.Since(started))
	}()

	if err := machine.Begin(); err != nil {
		s.fail(p, err, logger)
		return
	}

	decision := s.router.Route(triage.Input{Message: req.Message, History: userMessages(history)})
	def, err := s.agents.Get(decision.Agent)
	if err != nil {
		s.fail(p, err, logger)
		return
	}
	if err := machine.Dispatch(def.Kind); err != nil {
		s.fail(p, err, logger)
		return
	}

	res, err = s.exec.Run(ctx, p, executor.Request{
		Scope:   req.Key.Scope,
		Agent:   def,
		Message: req.Message,
		History: historyTurns(history),
		Client:  req.Client,
	})
	if err != nil {
		s.fail(p, err, logger)
		return
	}

	if err := machine.Complete(); err != nil {
		s.fail(p, err, logger)
		return
	}
	if res.Truncated {
		s.terminate(p, stream.ErrorTruncated, fmt.Sprintf("stopped after %d rounds without completing", res.Rounds))
		return
	}
	if err := p.Finish(); err != nil && !errors.Is(err, stream.ErrSessionSealed) {
		logger.Warn("failed to finish turn", "error", err)
	}
}

// fail maps a pipeline error to the terminal error event. An abort has
// already written its own terminal events.
func (s *Service) fail(p *session.Producer, err error, logger *slog.Logger) {
	if p.Session().Buffer().Sealed() {
		logger.Debug("turn stopped after stream was sealed", "error", err)
		return
	}
	kind := stream.ErrorGenerationFailure
	if errors.Is(err, context.Canceled) {
		kind = stream.ErrorCancelled
	}
	logger.Warn("turn failed", "error_kind", kind, "error", err)
	s.terminate(p, kind, err.Error())
}

func (s *Service) terminate(p *session.Producer, kind stream.ErrorKind, message string) {
	if err := p.Fail(kind, message); err != nil && !errors.Is(err, stream.ErrSessionSealed) {
		s.logger.Error("failed to terminate turn",
			"stream_key", p.Session().StorageKey(),
			"error", err)
	}
}

// persistReply records the assistant's reply with its own timeout so it is
// saved even when the turn was aborted.
func (s *Service) persistReply(req TurnRequest, kind agent.Kind, res executor.Result, logger *slog.Logger) {
	if res.Text == "" && len(res.Artifacts) == 0 {
		return
	}

	turn := &store.Turn{
		ID:             uuid.New().String(),
		Scope:          req.Key.Scope,
		ConversationID: req.Key.ConversationID,
		Role:           store.RoleAssistant,
		Agent:          string(kind),
		Content:        res.Text,
		CreatedAt:      time.Now().UTC(),
	}
	if len(res.Artifacts) > 0 {
		raw, err := json.Marshal(res.Artifacts)
		if err != nil {
			logger.Error("failed to encode artifacts", "error", err)
		} else {
			turn.Artifacts = raw
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.history.AppendHistory(ctx, turn); err != nil {
		logger.Error("failed to save reply", "error", err, "turn_id", turn.ID)
		return
	}
	logger.Debug("reply saved", "turn_id", turn.ID, "artifacts", len(res.Artifacts))
}

// Abort stops the running turn of key.
func (s *Service) Abort(key session.Key) error {
	return s.sessions.Abort(key, "stopped by user")
}

// History returns the stored turns of a conversation, oldest first.
func (s *Service) History(ctx context.Context, key session.Key, limit int) ([]*store.Turn, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.history.LoadHistory(ctx, key.Scope, key.ConversationID, limit)
}

// Wait blocks until every running turn has finished.
func (s *Service) Wait() {
	s.turns.Wait()
}

func userMessages(history []*store.Turn) []string {
	var out []string
	for _, t := range history {
		if t.Role == store.RoleUser {
			out = append(out, t.Content)
		}
	}
	return out
}

func historyTurns(history []*store.Turn) []executor.HistoryTurn {
	out := make([]executor.HistoryTurn, 0, len(history))
	for _, t := range history {
		out = append(out, executor.HistoryTurn{Role: t.Role, Content: t.Content})
	}
	return out
}
