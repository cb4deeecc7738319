// ABOUTME: Deterministic keyword triage that picks one agent per turn.
// ABOUTME: Falls back to a configured agent when confidence is below threshold.

package triage

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/metrics"
)

const (
	defaultThreshold    = 0.5
	defaultHistoryTurns = 3
	historyWeight       = 0.5
)

// Config controls routing policy.
type Config struct {
	// ConfidenceThreshold is the minimum winning share of the total score.
	ConfidenceThreshold float64
	// Fallback is chosen when nothing matches or confidence is too low.
	Fallback agent.Kind
	// HistoryTurns is how many recent user turns are considered.
	HistoryTurns int
}

// Input is what the router classifies.
type Input struct {
	Message string
	// History holds earlier user messages, oldest first.
	History []string
}

// Decision is the outcome of routing one turn.
type Decision struct {
	Agent      agent.Kind
	Confidence float64
	Fallback   bool
	Scores     map[agent.Kind]float64
}

// Router classifies turns against the registered agents.
type Router struct {
	cfg      Config
	registry *agent.Registry
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewRouter creates a router. The fallback agent must be registered.
func NewRouter(cfg Config, registry *agent.Registry, recorder metrics.Recorder, logger *slog.Logger) (*Router, error) {
	if cfg.Fallback == "" {
		cfg.Fallback = agent.KindTasks
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultThreshold
	}
	if cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold %.2f exceeds 1", cfg.ConfidenceThreshold)
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	} else if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if _, err := registry.Get(cfg.Fallback); err != nil {
		return nil, fmt.Errorf("fallback agent: %w", err)
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		logger:   logger.With("component", "triage"),
	}, nil
}

// Route selects exactly one agent for the input. It never fails.
func (r *Router) Route(in Input) Decision {
	defs := r.registry.List()
	scores := make(map[agent.Kind]float64, len(defs))

	message := normalize(in.Message)
	history := in.History
	if len(history) > r.cfg.HistoryTurns {
		history = history[len(history)-r.cfg.HistoryTurns:]
	}
	normalizedHistory := make([]string, len(history))
	for i, h := range history {
		normalizedHistory[i] = normalize(h)
	}

	var total float64
	var best agent.Kind
	var bestScore float64
	for _, def := range defs {
		score := float64(countMatches(message, def.Keywords))
		for _, h := range normalizedHistory {
			score += historyWeight * float64(countMatches(h, def.Keywords))
		}
		scores[def.Kind] = score
		total += score
		// Strictly greater keeps the earlier agent on ties.
		if score > bestScore {
			best, bestScore = def.Kind, score
		}
	}

	d := Decision{Agent: best, Scores: scores}
	if total > 0 {
		d.Confidence = bestScore / total
	}
	if bestScore == 0 || d.Confidence < r.cfg.ConfidenceThreshold {
		d.Agent = r.cfg.Fallback
		d.Fallback = true
	}

	r.recorder.RoutingDecision(string(d.Agent), d.Fallback)
	r.logger.Debug("routed turn",
		"agent", d.Agent,
		"confidence", d.Confidence,
		"fallback", d.Fallback)
	return d
}

// normalize lowercases text and collapses every run of non-alphanumerics to
// one space, padded so keywords can be matched on word boundaries.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

// countMatches counts the distinct keywords that occur as whole words.
func countMatches(normalized string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(normalized, normalize(kw)) {
			n++
		}
	}
	return n
}
