// ABOUTME: Bounded-round agent executor writing text, artifacts, and errors to a stream.
// ABOUTME: Validates tool artifacts through the codec and traces rounds and tool calls.

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/metrics"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

const scopeName = "github.com/mimrai-org/mimrai-sub005/internal/executor"

var tracer = otel.Tracer(scopeName)

// ErrGenerationFailure wraps unrecoverable errors from the generator.
var ErrGenerationFailure = errors.New("generation failed")

// DefaultMaxRounds bounds a run when no limit is configured.
const DefaultMaxRounds = 6

// Config holds executor settings.
type Config struct {
	MaxRounds int
}

// Executor runs agents against a generator and a tool invoker.
type Executor struct {
	maxRounds int
	generator Generator
	tools     ToolInvoker
	codec     *artifact.Codec
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// New creates an executor.
func New(cfg Config, generator Generator, tools ToolInvoker, codec *artifact.Codec, recorder metrics.Recorder, logger *slog.Logger) *Executor {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		maxRounds: cfg.MaxRounds,
		generator: generator,
		tools:     tools,
		codec:     codec,
		recorder:  recorder,
		logger:    logger.With("component", "executor"),
	}
}

// MaxRounds returns the configured round limit.
func (e *Executor) MaxRounds() int {
	return e.maxRounds
}

// run holds the per-turn state of one Run call.
type run struct {
	*Executor
	emit     Emitter
	req      Request
	text     strings.Builder
	versions map[string]int
	states   []ArtifactState
	index    map[string]int
}

// Run drives req.Agent until it signals completion or the round limit is
// reached. Events are appended through emit. Run does not append End.
func (e *Executor) Run(ctx context.Context, emit Emitter, req Request) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("agent", string(req.Agent.Kind)),
		attribute.Int("max_rounds", e.maxRounds),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("rounds", res.Rounds),
			attribute.Bool("truncated", res.Truncated),
		)
		span.End()
		e.recorder.ObserveRounds(res.Rounds)
	}()

	r := &run{
		Executor: e,
		emit:     emit,
		req:      req,
		versions: make(map[string]int),
		index:    make(map[string]int),
	}

	prompt := PromptContext{
		Agent:   req.Agent,
		History: req.History,
		Message: req.Message,
		Client:  req.Client,
		Tools:   e.tools.Specs(req.Agent.Tools),
	}

	for round := 1; round <= e.maxRounds; round++ {
		res.Rounds = round

		exchange, final, err := r.round(ctx, round, prompt)
		if err != nil {
			return r.result(res), err
		}
		if final {
			return r.result(res), nil
		}
		prompt.Rounds = append(prompt.Rounds, exchange)
	}

	res.Truncated = true
	e.logger.Warn("round limit reached",
		"agent", req.Agent.Kind,
		"max_rounds", e.maxRounds)
	return r.result(res), nil
}

func (r *run) result(res Result) Result {
	res.Text = r.text.String()
	res.Artifacts = r.states
	return res
}

// round runs one generation round. It reports whether the agent is done.
func (r *run) round(ctx context.Context, n int, prompt PromptContext) (ex Exchange, final bool, err error) {
	ctx, span := tracer.Start(ctx, "executor.round", trace.WithAttributes(attribute.Int("round", n)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var text strings.Builder
	for step, genErr := range r.generator.Generate(ctx, prompt) {
		if genErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ex, false, ctxErr
			}
			return ex, false, fmt.Errorf("%w: %w", ErrGenerationFailure, genErr)
		}

		switch step.Kind {
		case StepDelta:
			if step.Text == "" {
				continue
			}
			if _, err := r.emit.Append(stream.TextDelta{Text: step.Text}); err != nil {
				return ex, false, err
			}
			text.WriteString(step.Text)
			r.text.WriteString(step.Text)

		case StepToolCall:
			if step.Call == nil {
				return ex, false, fmt.Errorf("%w: tool call step without call", ErrGenerationFailure)
			}
			call := *step.Call
			if call.ID == "" {
				call.ID = uuid.New().String()
			}
			outcome, err := r.invoke(ctx, call)
			if err != nil {
				return ex, false, err
			}
			ex.Calls = append(ex.Calls, call)
			ex.Outcomes = append(ex.Outcomes, outcome)

		case StepFinal:
			final = true

		default:
			return ex, false, fmt.Errorf("%w: unknown step kind %q", ErrGenerationFailure, step.Kind)
		}
	}

	if err := ctx.Err(); err != nil {
		return ex, false, err
	}
	ex.Text = text.String()
	span.SetAttributes(
		attribute.Int("tool_calls", len(ex.Calls)),
		attribute.Bool("final", final),
	)
	return ex, final, nil
}

// invoke runs one tool call. Tool failures become error outcomes for the
// model; only stream write failures are returned.
func (r *run) invoke(ctx context.Context, call ToolCall) (ToolOutcome, error) {
	ctx, span := tracer.Start(ctx, "executor.tool", trace.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("tool_call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	result, err := r.tools.Invoke(ctx, Invocation{
		Scope: r.req.Scope,
		Agent: r.req.Agent.Kind,
		Call:  call,
	})
	r.recorder.ObserveTool(call.Name, err == nil, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("tool call failed",
			"tool", call.Name,
			"agent", r.req.Agent.Kind,
			"error", err)
		return ToolOutcome{
			CallID:  call.ID,
			Name:    call.Name,
			Output:  errorOutput(err),
			IsError: true,
		}, nil
	}

	for _, out := range result.Artifacts {
		if err := r.emitArtifact(out); err != nil {
			return ToolOutcome{}, err
		}
	}

	output := result.Output
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	return ToolOutcome{CallID: call.ID, Name: call.Name, Output: output}, nil
}

// emitArtifact validates out and appends it as the next version of its
// artifact. An invalid payload is replaced by an ArtifactValidation error.
func (r *run) emitArtifact(out ArtifactOutput) error {
	canonical, err := r.codec.Validate(out.Type, out.Payload)
	if err != nil {
		r.logger.Warn("dropping invalid artifact",
			"artifact_type", out.Type,
			"error", err)
		_, appendErr := r.emit.Append(stream.ErrorEvent{
			Kind:    stream.ErrorArtifactValidation,
			Message: err.Error(),
		})
		return appendErr
	}

	id := out.ID
	if id == "" {
		id = uuid.New().String()
	}
	key := string(out.Type) + "/" + id
	version := r.versions[key] + 1

	if _, err := r.emit.Append(stream.ArtifactUpdate{
		ArtifactType: out.Type,
		ArtifactID:   id,
		Version:      version,
		Payload:      canonical,
	}); err != nil {
		return err
	}
	r.versions[key] = version

	state := ArtifactState{Type: out.Type, ID: id, Version: version, Payload: canonical}
	if i, ok := r.index[key]; ok {
		r.states[i] = state
	} else {
		r.index[key] = len(r.states)
		r.states = append(r.states, state)
	}
	return nil
}

func errorOutput(err error) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return out
}
