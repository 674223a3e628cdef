package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// ErrLLMUnavailable is returned when the model and its whole fallback chain
// have been exhausted.
var ErrLLMUnavailable = errors.New("llm unavailable")

// Pipeline drives streaming LLM requests with an ordered fallback-model
// chain. A failed request is re-streamed from its original input against
// the next chain entry; a successful fallback becomes the run's new model
// floor via ctx.SetModel.
type Pipeline struct {
	provider Provider
	chain    []string
	fallback bool
}

type PipelineOption func(*Pipeline)

// WithFallbackChain sets the ordered model chain and enables fallback.
func WithFallbackChain(chain []string) PipelineOption {
	return func(p *Pipeline) {
		p.chain = chain
		p.fallback = len(chain) > 0
	}
}

func NewPipeline(provider Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{provider: provider}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Provider() Provider { return p.provider }

// Stream sends one streaming request, trying fallback models in chain order
// on failure. Token usage is accumulated onto ectx as deltas arrive.
func (p *Pipeline) Stream(ctx context.Context, req ChatRequest, ectx *session.ExecutionContext, onDelta func(Delta)) (*ChatResponse, error) {
	target := req.Model
	if target == "" {
		target = ectx.Model()
	}
	if target == "" {
		target = p.provider.DefaultModel()
	}

	attempts := p.attemptOrder(target)
	var lastErr error

	for i, model := range attempts {
		req.Model = model

		var outputSeen int
		resp, err := p.provider.Stream(ctx, req, func(d Delta) {
			if d.Kind == DeltaUsage && d.OutputTokens > outputSeen {
				// Usage deltas report cumulative output tokens.
				if uerr := ectx.UpdateTokenUsage(0, d.OutputTokens-outputSeen); uerr != nil {
					slog.Warn("token usage update failed", "error", uerr)
				}
				outputSeen = d.OutputTokens
			}
			if onDelta != nil {
				onDelta(d)
			}
		})
		if err != nil {
			lastErr = err
			if i+1 < len(attempts) {
				slog.Warn("llm request failed, falling back",
					"model", model, "next", attempts[i+1], "error", err)
				continue
			}
			break
		}

		if resp.Usage != nil {
			if uerr := ectx.UpdateTokenUsage(resp.Usage.InputTokens, 0); uerr != nil {
				slog.Warn("token usage update failed", "error", uerr)
			}
		}

		if model != target {
			// Subsequent calls in this run start from the fallback.
			ectx.SetModel(model)
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%w: all models failed (last: %v)", ErrLLMUnavailable, lastErr)
}

// attemptOrder returns target followed by the chain entries after it.
// Each model is attempted at most once per call; models before target in
// the chain are not retried.
func (p *Pipeline) attemptOrder(target string) []string {
	attempts := []string{target}
	if !p.fallback {
		return attempts
	}
	idx := -1
	for i, m := range p.chain {
		if m == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return attempts
	}
	for _, m := range p.chain[idx+1:] {
		if m != target {
			attempts = append(attempts, m)
		}
	}
	return attempts
}
