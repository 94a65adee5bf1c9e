// Package stage defines the pluggable analysis units of the loom pipeline.
//
// A stage reads from the shared context, renders an instruction payload,
// delegates generation to the provider gateway with its resolved settings,
// and returns raw text for the orchestrator to record. Stages declare
// their output key and the input keys they find interesting; the latter
// are hints for cache-key construction and opportunistic reads, not
// enforced dependencies.
package stage

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/StephenDMay/loom/internal/config"
	"github.com/StephenDMay/loom/internal/contextstore"
	"github.com/StephenDMay/loom/internal/logging"
	"github.com/StephenDMay/loom/internal/provider"
)

// TaskKey is the context key the orchestrator seeds with the run's
// free-text initial input.
const TaskKey = "task"

// Descriptor identifies a stage.
type Descriptor struct {
	// Name is the stage identifier used in configuration.
	Name string

	// OutputKey is the context key this stage owns. No other stage may
	// write it within a run.
	OutputKey string

	// InputKeys are the context keys whose current values feed the
	// stage's prompt and cache key. Missing keys read as empty.
	InputKeys []string
}

// Stage is one pluggable unit of analysis.
type Stage interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, store *contextstore.Store, cfg config.EffectiveStageConfig) (string, error)
}

// OutputInvalidError reports that a stage rejected its own output shape.
// The orchestrator treats it as terminal, like an unavailable provider.
type OutputInvalidError struct {
	Stage  string
	Reason string
}

func (e *OutputInvalidError) Error() string {
	return fmt.Sprintf("stage %q produced invalid output: %s", e.Stage, e.Reason)
}

// Prompt is a template-driven Stage. The template receives the task text
// and the current values of the declared input keys.
type Prompt struct {
	desc    Descriptor
	tmpl    *template.Template
	gateway *provider.Gateway
	logger  *logging.Logger
}

// promptData is what templates render against.
type promptData struct {
	Task   string
	Inputs map[string]string
}

// NewPrompt builds a template stage. The template text is parsed once; a
// malformed template is a programming error surfaced at construction.
func NewPrompt(desc Descriptor, templateText string, gateway *provider.Gateway, logger *logging.Logger) (*Prompt, error) {
	tmpl, err := template.New(desc.Name).Option("missingkey=zero").Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("parsing template for stage %q: %w", desc.Name, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Prompt{
		desc:    desc,
		tmpl:    tmpl,
		gateway: gateway,
		logger:  logger.Named(desc.Name),
	}, nil
}

func (p *Prompt) Descriptor() Descriptor {
	return p.desc
}

// Execute renders the prompt from the current context and runs it through
// the gateway with the stage's resolved provider and parameters.
func (p *Prompt) Execute(ctx context.Context, store *contextstore.Store, cfg config.EffectiveStageConfig) (string, error) {
	data := promptData{Inputs: make(map[string]string, len(p.desc.InputKeys))}
	if task, ok := store.Get(TaskKey); ok {
		data.Task = task
	}
	// Missing keys are "no information available", never an error.
	for k, v := range store.Snapshot(p.desc.InputKeys) {
		data.Inputs[k] = v
	}

	var prompt strings.Builder
	if err := p.tmpl.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("rendering prompt for stage %q: %w", p.desc.Name, err)
	}

	p.logger.Debug(ctx, "invoking provider",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.String("prompt_preview", logging.Preview(prompt.String(), 200)),
	)

	res := p.gateway.Execute(ctx, cfg.Provider, provider.Request{
		Prompt:      prompt.String(),
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, cfg.RetryCount, cfg.Timeout)

	if res.Outcome != provider.OutcomeSuccess {
		return "", res.Err
	}
	if strings.TrimSpace(res.Output) == "" {
		return "", &OutputInvalidError{Stage: p.desc.Name, Reason: "empty completion"}
	}
	return res.Output, nil
}
