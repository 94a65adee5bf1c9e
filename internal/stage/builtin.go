package stage

import (
	"fmt"

	"github.com/StephenDMay/loom/internal/logging"
	"github.com/StephenDMay/loom/internal/provider"
)

// Context keys owned by the built-in stages.
const (
	ProjectAnalysisKey = "project_analysis"
	FeatureResearchKey = "feature_research"
	AssembledPromptKey = "assembled_prompt"
	GeneratedIssueKey  = "generated_issue"
)

// Built-in stage names.
const (
	ProjectAnalysisName = "project-analysis"
	FeatureResearchName = "feature-research"
	PromptAssemblyName  = "prompt-assembly"
	IssueGenerationName = "issue-generation"
)

const projectAnalysisTemplate = `You are a senior engineer surveying a codebase before work begins.

Task under consideration:
{{.Task}}

Produce a concise project analysis covering: the project's purpose, its
primary components and how they fit together, conventions a contributor
must follow, and the parts of the system the task above is most likely to
touch. Be specific; avoid generic advice.`

const featureResearchTemplate = `You are researching how to implement a feature request.

Feature request:
{{.Task}}

{{with index .Inputs "project_analysis" -}}
Project analysis from an earlier pass:
{{.}}

{{end -}}
Identify the design decisions this feature requires, known approaches and
their trade-offs, edge cases likely to bite, and any prior art worth
imitating. Keep it grounded in the project context when one is given.`

const promptAssemblyTemplate = `You assemble implementation briefs for engineers.

Feature request:
{{.Task}}

{{with index .Inputs "project_analysis" -}}
Project analysis:
{{.}}

{{end -}}
{{with index .Inputs "feature_research" -}}
Research notes:
{{.}}

{{end -}}
Merge the material above into a single, self-contained implementation
brief: goal, constraints, suggested approach, and acceptance criteria.
Omit sections for which no material was provided.`

const issueGenerationTemplate = `You write actionable development issues.

{{with index .Inputs "assembled_prompt" -}}
Implementation brief:
{{.}}
{{- else -}}
Feature request:
{{.Task}}

{{with index .Inputs "project_analysis" -}}
Project analysis:
{{.}}
{{- end}}
{{- end}}

Write a complete development issue with: a one-line title, a problem
statement, a proposed solution, implementation steps, and acceptance
criteria as a checklist. Use markdown.`

// NewBuiltins constructs the standard four-stage pipeline and registers it
// in declaration order: analysis, research, assembly, generation.
func NewBuiltins(gateway *provider.Gateway, logger *logging.Logger) (*Registry, error) {
	registry := NewRegistry()

	builtins := []struct {
		desc Descriptor
		tmpl string
	}{
		{
			desc: Descriptor{
				Name:      ProjectAnalysisName,
				OutputKey: ProjectAnalysisKey,
				InputKeys: []string{TaskKey},
			},
			tmpl: projectAnalysisTemplate,
		},
		{
			desc: Descriptor{
				Name:      FeatureResearchName,
				OutputKey: FeatureResearchKey,
				InputKeys: []string{TaskKey, ProjectAnalysisKey},
			},
			tmpl: featureResearchTemplate,
		},
		{
			desc: Descriptor{
				Name:      PromptAssemblyName,
				OutputKey: AssembledPromptKey,
				InputKeys: []string{TaskKey, ProjectAnalysisKey, FeatureResearchKey},
			},
			tmpl: promptAssemblyTemplate,
		},
		{
			desc: Descriptor{
				Name:      IssueGenerationName,
				OutputKey: GeneratedIssueKey,
				InputKeys: []string{TaskKey, ProjectAnalysisKey, AssembledPromptKey},
			},
			tmpl: issueGenerationTemplate,
		},
	}

	for _, b := range builtins {
		s, err := NewPrompt(b.desc, b.tmpl, gateway, logger)
		if err != nil {
			return nil, fmt.Errorf("building stage %q: %w", b.desc.Name, err)
		}
		if err := registry.Register(s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
