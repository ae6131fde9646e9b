package activities

import (
	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/critique"
	"github.com/colloquylab/colloquy/internal/plan"
	"github.com/colloquylab/colloquy/internal/runstore"
)

// Activity names used for registration and workflow references.
const (
	GeneratePlanActivity       = "GeneratePlan"
	ExecuteSpecialistActivity  = "ExecuteSpecialist"
	SynthesizeActivity         = "Synthesize"
	CritiqueActivity           = "Critique"
	EmitEventActivity          = "EmitEvent"
	RecordRunActivity          = "RecordRun"
	AggregateConsensusActivity = "AggregateConsensus"
)

// PlanInput is the input for plan generation.
type PlanInput struct {
	WorkflowID string `json:"workflow_id"`
	Question   string `json:"question"`
	BackendID  string `json:"backend_id"`
}

// PlanResult carries the validated plan.
type PlanResult struct {
	Plan       plan.ResearchPlan `json:"plan"`
	Attempts   int               `json:"attempts"`
	TokensUsed int               `json:"tokens_used"`
}

// SpecialistInput is one specialist invocation against one subtask. The
// workflow supplies the accumulated input context; the activity composes
// the prompt mechanically from the roster descriptor.
type SpecialistInput struct {
	WorkflowID      string   `json:"workflow_id"`
	SubtaskID       int      `json:"subtask_id"`
	SpecialistID    string   `json:"specialist_id"`
	Description     string   `json:"description"`
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
	// InputContext is the concatenation of dependency outputs.
	InputContext string `json:"input_context,omitempty"`
	// TurnContext carries prior dialogue turns for multi-specialist
	// subtasks; empty for single-specialist execution and Turn 1.
	TurnContext string `json:"turn_context,omitempty"`
	Turn        int    `json:"turn,omitempty"`
	BackendID   string `json:"backend_id"`
}

// SpecialistResult is the outcome of one specialist invocation.
type SpecialistResult struct {
	SpecialistID string   `json:"specialist_id"`
	Output       string   `json:"output"`
	TokensUsed   int      `json:"tokens_used"`
	ModelUsed    string   `json:"model_used,omitempty"`
	Iterations   int      `json:"iterations"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ContextEntry is one completed subtask's contribution to synthesis.
type ContextEntry struct {
	SubtaskID   int    `json:"subtask_id"`
	Description string `json:"description"`
	Output      string `json:"output"`
}

// SynthesisInput is the input for the final-synthesis call.
type SynthesisInput struct {
	WorkflowID string         `json:"workflow_id"`
	Question   string         `json:"question"`
	Entries    []ContextEntry `json:"entries"`
	// Flags from the preceding critique pass; when non-empty the synthesis
	// must include a Red Flag Resolution section.
	Flags     []critique.RedFlag `json:"flags,omitempty"`
	BackendID string             `json:"backend_id"`
}

// SynthesisResult is the synthesized answer.
type SynthesisResult struct {
	Answer     string `json:"answer"`
	TokensUsed int    `json:"tokens_used"`
}

// CritiqueInput asks the reviewer role for a critique of an answer.
type CritiqueInput struct {
	WorkflowID string `json:"workflow_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	BackendID  string `json:"backend_id"`
}

// CritiqueResult carries the reviewer's critique with its extracted flags.
// Malformed blocks the extractor dropped are reported in ParseWarnings.
type CritiqueResult struct {
	Text          string             `json:"text"`
	Flags         []critique.RedFlag `json:"flags,omitempty"`
	ParseWarnings []string           `json:"parse_warnings,omitempty"`
	TokensUsed    int                `json:"tokens_used"`
}

// RecordRunInput persists the final state of one pipeline run.
type RecordRunInput struct {
	Run   runstore.RunRecord       `json:"run"`
	Flags []runstore.RedFlagRecord `json:"flags,omitempty"`
}

// AggregateInput joins the surviving consensus runs.
type AggregateInput struct {
	WorkflowID string          `json:"workflow_id"`
	Question   string          `json:"question"`
	Runs       []consensus.Run `json:"runs"`
}

// AggregateResult carries the agreement report.
type AggregateResult struct {
	Report consensus.AgreementReport `json:"report"`
}
