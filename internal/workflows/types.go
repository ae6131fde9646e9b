package workflows

import (
	"time"

	"github.com/colloquylab/colloquy/internal/config"
	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/critique"
)

// PipelineInput starts one research pipeline against one model backend.
type PipelineInput struct {
	Question  string         `json:"question"`
	BackendID string         `json:"backend_id"`
	Budgets   config.Budgets `json:"budgets"`
}

// SubtaskOutcome summarizes one executed subtask.
type SubtaskOutcome struct {
	SubtaskID   int      `json:"subtask_id"`
	Specialists []string `json:"specialists"`
	Output      string   `json:"output"`
	Degraded    bool     `json:"degraded"`
	Skipped     bool     `json:"skipped"`
}

// PipelineResult is the final state of one pipeline run. Warnings carry
// every degraded or dropped unit; nothing is silently discarded.
type PipelineResult struct {
	Question    string                      `json:"question"`
	BackendID   string                      `json:"backend_id"`
	FinalAnswer string                      `json:"final_answer"`
	Warnings    []string                    `json:"warnings,omitempty"`
	Partial     bool                        `json:"partial,omitempty"`
	Outcomes    []SubtaskOutcome            `json:"outcomes"`
	Transcript  []consensus.TranscriptEntry `json:"transcript,omitempty"`
	Flags       []critique.RedFlag          `json:"flags,omitempty"`
	TokensUsed  int                         `json:"tokens_used"`
}

// ConsensusInput starts N independent pipelines, one per backend id.
type ConsensusInput struct {
	Question string         `json:"question"`
	Backends []string       `json:"backends"`
	Budgets  config.Budgets `json:"budgets"`
	// Timeout bounds each child pipeline; an expired child contributes a
	// partial run instead of failing the consensus.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ConsensusResult is the joined outcome of all runs.
type ConsensusResult struct {
	Report   consensus.AgreementReport `json:"report"`
	Runs     []consensus.Run           `json:"runs"`
	Warnings []string                  `json:"warnings,omitempty"`
}
