package workflows

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/colloquylab/colloquy/internal/activities"
	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/plan"
)

const dialogueTurns = 2

// dialogueResult is the joined outcome of a multi-specialist subtask.
type dialogueResult struct {
	Combined   string
	Degraded   bool
	TokensUsed int
	Warnings   []string
	Transcript []consensus.TranscriptEntry
}

// runDialogue executes a fixed two-turn dialogue between the subtask's
// specialists. Turn 1 is isolated: each specialist sees only the subtask
// and its dependency context, never a peer's draft. Turn 2 hands every
// specialist all turn-1 contributions so positions can be refined against
// each other. Specialists run sequentially within a turn, in plan order.
func runDialogue(ctx workflow.Context, in PipelineInput, st plan.Subtask, inputContext string) dialogueResult {
	logger := workflow.GetLogger(ctx)
	wid := workflow.GetInfo(ctx).WorkflowExecution.ID

	res := dialogueResult{}
	// contributions[turn-1][specialist index]; "" marks a failed slot.
	contributions := make([][]string, dialogueTurns)
	for t := range contributions {
		contributions[t] = make([]string, len(st.Specialists))
	}

	for turn := 1; turn <= dialogueTurns; turn++ {
		turnContext := ""
		if turn > 1 {
			turnContext = renderTurnContext(st.Specialists, contributions[turn-2])
		}

		for i, specID := range st.Specialists {
			var sr activities.SpecialistResult
			err := workflow.ExecuteActivity(ctx, activities.ExecuteSpecialistActivity, activities.SpecialistInput{
				WorkflowID:      wid,
				SubtaskID:       st.ID,
				SpecialistID:    specID,
				Description:     st.Description,
				ExpectedOutputs: st.ExpectedOutputs,
				InputContext:    inputContext,
				TurnContext:     turnContext,
				Turn:            turn,
				BackendID:       in.BackendID,
			}).Get(ctx, &sr)
			if err != nil {
				logger.Warn("Dialogue contribution failed",
					"subtask_id", st.ID,
					"specialist", specID,
					"turn", turn,
					"error", err,
				)
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("subtask %d: specialist %s failed in dialogue turn %d", st.ID, specID, turn))
				continue
			}
			contributions[turn-1][i] = sr.Output
			res.TokensUsed += sr.TokensUsed
			for _, w := range sr.Warnings {
				res.Warnings = append(res.Warnings, fmt.Sprintf("subtask %d: %s", st.ID, w))
			}
			res.Transcript = append(res.Transcript, consensus.TranscriptEntry{
				Turn:         turn,
				SpecialistID: specID,
				Content:      sr.Output,
			})
		}

		emitEvent(ctx, journal.Event{
			WorkflowID: wid,
			Type:       journal.EventDialogueTurn,
			SubtaskID:  st.ID,
			Turn:       turn,
		})
	}

	// The subtask's output is the ordered concatenation of every turn's
	// contributions, labeled by speaker and turn number. Failed slots are
	// simply absent, so a specialist whose turn 2 failed still speaks
	// through its turn-1 draft.
	res.Combined = renderDialogueOutput(st.Specialists, contributions)
	if res.Combined == "" {
		res.Degraded = true
		res.Combined = fmt.Sprintf("[degraded] subtask %d produced no output: every dialogue contribution failed", st.ID)
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("subtask %d degraded: every dialogue contribution failed", st.ID))
		emitEvent(ctx, journal.Event{
			WorkflowID: wid,
			Type:       journal.EventSubtaskDegraded,
			SubtaskID:  st.ID,
		})
	}
	return res
}

// renderTurnContext labels each non-empty contribution with its author.
func renderTurnContext(specialists []string, outputs []string) string {
	var b strings.Builder
	for i, specID := range specialists {
		if outputs[i] == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", specID, outputs[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderDialogueOutput concatenates all turns in order, labeling each
// contribution with its speaker and turn number.
func renderDialogueOutput(specialists []string, contributions [][]string) string {
	var b strings.Builder
	for t := range contributions {
		for i, specID := range specialists {
			if contributions[t][i] == "" {
				continue
			}
			fmt.Fprintf(&b, "### %s (turn %d)\n%s\n\n", specID, t+1, contributions[t][i])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
