// Package activities holds the Temporal activities of the research
// pipeline. All model, tool, journal and store I/O happens here; workflow
// code stays deterministic.
package activities

import (
	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/config"
	"github.com/colloquylab/colloquy/internal/invoker"
	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/roster"
	"github.com/colloquylab/colloquy/internal/runstore"
)

// Activities carries the shared dependencies of all activity methods.
type Activities struct {
	inv     invoker.Invoker
	tools   invoker.ToolRunner
	team    *roster.Roster
	budgets config.Budgets
	events  *journal.Manager
	durable *journal.RedisWriter
	store   *runstore.Client
	logger  *zap.Logger
}

// Options are the optional collaborators of the activity set. Nil fields
// disable the corresponding side channel.
type Options struct {
	Tools         invoker.ToolRunner
	DurableEvents *journal.RedisWriter
	Store         *runstore.Client
}

// New builds the activity set.
func New(inv invoker.Invoker, team *roster.Roster, budgets config.Budgets, events *journal.Manager, logger *zap.Logger, opts Options) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = journal.NewManager(0)
	}
	return &Activities{
		inv:     inv,
		tools:   opts.Tools,
		team:    team,
		budgets: budgets,
		events:  events,
		durable: opts.DurableEvents,
		store:   opts.Store,
		logger:  logger,
	}
}
