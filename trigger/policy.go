// Package trigger implements the dispatch scheduler: a single-threaded
// poll loop that reads unconsumed trigger events and decides, per event,
// whether to dispatch an agent, clean up a worktree, propagate readiness,
// or simply consume.
//
// The decision itself is a pure function over the event and a read-only
// view of the store; all side effects (gating, launching, consuming) are
// enacted by the Processor.
package trigger

import (
	"errors"

	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/store"
)

// ActionKind enumerates what the processor does with one event.
type ActionKind int

const (
	// ActionConsume marks the event consumed with no further effect.
	ActionConsume ActionKind = iota

	// ActionDispatch launches an agent for the task, subject to gating.
	ActionDispatch

	// ActionCleanup schedules worktree removal for the task.
	ActionCleanup

	// ActionAdvanceReady moves the task forward to its next agent step.
	ActionAdvanceReady
)

// Action is the policy decision for one event.
type Action struct {
	Kind   ActionKind
	TaskID string
}

// TriggerTypes is the read filter of the processor: only these event
// kinds are fetched from the log.
var TriggerTypes = []event.Type{
	event.TaskMovedType,
	event.TaskCreatedType,
	event.TaskCancelledType,
	event.TaskReadyType,
	event.PlanApprovedType,
	event.MilestoneCompletedType,
	event.OrchestratorTriggerType,
}

// Decide maps one event to an action. Unknown payloads, missing rows, and
// event kinds with no scheduling effect all fold to ActionConsume so the
// log always drains.
func Decide(ev event.Event, tx *store.Tx) (Action, error) {
	switch p := ev.Payload.(type) {
	case event.TaskMoved:
		return decideArrival(tx, p.TaskID, p.NewStepID)
	case event.TaskCreated:
		task, err := tx.GetTask(p.TaskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Action{Kind: ActionConsume}, nil
			}
			return Action{}, err
		}
		return decideArrival(tx, p.TaskID, task.StepID)
	case event.TaskCancelled:
		return Action{Kind: ActionCleanup, TaskID: p.TaskID}, nil
	case event.TaskReady:
		return Action{Kind: ActionAdvanceReady, TaskID: p.TaskID}, nil
	default:
		// plan_approved and milestone_completed had their downstream
		// effects emitted synchronously by the tool that produced them;
		// orchestrator_trigger and unknown payloads are consumed as-is.
		return Action{Kind: ActionConsume}, nil
	}
}

// decideArrival classifies a task's arrival at a step: agent step means
// dispatch, terminal step means cleanup, anything else is consumed.
func decideArrival(tx *store.Tx, taskID, stepID string) (Action, error) {
	step, err := tx.GetStep(stepID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Action{Kind: ActionConsume}, nil
		}
		return Action{}, err
	}
	if step.HasAgent() {
		return Action{Kind: ActionDispatch, TaskID: taskID}, nil
	}
	terminal, err := tx.TerminalPosition(step.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Action{Kind: ActionConsume}, nil
		}
		return Action{}, err
	}
	if step.Position == terminal {
		return Action{Kind: ActionCleanup, TaskID: taskID}, nil
	}
	return Action{Kind: ActionConsume}, nil
}
