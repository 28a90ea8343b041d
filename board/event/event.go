// Package event defines the board's event log entries as a closed tagged
// union keyed by type.
//
// Events are stored with an opaque JSON payload for forward
// compatibility, but in-process every payload is one of the typed
// variants below. The log has two independent consumption cursors: the
// broadcaster and the trigger processor each mark events consumed on
// their own flag and never block each other.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	ProjectCreatedType     Type = "project_created"
	ProjectUpdatedType     Type = "project_updated"
	TaskCreatedType        Type = "task_created"
	TaskMovedType          Type = "task_moved"
	TaskCancelledType      Type = "task_cancelled"
	TaskUncancelledType    Type = "task_uncancelled"
	TaskUpdatedType        Type = "task_updated"
	TaskReadyType          Type = "task_ready"
	SubtasksCreatedType    Type = "subtasks_created"
	CommentAddedType       Type = "comment_added"
	DependencyCreatedType  Type = "dependency_created"
	DependencyRemovedType  Type = "dependency_removed"
	PlanApprovedType       Type = "plan_approved"
	MilestoneCompletedType Type = "milestone_completed"

	// OrchestratorTriggerType is accepted by the trigger processor's read
	// filter for compatibility with externally seeded events; nothing in
	// the core emits it.
	OrchestratorTriggerType Type = "orchestrator_trigger"
)

// Event is one row of the append-only event log.
type Event struct {
	ID                    string    `json:"id"`
	Type                  Type      `json:"type"`
	Payload               Payload   `json:"payload"`
	CreatedAt             time.Time `json:"created_at"`
	ConsumedByBroadcaster bool      `json:"consumed_by_broadcaster"`
	ConsumedByTrigger     bool      `json:"consumed_by_trigger"`
}

// Payload is the closed union of event payloads. Exactly one concrete
// variant exists per Type.
type Payload interface {
	eventType() Type
}

// ProjectCreated is emitted by create_project.
type ProjectCreated struct {
	ProjectID string `json:"project_id"`
}

// ProjectUpdated is emitted when a project's status changes.
type ProjectUpdated struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// TaskCreated is emitted once per created task, including each subtask in
// a create_subtasks batch.
type TaskCreated struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// TaskMoved is emitted for every step transition, whether requested
// explicitly or performed by complete_task, ready-propagation, or sibling
// auto-advance. The step names and positions are carried for display; the
// trigger processor keys off NewStepID.
type TaskMoved struct {
	TaskID       string `json:"task_id"`
	OldStepID    string `json:"old_step_id"`
	NewStepID    string `json:"new_step_id"`
	ProjectID    string `json:"project_id"`
	FromStepName string `json:"from_step_name"`
	ToStepName   string `json:"to_step_name"`
	FromPosition int    `json:"from_position"`
	ToPosition   int    `json:"to_position"`
	Direction    string `json:"direction"`
}

// TaskCancelled is emitted by cancel_task.
type TaskCancelled struct {
	TaskID string `json:"task_id"`
}

// TaskUncancelled is emitted by uncancel_task.
type TaskUncancelled struct {
	TaskID string `json:"task_id"`
}

// TaskUpdated is emitted for non-step task writes (output, title,
// description). The trigger processor does not subscribe to it.
type TaskUpdated struct {
	TaskID string `json:"task_id"`
}

// TaskReady is emitted when a task's gates open: all predecessors
// terminal and the parent milestone (if any) approved. The trigger
// processor advances the task to its next agent step.
type TaskReady struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// SubtasksCreated is emitted once per create_subtasks batch, before the
// per-child TaskCreated events.
type SubtasksCreated struct {
	ParentTaskID string   `json:"parent_task_id"`
	TaskIDs      []string `json:"task_ids"`
}

// CommentAdded is emitted by add_comment.
type CommentAdded struct {
	CommentID string `json:"comment_id"`
	TaskID    string `json:"task_id"`
}

// DependencyCreated is emitted by add_dependency.
type DependencyCreated struct {
	DependencyID  string `json:"dependency_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
}

// DependencyRemoved is emitted by remove_dependency.
type DependencyRemoved struct {
	DependencyID  string `json:"dependency_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
}

// PlanApproved is emitted by approve_plan.
type PlanApproved struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// MilestoneCompleted is emitted when sibling auto-advance lands a parent
// task at its project's terminal step.
type MilestoneCompleted struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// OrchestratorTrigger matches externally seeded orchestration events.
type OrchestratorTrigger struct {
	ParentTaskID string `json:"parent_task_id"`
	ProjectID    string `json:"project_id"`
}

func (ProjectCreated) eventType() Type      { return ProjectCreatedType }
func (ProjectUpdated) eventType() Type      { return ProjectUpdatedType }
func (TaskCreated) eventType() Type         { return TaskCreatedType }
func (TaskMoved) eventType() Type           { return TaskMovedType }
func (TaskCancelled) eventType() Type       { return TaskCancelledType }
func (TaskUncancelled) eventType() Type     { return TaskUncancelledType }
func (TaskUpdated) eventType() Type         { return TaskUpdatedType }
func (TaskReady) eventType() Type           { return TaskReadyType }
func (SubtasksCreated) eventType() Type     { return SubtasksCreatedType }
func (CommentAdded) eventType() Type        { return CommentAddedType }
func (DependencyCreated) eventType() Type   { return DependencyCreatedType }
func (DependencyRemoved) eventType() Type   { return DependencyRemovedType }
func (PlanApproved) eventType() Type        { return PlanApprovedType }
func (MilestoneCompleted) eventType() Type  { return MilestoneCompletedType }
func (OrchestratorTrigger) eventType() Type { return OrchestratorTriggerType }

// TypeOf returns the Type tag for a payload variant.
func TypeOf(p Payload) Type {
	return p.eventType()
}

// Marshal encodes a payload to its stored JSON form.
func Marshal(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.eventType(), err)
	}
	return data, nil
}

// Unmarshal decodes a stored payload into the variant matching typ.
// Unknown types return an error; the consumers treat that as a
// consume-and-skip condition rather than a fault.
func Unmarshal(typ Type, data []byte) (Payload, error) {
	var p Payload
	switch typ {
	case ProjectCreatedType:
		p = &ProjectCreated{}
	case ProjectUpdatedType:
		p = &ProjectUpdated{}
	case TaskCreatedType:
		p = &TaskCreated{}
	case TaskMovedType:
		p = &TaskMoved{}
	case TaskCancelledType:
		p = &TaskCancelled{}
	case TaskUncancelledType:
		p = &TaskUncancelled{}
	case TaskUpdatedType:
		p = &TaskUpdated{}
	case TaskReadyType:
		p = &TaskReady{}
	case SubtasksCreatedType:
		p = &SubtasksCreated{}
	case CommentAddedType:
		p = &CommentAdded{}
	case DependencyCreatedType:
		p = &DependencyCreated{}
	case DependencyRemovedType:
		p = &DependencyRemoved{}
	case PlanApprovedType:
		p = &PlanApproved{}
	case MilestoneCompletedType:
		p = &MilestoneCompleted{}
	case OrchestratorTriggerType:
		p = &OrchestratorTrigger{}
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", typ, err)
	}
	return deref(p), nil
}

// deref returns the value form so consumers can type-switch on concrete
// structs rather than pointers.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ProjectCreated:
		return *v
	case *ProjectUpdated:
		return *v
	case *TaskCreated:
		return *v
	case *TaskMoved:
		return *v
	case *TaskCancelled:
		return *v
	case *TaskUncancelled:
		return *v
	case *TaskUpdated:
		return *v
	case *TaskReady:
		return *v
	case *SubtasksCreated:
		return *v
	case *CommentAdded:
		return *v
	case *DependencyCreated:
		return *v
	case *DependencyRemoved:
		return *v
	case *PlanApproved:
		return *v
	case *MilestoneCompleted:
		return *v
	case *OrchestratorTrigger:
		return *v
	}
	return p
}

// TaskID extracts the task id referenced by a payload, when it has one.
func TaskID(p Payload) (string, bool) {
	switch v := p.(type) {
	case TaskCreated:
		return v.TaskID, true
	case TaskMoved:
		return v.TaskID, true
	case TaskCancelled:
		return v.TaskID, true
	case TaskUncancelled:
		return v.TaskID, true
	case TaskUpdated:
		return v.TaskID, true
	case TaskReady:
		return v.TaskID, true
	case PlanApproved:
		return v.TaskID, true
	case MilestoneCompleted:
		return v.TaskID, true
	}
	return "", false
}
