// Package mcpserver exposes the tool surface to in-flight agents over a
// stdio-framed tool protocol (MCP).
//
// The agent subprocess is launched with a config file pointing back at
// `taskrelay mcp --task-id <id>`; this package is that subprocess server.
// It opens the shared store file, registers one MCP tool per tool surface
// operation, and serves on stdio until the agent exits.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/tool"
)

// Version is reported to MCP clients during initialization.
const Version = "0.3.0"

// Server wires the tool surface into an MCP stdio server scoped to one
// task.
type Server struct {
	surface *tool.Surface
	taskID  string
	mcp     *server.MCPServer
}

// New builds the server. taskID scopes the session; it is advisory
// context for the agent, not an authorization boundary.
func New(surface *tool.Surface, taskID string) *Server {
	s := &Server{
		surface: surface,
		taskID:  taskID,
		mcp: server.NewMCPServer(
			"taskrelay",
			Version,
			server.WithToolCapabilities(false),
		),
	}
	s.register()
	return s
}

// ServeStdio blocks serving the tool protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// result renders a success payload the way agents expect: indented JSON.
func result(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// failure renders a tagged error as a JSON error object so agents can
// branch on the kind.
func failure(err error) (*mcp.CallToolResult, error) {
	var te *board.ToolError
	if errors.As(err, &te) {
		data, merr := json.Marshal(te)
		if merr == nil {
			return mcp.NewToolResultError(string(data)), nil
		}
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) register() {
	s.mcp.AddTool(
		mcp.NewTool("create_project",
			mcp.WithDescription("Create a new project"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Project title")),
			mcp.WithString("description", mcp.Description("Project description")),
			mcp.WithString("repo_path", mcp.Description("Git repository to attach; must be a working tree")),
			mcp.WithString("base_branch", mcp.Description("Branch worktrees fork from; detected when omitted")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			project, terr := s.surface.CreateProject(ctx, tool.CreateProjectInput{
				Title:       title,
				Description: req.GetString("description", ""),
				RepoPath:    req.GetString("repo_path", ""),
				BaseBranch:  req.GetString("base_branch", ""),
			})
			if terr != nil {
				return failure(terr)
			}
			return result(project)
		})

	s.mcp.AddTool(
		mcp.NewTool("create_workflow_steps",
			mcp.WithDescription("Create the ordered workflow steps for a project"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
			mcp.WithArray("steps", mcp.Required(), mcp.Description("Ordered step definitions; each needs a name, optionally system_prompt, model, color")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in struct {
				ProjectID string         `json:"project_id"`
				Steps     []tool.StepDef `json:"steps"`
			}
			if err := req.BindArguments(&in); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			steps, err := s.surface.CreateWorkflowSteps(ctx, in.ProjectID, in.Steps)
			if err != nil {
				return failure(err)
			}
			return result(steps)
		})

	s.mcp.AddTool(
		mcp.NewTool("get_workflow_steps",
			mcp.WithDescription("Return workflow steps for a project"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			steps, terr := s.surface.GetWorkflowSteps(ctx, projectID)
			if terr != nil {
				return failure(terr)
			}
			return result(steps)
		})

	s.mcp.AddTool(
		mcp.NewTool("get_board",
			mcp.WithDescription("Return the full board state for a project"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, err := req.RequireString("project_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			b, terr := s.surface.GetBoard(ctx, projectID)
			if terr != nil {
				return failure(terr)
			}
			return result(b)
		})

	s.mcp.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Return a single task with its full comment thread"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			task, terr := s.surface.GetTask(ctx, taskID)
			if terr != nil {
				return failure(terr)
			}
			return result(task)
		})

	s.mcp.AddTool(
		mcp.NewTool("get_my_tasks",
			mcp.WithDescription("Return non-cancelled tasks at a given workflow step"),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("Workflow step id")),
			mcp.WithString("project_id", mcp.Description("Optional project filter")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			stepID, err := req.RequireString("step_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			tasks, terr := s.surface.GetMyTasks(ctx, stepID, req.GetString("project_id", ""))
			if terr != nil {
				return failure(terr)
			}
			return result(map[string]any{"tasks": tasks})
		})

	s.mcp.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a new task at a workflow step"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
			mcp.WithString("description", mcp.Description("Task description")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("Workflow step the task starts at")),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
			mcp.WithString("parent_task_id", mcp.Description("Optional parent task")),
			mcp.WithString("type", mcp.Description("task, research, or milestone (default task)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in tool.CreateTaskInput
			if err := req.BindArguments(&in); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			task, err := s.surface.CreateTask(ctx, in)
			if err != nil {
				return failure(err)
			}
			return result(task)
		})

	s.mcp.AddTool(
		mcp.NewTool("create_subtasks",
			mcp.WithDescription("Bulk create subtasks under a parent task. Use 'dependencies' to atomically set up blocking edges between tasks in the same batch (e.g. [{\"from_index\": 0, \"to_index\": 3}] means task at index 0 blocks task at index 3). Use 'cascade_deps_from' to re-block that task's successors on all newly created tasks."),
			mcp.WithString("parent_task_id", mcp.Required(), mcp.Description("Parent task id")),
			mcp.WithArray("tasks", mcp.Required(), mcp.Description("Subtask specs: title, description, optional step_id and type")),
			mcp.WithString("default_step_id", mcp.Description("Step children land on when a spec names none")),
			mcp.WithArray("dependencies", mcp.Description("Intra-batch edges by index: from_index blocks to_index")),
			mcp.WithString("cascade_deps_from", mcp.Description("Task whose successors re-block on every new child")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in tool.CreateSubtasksInput
			if err := req.BindArguments(&in); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			created, err := s.surface.CreateSubtasks(ctx, in)
			if err != nil {
				return failure(err)
			}
			return result(map[string]any{"created": created})
		})

	s.mcp.AddTool(
		mcp.NewTool("move_task",
			mcp.WithDescription("Move a task to a different workflow step (enforces step transitions)"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("target_step_id", mcp.Required(), mcp.Description("Destination step id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			targetStepID, err := req.RequireString("target_step_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			task, terr := s.surface.MoveTask(ctx, taskID, targetStepID)
			if terr != nil {
				return failure(terr)
			}
			return result(task)
		})

	s.mcp.AddTool(
		mcp.NewTool("cancel_task",
			mcp.WithDescription("Cancel a task"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		s.taskIDHandler(func(ctx context.Context, taskID string) (any, error) {
			return s.surface.CancelTask(ctx, taskID)
		}))

	s.mcp.AddTool(
		mcp.NewTool("uncancel_task",
			mcp.WithDescription("Uncancel a previously cancelled task"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		s.taskIDHandler(func(ctx context.Context, taskID string) (any, error) {
			return s.surface.UncancelTask(ctx, taskID)
		}))

	s.mcp.AddTool(
		mcp.NewTool("add_comment",
			mcp.WithDescription("Add a comment to a task's thread"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Comment body")),
			mcp.WithString("author_role", mcp.Required(), mcp.Description("Non-empty author role, e.g. planner, coder")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			content, err := req.RequireString("content")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			role, err := req.RequireString("author_role")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			comment, terr := s.surface.AddComment(ctx, taskID, content, role)
			if terr != nil {
				return failure(terr)
			}
			return result(comment)
		})

	s.mcp.AddTool(
		mcp.NewTool("add_dependency",
			mcp.WithDescription("Add a dependency: successor is blocked until predecessor reaches the terminal step"),
			mcp.WithString("predecessor_id", mcp.Required(), mcp.Description("Blocking task")),
			mcp.WithString("successor_id", mcp.Required(), mcp.Description("Blocked task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			pred, err := req.RequireString("predecessor_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			succ, err := req.RequireString("successor_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			dep, terr := s.surface.AddDependency(ctx, pred, succ)
			if terr != nil {
				return failure(terr)
			}
			return result(dep)
		})

	s.mcp.AddTool(
		mcp.NewTool("remove_dependency",
			mcp.WithDescription("Remove a dependency edge"),
			mcp.WithString("dependency_id", mcp.Required(), mcp.Description("Edge id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			depID, err := req.RequireString("dependency_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			dep, terr := s.surface.RemoveDependency(ctx, depID)
			if terr != nil {
				return failure(terr)
			}
			return result(dep)
		})

	s.mcp.AddTool(
		mcp.NewTool("get_dependencies",
			mcp.WithDescription("Get predecessors and successors for a task"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		s.taskIDHandler(func(ctx context.Context, taskID string) (any, error) {
			return s.surface.GetDependencies(ctx, taskID)
		}))

	s.mcp.AddTool(
		mcp.NewTool("approve_plan",
			mcp.WithDescription("Approve a milestone's plan, enabling child task dispatch"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Milestone task id")),
		),
		s.taskIDHandler(func(ctx context.Context, taskID string) (any, error) {
			return s.surface.ApprovePlan(ctx, taskID)
		}))

	s.mcp.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Move a task to the terminal step, unblock dependents, auto-advance parent"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		s.taskIDHandler(func(ctx context.Context, taskID string) (any, error) {
			return s.surface.CompleteTask(ctx, taskID)
		}))

	s.mcp.AddTool(
		mcp.NewTool("set_task_output",
			mcp.WithDescription("Set the output field on a task (research findings)"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("output", mcp.Required(), mcp.Description("Output text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			output, err := req.RequireString("output")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			task, terr := s.surface.SetTaskOutput(ctx, taskID, output)
			if terr != nil {
				return failure(terr)
			}
			return result(task)
		})
}

// taskIDHandler adapts the common single-argument tool shape.
func (s *Server) taskIDHandler(fn func(ctx context.Context, taskID string) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		v, terr := fn(ctx, taskID)
		if terr != nil {
			return failure(terr)
		}
		return result(v)
	}
}
