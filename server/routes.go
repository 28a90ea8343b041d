package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/tool"
	"github.com/dshills/taskrelay/config"
)

type createProjectRequest struct {
	tool.CreateProjectInput
	Steps []tool.StepDef `json:"steps,omitempty"`
}

// createProject creates a project and its workflow steps: explicit steps
// from the request, else the configured default workflow.
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if !s.decode(w, r, &body) {
		return
	}
	project, err := s.surface.CreateProject(r.Context(), body.CreateProjectInput)
	if err != nil {
		s.writeError(w, err)
		return
	}

	defs := body.Steps
	if len(defs) == 0 && s.cfg != nil {
		defs = stepDefs(s.cfg.DefaultWorkflow)
	}
	var steps []board.WorkflowStep
	if len(defs) > 0 {
		steps, err = s.surface.CreateWorkflowSteps(r.Context(), project.ID, defs)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"project": project, "steps": steps})
}

func stepDefs(steps []config.StepConfig) []tool.StepDef {
	defs := make([]tool.StepDef, len(steps))
	for i, sc := range steps {
		defs[i] = tool.StepDef{
			Name:         sc.Name,
			SystemPrompt: sc.SystemPrompt,
			Model:        sc.Model,
			Color:        sc.Color,
		}
	}
	return defs
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.surface.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	detail, err := s.surface.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) cancelProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.surface.CancelProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	b, err := s.surface.GetBoard(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) createSteps(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Steps []tool.StepDef `json:"steps"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	steps, err := s.surface.CreateWorkflowSteps(r.Context(), chi.URLParam(r, "projectID"), body.Steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, steps)
}

func (s *Server) getSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.surface.GetWorkflowSteps(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, steps)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body tool.CreateTaskInput
	if !s.decode(w, r, &body) {
		return
	}
	body.ProjectID = chi.URLParam(r, "projectID")
	task, err := s.surface.CreateTask(r.Context(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.surface.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.surface.UpdateTask(r.Context(), chi.URLParam(r, "taskID"), body.Title, body.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) moveTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetStepID string `json:"target_step_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.surface.MoveTask(r.Context(), chi.URLParam(r, "taskID"), body.TargetStepID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.surface.CancelTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) uncancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.surface.UncancelTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.surface.CompleteTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	task, err := s.surface.ApprovePlan(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) setOutput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Output string `json:"output"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.surface.SetTaskOutput(r.Context(), chi.URLParam(r, "taskID"), body.Output)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content    string `json:"content"`
		AuthorRole string `json:"author_role"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	comment, err := s.surface.AddComment(r.Context(), chi.URLParam(r, "taskID"), body.Content, body.AuthorRole)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) createSubtasks(w http.ResponseWriter, r *http.Request) {
	var body tool.CreateSubtasksInput
	if !s.decode(w, r, &body) {
		return
	}
	body.ParentTaskID = chi.URLParam(r, "taskID")
	created, err := s.surface.CreateSubtasks(r.Context(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"created": created})
}

func (s *Server) addDependency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PredecessorID string `json:"predecessor_id"`
		SuccessorID   string `json:"successor_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	dep, err := s.surface.AddDependency(r.Context(), body.PredecessorID, body.SuccessorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) removeDependency(w http.ResponseWriter, r *http.Request) {
	dep, err := s.surface.RemoveDependency(r.Context(), chi.URLParam(r, "dependencyID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dep)
}

func (s *Server) getDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.surface.GetDependencies(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deps)
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.surface.GetAgentRuns(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// getTranscript tails the task's agent session log from the given
// raw-line offset.
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.surface.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	worktree, session := "", ""
	if task.WorktreePath != nil {
		worktree = *task.WorktreePath
	}
	if task.SessionID != nil {
		session = *task.SessionID
	}
	active, err := s.surface.Reader(r.Context()).TaskHasActiveRun(taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.transcripts.Read(worktree, session, offset, active))
}
