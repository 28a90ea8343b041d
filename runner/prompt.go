package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/taskrelay/board"
)

// BuildPrompt assembles the structured prompt injected into each agent
// run: the step's system prompt, the issue fields, and — when the task
// has any — the chronological comment thread.
//
// Output shape:
//
//	<system_prompt>
//	...
//	</system_prompt>
//
//	<issue>
//	Task ID: ...
//	...
//	</issue>
//
//	<comments>
//	[role] timestamp: content
//	</comments>
func BuildPrompt(task *board.Task, stepName, systemPrompt string, comments []board.Comment) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("<system_prompt>\n%s\n</system_prompt>", systemPrompt))

	issueLines := []string{
		"Task ID: " + task.ID,
		"Project ID: " + task.ProjectID,
		"Parent Task ID: " + deref(task.ParentTaskID),
		"Title: " + task.Title,
		"Description: " + task.Description,
		"Step: " + stepName,
		"Branch: " + deref(task.Branch),
		"Worktree: " + deref(task.WorktreePath),
	}
	parts = append(parts, fmt.Sprintf("<issue>\n%s\n</issue>", strings.Join(issueLines, "\n")))

	if len(comments) > 0 {
		commentLines := make([]string, len(comments))
		for i, c := range comments {
			commentLines[i] = fmt.Sprintf("[%s] %s: %s",
				c.AuthorRole, c.CreatedAt.UTC().Format(time.RFC3339), c.Content)
		}
		parts = append(parts, fmt.Sprintf("<comments>\n%s\n</comments>", strings.Join(commentLines, "\n")))
	}

	return strings.Join(parts, "\n\n")
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
