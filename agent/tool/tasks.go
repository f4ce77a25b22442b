package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// TaskView is the prompt-safe rendering of a task.
type TaskView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewOf(t *contractx.Task) TaskView {
	return TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

type AddTaskResult struct {
	Task TaskView `json:"task"`
}

type ListTasksResult struct {
	Status contractx.TaskStatus `json:"status"`
	Count  int                  `json:"count"`
	Tasks  []TaskView           `json:"tasks"`
}

type CompleteTaskResult struct {
	Task             TaskView `json:"task"`
	AlreadyCompleted bool     `json:"already_completed"`
}

type DeleteTaskResult struct {
	TaskID  int64  `json:"task_id"`
	Title   string `json:"title"`
	Deleted bool   `json:"deleted"`
}

type UpdateTaskResult struct {
	Task    TaskView `json:"task"`
	Changed []string `json:"changed"`
}

/* --------------------------------- add ---------------------------------- */

type addTaskParams struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

func addTaskOperation() operation[addTaskParams] {
	return operation[addTaskParams]{
		def: Definition{
			Name:        ToolAddTask,
			Description: "Create a new task for the user.",
			Params: map[string]*schema.ParameterInfo{
				"title":       {Type: schema.String, Desc: "Task title, 1-255 characters", Required: true},
				"description": {Type: schema.String, Desc: "Optional details, up to 1000 characters"},
			},
		},
		validate: func(p *addTaskParams) error {
			p.Title = cleanText(p.Title)
			if err := validateTitle("title", p.Title); err != nil {
				return err
			}
			if p.Description != nil {
				desc := cleanText(*p.Description)
				if desc == "" {
					p.Description = nil
				} else {
					p.Description = &desc
				}
			}
			return validateDescription(p.Description)
		},
		run: func(ctx context.Context, repo contractx.TaskRepository, userID string, p addTaskParams) (any, error) {
			task, err := repo.Create(ctx, userID, p.Title, p.Description)
			if err != nil {
				return nil, err
			}
			return AddTaskResult{Task: viewOf(task)}, nil
		},
	}
}

/* --------------------------------- list --------------------------------- */

type listTasksParams struct {
	Status contractx.TaskStatus `json:"status,omitempty"`
}

func listTasksOperation() operation[listTasksParams] {
	return operation[listTasksParams]{
		def: Definition{
			Name:        ToolListTasks,
			Description: "List the user's tasks, newest first.",
			Params: map[string]*schema.ParameterInfo{
				"status": {
					Type: schema.String,
					Desc: "Filter by status (default all)",
					Enum: []string{
						string(contractx.TaskStatusAll),
						string(contractx.TaskStatusCompleted),
						string(contractx.TaskStatusIncomplete),
					},
				},
			},
		},
		validate: func(p *listTasksParams) error {
			p.Status = contractx.TaskStatus(strings.ToLower(strings.TrimSpace(string(p.Status))))
			if p.Status == "" {
				p.Status = contractx.TaskStatusAll
			}
			if !p.Status.Valid() {
				return fmt.Errorf("%w: status must be one of all, completed, incomplete", contractx.ErrInvalidInput)
			}
			return nil
		},
		run: func(ctx context.Context, repo contractx.TaskRepository, userID string, p listTasksParams) (any, error) {
			tasks, err := repo.ListByUser(ctx, userID, p.Status)
			if err != nil {
				return nil, err
			}
			views := make([]TaskView, 0, len(tasks))
			for i := range tasks {
				views = append(views, viewOf(&tasks[i]))
			}
			return ListTasksResult{Status: p.Status, Count: len(views), Tasks: views}, nil
		},
	}
}

/* ------------------------------- complete ------------------------------- */

type completeTaskParams struct {
	TaskID *TaskID `json:"task_id,omitempty"`
	Title  string  `json:"title,omitempty"`
}

func completeTaskOperation() operation[completeTaskParams] {
	return operation[completeTaskParams]{
		def: Definition{
			Name:        ToolCompleteTask,
			Description: "Mark one task as completed. Identify it by task_id, or by a title fragment that matches exactly one task.",
			Params: map[string]*schema.ParameterInfo{
				"task_id": {Type: schema.Integer, Desc: "Id of the task"},
				"title":   {Type: schema.String, Desc: "Title fragment, used only when task_id is unknown"},
			},
		},
		validate: func(p *completeTaskParams) error {
			p.Title = cleanText(p.Title)
			return validateTaskRef(p.TaskID, "title", p.Title)
		},
		run: func(ctx context.Context, repo contractx.TaskRepository, userID string, p completeTaskParams) (any, error) {
			id, err := resolveTask(ctx, repo, userID, p.TaskID, p.Title)
			if err != nil {
				return nil, err
			}
			task, already, err := repo.MarkComplete(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			return CompleteTaskResult{Task: viewOf(task), AlreadyCompleted: already}, nil
		},
	}
}

/* -------------------------------- delete -------------------------------- */

type deleteTaskParams struct {
	TaskID *TaskID `json:"task_id,omitempty"`
	Title  string  `json:"title,omitempty"`
}

func deleteTaskOperation() operation[deleteTaskParams] {
	return operation[deleteTaskParams]{
		def: Definition{
			Name:        ToolDeleteTask,
			Description: "Permanently delete one task. Identify it by task_id, or by a title fragment that matches exactly one task.",
			Params: map[string]*schema.ParameterInfo{
				"task_id": {Type: schema.Integer, Desc: "Id of the task"},
				"title":   {Type: schema.String, Desc: "Title fragment, used only when task_id is unknown"},
			},
		},
		validate: func(p *deleteTaskParams) error {
			p.Title = cleanText(p.Title)
			return validateTaskRef(p.TaskID, "title", p.Title)
		},
		run: func(ctx context.Context, repo contractx.TaskRepository, userID string, p deleteTaskParams) (any, error) {
			id, err := resolveTask(ctx, repo, userID, p.TaskID, p.Title)
			if err != nil {
				return nil, err
			}
			task, err := repo.Delete(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			return DeleteTaskResult{TaskID: task.ID, Title: task.Title, Deleted: true}, nil
		},
	}
}

/* -------------------------------- update -------------------------------- */

type updateTaskParams struct {
	TaskID      *TaskID `json:"task_id,omitempty"`
	OldTitle    string  `json:"old_title,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func updateTaskOperation() operation[updateTaskParams] {
	return operation[updateTaskParams]{
		def: Definition{
			Name:        ToolUpdateTask,
			Description: "Rename a task or change its description. Identify it by task_id, or by old_title when the id is unknown.",
			Params: map[string]*schema.ParameterInfo{
				"task_id":     {Type: schema.Integer, Desc: "Id of the task"},
				"old_title":   {Type: schema.String, Desc: "Current title fragment, used only when task_id is unknown"},
				"title":       {Type: schema.String, Desc: "New title, 1-255 characters"},
				"description": {Type: schema.String, Desc: "New description, up to 1000 characters"},
			},
		},
		validate: func(p *updateTaskParams) error {
			p.OldTitle = cleanText(p.OldTitle)
			if err := validateTaskRef(p.TaskID, "old_title", p.OldTitle); err != nil {
				return err
			}
			if p.Title == nil && p.Description == nil {
				return fmt.Errorf("%w: title or description is required", contractx.ErrInvalidInput)
			}
			if p.Title != nil {
				title := cleanText(*p.Title)
				if err := validateTitle("title", title); err != nil {
					return err
				}
				p.Title = &title
			}
			if p.Description != nil {
				desc := cleanText(*p.Description)
				p.Description = &desc
			}
			return validateDescription(p.Description)
		},
		run: func(ctx context.Context, repo contractx.TaskRepository, userID string, p updateTaskParams) (any, error) {
			id, err := resolveTask(ctx, repo, userID, p.TaskID, p.OldTitle)
			if err != nil {
				return nil, err
			}
			task, err := repo.Update(ctx, userID, id, contractx.TaskPatch{
				Title:       p.Title,
				Description: p.Description,
			})
			if err != nil {
				return nil, err
			}
			changed := make([]string, 0, 2)
			if p.Title != nil {
				changed = append(changed, "title")
			}
			if p.Description != nil {
				changed = append(changed, "description")
			}
			return UpdateTaskResult{Task: viewOf(task), Changed: changed}, nil
		},
	}
}

// resolveTask picks the task id, falling back to a unique title match.
func resolveTask(
	ctx context.Context,
	repo contractx.TaskRepository,
	userID string,
	id *TaskID,
	title string,
) (int64, error) {
	if id != nil {
		return int64(*id), nil
	}

	matches, err := repo.FindByTitle(ctx, userID, title)
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("%w: task not found", contractx.ErrNotFound)
	case 1:
		return matches[0].ID, nil
	default:
		refs := make([]contractx.TaskRef, 0, len(matches))
		for _, m := range matches {
			refs = append(refs, contractx.TaskRef{ID: m.ID, Title: m.Title, Completed: m.Completed})
		}
		return 0, &contractx.AmbiguousError{Query: title, Candidates: refs}
	}
}
