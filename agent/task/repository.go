package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	databasex "github.com/tanpawarit/Chative-Task-Chat/pkg/database"
	"github.com/uptrace/bun"
)

type taskRow struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      string    `bun:"user_id,notnull"`
	Title       string    `bun:"title,notnull"`
	Description *string   `bun:"description"`
	Completed   bool      `bun:"completed,notnull,default:false"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (r *taskRow) toTask() *contractx.Task {
	return &contractx.Task{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

var _ contractx.TaskRepository = (*Repository)(nil)

// Repository stores tasks. Every query is scoped by user id; a task owned by
// someone else is indistinguishable from a missing one.
type Repository struct {
	db  bun.IDB
	now func() time.Time
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if err := databasex.CreateTables(ctx, r.db, (*taskRow)(nil)); err != nil {
		return err
	}
	_, err := r.db.NewCreateIndex().
		Model((*taskRow)(nil)).
		Index("idx_tasks_user_created").
		Column("user_id", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create tasks index: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, userID, title string, description *string) (*contractx.Task, error) {
	now := r.now()
	row := &taskRow{
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return row.toTask(), nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, status contractx.TaskStatus) ([]contractx.Task, error) {
	var rows []taskRow
	q := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, id DESC")
	switch status {
	case contractx.TaskStatusCompleted:
		q = q.Where("completed = ?", true)
	case contractx.TaskStatusIncomplete:
		q = q.Where("completed = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]contractx.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, *rows[i].toTask())
	}
	return tasks, nil
}

// MarkComplete sets completed=true once. A second call returns the stored
// task unchanged and reports already=true.
func (r *Repository) MarkComplete(ctx context.Context, userID string, taskID int64) (*contractx.Task, bool, error) {
	res, err := r.db.NewUpdate().
		Model((*taskRow)(nil)).
		Set("completed = ?", true).
		Set("updated_at = ?", r.now()).
		Where("id = ?", taskID).
		Where("user_id = ?", userID).
		Where("completed = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("complete task: %w", err)
	}

	row, err := r.get(ctx, userID, taskID)
	if err != nil {
		return nil, false, err
	}
	return row.toTask(), n == 0, nil
}

func (r *Repository) Delete(ctx context.Context, userID string, taskID int64) (*contractx.Task, error) {
	row, err := r.get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	res, err := r.db.NewDelete().
		Model((*taskRow)(nil)).
		Where("id = ?", taskID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: task %d", contractx.ErrNotFound, taskID)
	}
	return row.toTask(), nil
}

func (r *Repository) Update(ctx context.Context, userID string, taskID int64, patch contractx.TaskPatch) (*contractx.Task, error) {
	if patch.Title == nil && patch.Description == nil {
		return nil, fmt.Errorf("%w: nothing to update", contractx.ErrInvalidInput)
	}

	q := r.db.NewUpdate().
		Model((*taskRow)(nil)).
		Set("updated_at = ?", r.now()).
		Where("id = ?", taskID).
		Where("user_id = ?", userID)
	if patch.Title != nil {
		q = q.Set("title = ?", *patch.Title)
	}
	if patch.Description != nil {
		if *patch.Description == "" {
			q = q.Set("description = NULL")
		} else {
			q = q.Set("description = ?", *patch.Description)
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: task %d", contractx.ErrNotFound, taskID)
	}

	row, err := r.get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	return row.toTask(), nil
}

// FindByTitle returns the user's tasks whose title contains fragment,
// ignoring case, oldest first.
func (r *Repository) FindByTitle(ctx context.Context, userID string, fragment string) ([]contractx.Task, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return []contractx.Task{}, nil
	}

	var rows []taskRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("LOWER(title) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(fragment))+"%").
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find tasks by title: %w", err)
	}

	tasks := make([]contractx.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, *rows[i].toTask())
	}
	return tasks, nil
}

func (r *Repository) get(ctx context.Context, userID string, taskID int64) (*taskRow, error) {
	row := new(taskRow)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", taskID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %d", contractx.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return row, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
