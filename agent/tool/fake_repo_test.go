package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]contractx.Task
	calls  map[string]int
	now    time.Time
	err    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nextID: 1,
		tasks:  make(map[int64]contractx.Task),
		calls:  make(map[string]int),
		now:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (r *fakeRepo) seed(userID, title string, completed bool) contractx.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := contractx.Task{
		ID:        r.nextID,
		UserID:    userID,
		Title:     title,
		Completed: completed,
		CreatedAt: r.now.Add(time.Duration(r.nextID) * time.Second),
		UpdatedAt: r.now.Add(time.Duration(r.nextID) * time.Second),
	}
	r.tasks[t.ID] = t
	r.nextID++
	return t
}

func (r *fakeRepo) owned(userID string, id int64) (contractx.Task, error) {
	t, ok := r.tasks[id]
	if !ok || t.UserID != userID {
		return contractx.Task{}, fmt.Errorf("%w: task %d", contractx.ErrNotFound, id)
	}
	return t, nil
}

func (r *fakeRepo) Create(_ context.Context, userID, title string, description *string) (*contractx.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["create"]++
	if r.err != nil {
		return nil, r.err
	}
	t := contractx.Task{
		ID:          r.nextID,
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   r.now,
		UpdatedAt:   r.now,
	}
	r.tasks[t.ID] = t
	r.nextID++
	return &t, nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID string, status contractx.TaskStatus) ([]contractx.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["list"]++
	if r.err != nil {
		return nil, r.err
	}
	out := []contractx.Task{}
	for _, t := range r.tasks {
		if t.UserID != userID {
			continue
		}
		if status == contractx.TaskStatusCompleted && !t.Completed {
			continue
		}
		if status == contractx.TaskStatusIncomplete && t.Completed {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeRepo) MarkComplete(_ context.Context, userID string, taskID int64) (*contractx.Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["complete"]++
	if r.err != nil {
		return nil, false, r.err
	}
	t, err := r.owned(userID, taskID)
	if err != nil {
		return nil, false, err
	}
	if t.Completed {
		return &t, true, nil
	}
	t.Completed = true
	t.UpdatedAt = r.now.Add(time.Hour)
	r.tasks[t.ID] = t
	return &t, false, nil
}

func (r *fakeRepo) Delete(_ context.Context, userID string, taskID int64) (*contractx.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["delete"]++
	if r.err != nil {
		return nil, r.err
	}
	t, err := r.owned(userID, taskID)
	if err != nil {
		return nil, err
	}
	delete(r.tasks, taskID)
	return &t, nil
}

func (r *fakeRepo) Update(_ context.Context, userID string, taskID int64, patch contractx.TaskPatch) (*contractx.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["update"]++
	if r.err != nil {
		return nil, r.err
	}
	t, err := r.owned(userID, taskID)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = patch.Description
	}
	t.UpdatedAt = r.now.Add(time.Hour)
	r.tasks[t.ID] = t
	return &t, nil
}

func (r *fakeRepo) FindByTitle(_ context.Context, userID string, fragment string) ([]contractx.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["find"]++
	if r.err != nil {
		return nil, r.err
	}
	needle := strings.ToLower(fragment)
	out := []contractx.Task{}
	for _, t := range r.tasks {
		if t.UserID == userID && strings.Contains(strings.ToLower(t.Title), needle) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}
