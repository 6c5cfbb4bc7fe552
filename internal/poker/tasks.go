/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"errors"
	"slices"
	"strings"

	"github.com/Seednode/estimate/internal/store"
)

// Tasks manages the work items of a room and the current task pointer.
type Tasks struct {
	registry     *Registry
	participants *Participants
}

func NewTasks(r *Registry, p *Participants) *Tasks {
	return &Tasks{
		registry:     r,
		participants: p,
	}
}

func (m *Tasks) Create(tx store.Records, room *Room, title string, description *string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	if description != nil {
		d := strings.TrimSpace(*description)
		if d == "" {
			description = nil
		} else {
			description = &d
		}
	}

	t := &Task{
		ID:          m.registry.ids(),
		Title:       title,
		Description: description,
		CreatedAt:   m.registry.now(),
		Estimates:   make(map[string]string),
	}

	err := tx.CreateTask(taskRecord(room.Code, t))
	if errors.Is(err, store.ErrConflict) {
		return nil, storageError("create task", err)
	}

	if err != nil {
		return nil, notFound("create task", err, ErrRoomNotFound)
	}

	room.Tasks = append(room.Tasks, t)

	return t, nil
}

// Select makes id the current task, or clears the selection when id is
// empty. Votes are hidden and every current estimate is dropped.
func (m *Tasks) Select(tx store.Records, room *Room, id string) error {
	if id != "" && room.Task(id) == nil {
		return ErrTaskNotFound
	}

	err := m.registry.Update(tx, room, RoomUpdate{
		CurrentTaskID: ptr(id),
		IsRevealed:    ptr(false),
	})
	if err != nil {
		return err
	}

	return m.participants.clearEstimates(tx, room)
}

// Delete removes a task and its estimates. Deleting the current task
// selects the first remaining one. It reports whether the selection
// moved.
func (m *Tasks) Delete(tx store.Records, room *Room, id string) (bool, error) {
	if room.Task(id) == nil {
		return false, ErrTaskNotFound
	}

	if err := tx.DeleteTaskEstimates(id); err != nil {
		return false, storageError("delete task estimates", err)
	}

	if err := tx.DeleteTask(id); err != nil {
		return false, notFound("delete task", err, ErrTaskNotFound)
	}

	room.Tasks = slices.DeleteFunc(room.Tasks, func(t *Task) bool {
		return t.ID == id
	})

	if room.CurrentTaskID != id {
		return false, nil
	}

	next := ""
	if len(room.Tasks) > 0 {
		next = room.Tasks[0].ID
	}

	return true, m.Select(tx, room, next)
}

// SetFinalEstimate records the agreed value for a task. A nil value
// clears it.
func (m *Tasks) SetFinalEstimate(tx store.Records, room *Room, id string, value *FinalEstimate) (*Task, error) {
	t := room.Task(id)
	if t == nil {
		return nil, ErrTaskNotFound
	}

	updated := *t
	updated.FinalEstimate = value

	if err := tx.UpdateTask(taskRecord(room.Code, &updated)); err != nil {
		return nil, notFound("update task", err, ErrTaskNotFound)
	}

	*t = updated

	return t, nil
}
