/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Memory keeps every record in process. Listings come back in insertion
// order because the slices are only ever appended to or filtered.
type Memory struct {
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	rooms        map[string]Room
	participants []Participant
	tasks        []Task
	estimates    []Estimate
}

func NewMemory() *Memory {
	return &Memory{
		data: memoryData{
			rooms: make(map[string]Room),
		},
	}
}

func (m *Memory) Tx(ctx context.Context, fn func(Records) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()

	if err := fn(&memoryRecords{d: &m.data}); err != nil {
		m.data = snapshot

		return err
	}

	return nil
}

func (m *Memory) Close() error {
	return nil
}

// clone copies every record. Stored structs are replaced wholesale on
// update, so copying the slices is enough to restore them later.
func (d memoryData) clone() memoryData {
	return memoryData{
		rooms:        maps.Clone(d.rooms),
		participants: slices.Clone(d.participants),
		tasks:        slices.Clone(d.tasks),
		estimates:    slices.Clone(d.estimates),
	}
}

type memoryRecords struct {
	d *memoryData
}

func (r *memoryRecords) CreateRoom(room Room) error {
	if _, exists := r.d.rooms[room.Code]; exists {
		return ErrConflict
	}

	room.CardSet = slices.Clone(room.CardSet)
	r.d.rooms[room.Code] = room

	return nil
}

func (r *memoryRecords) GetRoom(code string) (Room, error) {
	room, exists := r.d.rooms[code]
	if !exists {
		return Room{}, ErrNotFound
	}

	room.CardSet = slices.Clone(room.CardSet)

	return room, nil
}

func (r *memoryRecords) ListRoomCodes() ([]string, error) {
	rooms := slices.Collect(maps.Values(r.d.rooms))
	slices.SortFunc(rooms, func(a, b Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.Code, b.Code)
	})

	codes := make([]string, 0, len(rooms))
	for _, room := range rooms {
		codes = append(codes, room.Code)
	}

	return codes, nil
}

func (r *memoryRecords) UpdateRoom(code string, patch RoomPatch) error {
	room, exists := r.d.rooms[code]
	if !exists {
		return ErrNotFound
	}

	if patch.CardSet != nil {
		room.CardSet = slices.Clone(patch.CardSet)
	}
	if patch.AnonymousVotes != nil {
		room.AnonymousVotes = *patch.AnonymousVotes
	}
	if patch.CurrentTaskID != nil {
		room.CurrentTaskID = *patch.CurrentTaskID
	}
	if patch.IsRevealed != nil {
		room.IsRevealed = *patch.IsRevealed
	}

	r.d.rooms[code] = room

	return nil
}

func (r *memoryRecords) DeleteRoom(code string) error {
	if _, exists := r.d.rooms[code]; !exists {
		return ErrNotFound
	}

	delete(r.d.rooms, code)

	taskIDs := make(map[string]bool)
	for _, t := range r.d.tasks {
		if t.RoomCode == code {
			taskIDs[t.ID] = true
		}
	}

	r.d.participants = slices.DeleteFunc(r.d.participants, func(p Participant) bool {
		return p.RoomCode == code
	})
	r.d.tasks = slices.DeleteFunc(r.d.tasks, func(t Task) bool {
		return t.RoomCode == code
	})
	r.d.estimates = slices.DeleteFunc(r.d.estimates, func(e Estimate) bool {
		return taskIDs[e.TaskID]
	})

	return nil
}

func (r *memoryRecords) CreateParticipant(p Participant) error {
	if _, exists := r.d.rooms[p.RoomCode]; !exists {
		return ErrNotFound
	}

	for _, existing := range r.d.participants {
		if existing.ID == p.ID {
			return ErrConflict
		}
	}

	r.d.participants = append(r.d.participants, p)

	return nil
}

func (r *memoryRecords) GetParticipantByConnection(connectionID string) (Participant, error) {
	for _, p := range r.d.participants {
		if p.ConnectionID == connectionID {
			return p, nil
		}
	}

	return Participant{}, ErrNotFound
}

func (r *memoryRecords) ListParticipants(roomCode string) ([]Participant, error) {
	var out []Participant
	for _, p := range r.d.participants {
		if p.RoomCode == roomCode {
			out = append(out, p)
		}
	}

	return out, nil
}

func (r *memoryRecords) UpdateParticipant(p Participant) error {
	for i, existing := range r.d.participants {
		if existing.ID == p.ID {
			r.d.participants[i] = p

			return nil
		}
	}

	return ErrNotFound
}

func (r *memoryRecords) ClearCurrentEstimates(roomCode string) error {
	for i := range r.d.participants {
		if r.d.participants[i].RoomCode == roomCode {
			r.d.participants[i].CurrentEstimate = nil
		}
	}

	return nil
}

func (r *memoryRecords) DeleteParticipant(id string) error {
	n := len(r.d.participants)

	r.d.participants = slices.DeleteFunc(r.d.participants, func(p Participant) bool {
		return p.ID == id
	})

	if len(r.d.participants) == n {
		return ErrNotFound
	}

	return nil
}

func (r *memoryRecords) CreateTask(t Task) error {
	if _, exists := r.d.rooms[t.RoomCode]; !exists {
		return ErrNotFound
	}

	for _, existing := range r.d.tasks {
		if existing.ID == t.ID {
			return ErrConflict
		}
	}

	r.d.tasks = append(r.d.tasks, t)

	return nil
}

func (r *memoryRecords) ListTasks(roomCode string) ([]Task, error) {
	var out []Task
	for _, t := range r.d.tasks {
		if t.RoomCode == roomCode {
			out = append(out, t)
		}
	}

	return out, nil
}

func (r *memoryRecords) UpdateTask(t Task) error {
	for i, existing := range r.d.tasks {
		if existing.ID == t.ID {
			r.d.tasks[i] = t

			return nil
		}
	}

	return ErrNotFound
}

func (r *memoryRecords) DeleteTask(id string) error {
	n := len(r.d.tasks)

	r.d.tasks = slices.DeleteFunc(r.d.tasks, func(t Task) bool {
		return t.ID == id
	})

	if len(r.d.tasks) == n {
		return ErrNotFound
	}

	return nil
}

func (r *memoryRecords) UpsertEstimate(e Estimate) error {
	for i, existing := range r.d.estimates {
		if existing.TaskID == e.TaskID && existing.ParticipantID == e.ParticipantID {
			r.d.estimates[i] = e

			return nil
		}
	}

	r.d.estimates = append(r.d.estimates, e)

	return nil
}

func (r *memoryRecords) ListEstimates(roomCode string) ([]Estimate, error) {
	taskIDs := make(map[string]bool)
	for _, t := range r.d.tasks {
		if t.RoomCode == roomCode {
			taskIDs[t.ID] = true
		}
	}

	var out []Estimate
	for _, e := range r.d.estimates {
		if taskIDs[e.TaskID] {
			out = append(out, e)
		}
	}

	return out, nil
}

func (r *memoryRecords) DeleteEstimate(taskID, participantID string) error {
	n := len(r.d.estimates)

	r.d.estimates = slices.DeleteFunc(r.d.estimates, func(e Estimate) bool {
		return e.TaskID == taskID && e.ParticipantID == participantID
	})

	if len(r.d.estimates) == n {
		return ErrNotFound
	}

	return nil
}

func (r *memoryRecords) DeleteTaskEstimates(taskID string) error {
	r.d.estimates = slices.DeleteFunc(r.d.estimates, func(e Estimate) bool {
		return e.TaskID == taskID
	})

	return nil
}

func (r *memoryRecords) DeleteParticipantEstimates(participantID string) error {
	r.d.estimates = slices.DeleteFunc(r.d.estimates, func(e Estimate) bool {
		return e.ParticipantID == participantID
	})

	return nil
}
