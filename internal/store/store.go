/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store holds the durable records behind every estimation room.
//
// The store knows nothing about voting rules: it exposes record-level
// CRUD keyed by id, listing by room code, and a handful of bulk deletes.
// All aggregation happens in the caller. Every access runs inside Tx, so
// a failed action never leaves half of its writes behind.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type Room struct {
	Code           string
	Name           string
	CardSet        []string
	AnonymousVotes bool
	CurrentTaskID  string
	IsRevealed     bool
	CreatedAt      time.Time
}

type Participant struct {
	ID              string
	ConnectionID    string
	RoomCode        string
	Name            string
	Role            string
	Mode            string
	CurrentEstimate *string
	JoinedAt        time.Time
}

type Task struct {
	ID            string
	RoomCode      string
	Title         string
	Description   *string
	FinalEstimate *string
	CreatedAt     time.Time
}

// Estimate is keyed by the (TaskID, ParticipantID) pair.
type Estimate struct {
	TaskID        string
	ParticipantID string
	Estimate      string
}

// RoomPatch lists the mutable room fields. Nil fields are left alone; a
// pointer to "" in CurrentTaskID clears the current task.
type RoomPatch struct {
	CardSet        []string
	AnonymousVotes *bool
	CurrentTaskID  *string
	IsRevealed     *bool
}

// Records is the CRUD surface available inside a transaction.
type Records interface {
	CreateRoom(room Room) error
	GetRoom(code string) (Room, error)
	// ListRoomCodes returns every stored room code, oldest first.
	ListRoomCodes() ([]string, error)
	UpdateRoom(code string, patch RoomPatch) error
	// DeleteRoom removes the room along with its participants, tasks and
	// estimates.
	DeleteRoom(code string) error

	CreateParticipant(p Participant) error
	GetParticipantByConnection(connectionID string) (Participant, error)
	ListParticipants(roomCode string) ([]Participant, error)
	UpdateParticipant(p Participant) error
	ClearCurrentEstimates(roomCode string) error
	DeleteParticipant(id string) error

	CreateTask(t Task) error
	ListTasks(roomCode string) ([]Task, error)
	UpdateTask(t Task) error
	DeleteTask(id string) error

	UpsertEstimate(e Estimate) error
	ListEstimates(roomCode string) ([]Estimate, error)
	DeleteEstimate(taskID, participantID string) error
	DeleteTaskEstimates(taskID string) error
	DeleteParticipantEstimates(participantID string) error
}

type Store interface {
	// Tx runs fn against the records atomically. When fn returns an
	// error, every write it made is discarded and the error is returned
	// unchanged.
	Tx(ctx context.Context, fn func(Records) error) error
	Close() error
}
