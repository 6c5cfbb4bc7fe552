/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Seednode/estimate/internal/store"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 5
	maxCodeAttempts = 16
)

// newRoomCode draws a code uniformly from codeAlphabet.
func newRoomCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))

	out := make([]byte, codeLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}

		out[i] = codeAlphabet[n.Int64()]
	}

	return string(out), nil
}

// NormalizeCode upper-cases and trims a user supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RoomUpdate lists the room fields that may change after creation. Nil
// fields are left alone; a pointer to "" clears the current task.
type RoomUpdate struct {
	CardSet        []string
	AnonymousVotes *bool
	CurrentTaskID  *string
	IsRevealed     *bool
}

// Registry owns the room lifecycle. It is constructed once per process
// and shared by every manager.
type Registry struct {
	store store.Store
	codes func() (string, error)
	ids   func() string
	now   func() time.Time
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{
		store: s,
		codes: newRoomCode,
		ids:   uuid.NewString,
		now:   time.Now,
	}
}

// Tx runs fn in one store transaction. Errors that are not already
// classified come back as storage errors.
func (r *Registry) Tx(ctx context.Context, fn func(tx store.Records) error) error {
	err := r.store.Tx(ctx, fn)
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return storageError("transaction", err)
}

// Create stores an empty room under a fresh code, retrying when the code
// is already taken.
func (r *Registry) Create(tx store.Records, name string, cardSet []string, anonymousVotes bool) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	cardSet, err := normaliseCardSet(cardSet)
	if err != nil {
		return nil, err
	}

	now := r.now()

	for range maxCodeAttempts {
		code, err := r.codes()
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: "could not generate a room code", Err: err}
		}

		err = tx.CreateRoom(store.Room{
			Code:           code,
			Name:           name,
			CardSet:        cardSet,
			AnonymousVotes: anonymousVotes,
			CreatedAt:      now,
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}

		if err != nil {
			return nil, storageError("create room", err)
		}

		return &Room{
			Code:           code,
			Name:           name,
			CardSet:        cardSet,
			AnonymousVotes: anonymousVotes,
			CreatedAt:      now,
		}, nil
	}

	return nil, newError(KindInternal, "could not allocate a room code")
}

// Get assembles the room aggregate for code.
func (r *Registry) Get(tx store.Records, code string) (*Room, error) {
	code = NormalizeCode(code)

	rec, err := tx.GetRoom(code)
	if err != nil {
		return nil, notFound("get room", err, ErrRoomNotFound)
	}

	room := &Room{
		Code:           rec.Code,
		Name:           rec.Name,
		CardSet:        rec.CardSet,
		AnonymousVotes: rec.AnonymousVotes,
		CurrentTaskID:  rec.CurrentTaskID,
		IsRevealed:     rec.IsRevealed,
		CreatedAt:      rec.CreatedAt,
	}

	participants, err := tx.ListParticipants(code)
	if err != nil {
		return nil, storageError("list participants", err)
	}

	for _, p := range participants {
		room.Participants = append(room.Participants, participantFromRecord(p))
	}

	tasks, err := tx.ListTasks(code)
	if err != nil {
		return nil, storageError("list tasks", err)
	}

	for _, t := range tasks {
		task, err := taskFromRecord(t)
		if err != nil {
			return nil, storageError("decode task "+t.ID, err)
		}

		room.Tasks = append(room.Tasks, task)
	}

	estimates, err := tx.ListEstimates(code)
	if err != nil {
		return nil, storageError("list estimates", err)
	}

	for _, e := range estimates {
		if task := room.Task(e.TaskID); task != nil {
			task.Estimates[e.ParticipantID] = e.Estimate
		}
	}

	return room, nil
}

// Lookup loads a room in its own transaction.
func (r *Registry) Lookup(ctx context.Context, code string) (*Room, error) {
	var room *Room

	err := r.Tx(ctx, func(tx store.Records) error {
		var err error
		room, err = r.Get(tx, code)

		return err
	})

	return room, err
}

func (r *Registry) Delete(tx store.Records, code string) error {
	if err := tx.DeleteRoom(NormalizeCode(code)); err != nil {
		return notFound("delete room", err, ErrRoomNotFound)
	}

	return nil
}

// Update applies u to both the stored room and the loaded aggregate.
func (r *Registry) Update(tx store.Records, room *Room, u RoomUpdate) error {
	if u.CardSet != nil {
		cardSet, err := normaliseCardSet(u.CardSet)
		if err != nil {
			return err
		}

		u.CardSet = cardSet
	}

	if u.CurrentTaskID != nil && *u.CurrentTaskID != "" && room.Task(*u.CurrentTaskID) == nil {
		return ErrTaskNotFound
	}

	err := tx.UpdateRoom(room.Code, store.RoomPatch{
		CardSet:        u.CardSet,
		AnonymousVotes: u.AnonymousVotes,
		CurrentTaskID:  u.CurrentTaskID,
		IsRevealed:     u.IsRevealed,
	})
	if err != nil {
		return notFound("update room", err, ErrRoomNotFound)
	}

	if u.CardSet != nil {
		room.CardSet = u.CardSet
	}
	if u.AnonymousVotes != nil {
		room.AnonymousVotes = *u.AnonymousVotes
	}
	if u.CurrentTaskID != nil {
		room.CurrentTaskID = *u.CurrentTaskID
	}
	if u.IsRevealed != nil {
		room.IsRevealed = *u.IsRevealed
	}

	return nil
}

func participantFromRecord(p store.Participant) *Participant {
	return &Participant{
		ID:              p.ID,
		ConnectionID:    p.ConnectionID,
		Name:            p.Name,
		Role:            Role(p.Role),
		Mode:            Mode(p.Mode),
		CurrentEstimate: p.CurrentEstimate,
		JoinedAt:        p.JoinedAt,
	}
}

func participantRecord(code string, p *Participant) store.Participant {
	return store.Participant{
		ID:              p.ID,
		ConnectionID:    p.ConnectionID,
		RoomCode:        code,
		Name:            p.Name,
		Role:            string(p.Role),
		Mode:            string(p.Mode),
		CurrentEstimate: p.CurrentEstimate,
		JoinedAt:        p.JoinedAt,
	}
}

func taskFromRecord(t store.Task) (*Task, error) {
	task := &Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		Estimates:   make(map[string]string),
	}

	if t.FinalEstimate != nil {
		final, err := ParseFinalEstimate(*t.FinalEstimate)
		if err != nil {
			return nil, err
		}

		task.FinalEstimate = final
	}

	return task, nil
}

func taskRecord(code string, t *Task) store.Task {
	rec := store.Task{
		ID:          t.ID,
		RoomCode:    code,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}

	if t.FinalEstimate != nil {
		s := t.FinalEstimate.String()
		rec.FinalEstimate = &s
	}

	return rec
}

func ptr[T any](v T) *T {
	return &v
}
