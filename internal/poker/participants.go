/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"slices"
	"strings"

	"github.com/Seednode/estimate/internal/store"
)

// Participants manages room membership and roles.
type Participants struct {
	registry *Registry
}

func NewParticipants(r *Registry) *Participants {
	return &Participants{registry: r}
}

// Add creates a participant. Only the room creator is added as manager;
// mode is ignored for everyone else.
func (m *Participants) Add(tx store.Records, room *Room, connectionID, name string, role Role, mode Mode) (*Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	if !role.valid() {
		return nil, ErrInvalidRole
	}

	if role == RoleManager {
		if mode != ModeSpectator {
			mode = ModeParticipant
		}
	} else {
		mode = ""
	}

	p := &Participant{
		ID:           m.registry.ids(),
		ConnectionID: connectionID,
		Name:         name,
		Role:         role,
		Mode:         mode,
		JoinedAt:     m.registry.now(),
	}

	if err := tx.CreateParticipant(participantRecord(room.Code, p)); err != nil {
		return nil, notFound("create participant", err, ErrRoomNotFound)
	}

	room.Participants = append(room.Participants, p)

	return p, nil
}

// Remove deletes a participant and every estimate they recorded in the
// room.
func (m *Participants) Remove(tx store.Records, room *Room, id string) error {
	if room.Participant(id) == nil {
		return ErrParticipantNotFound
	}

	if err := tx.DeleteParticipantEstimates(id); err != nil {
		return storageError("delete participant estimates", err)
	}

	if err := tx.DeleteParticipant(id); err != nil {
		return notFound("delete participant", err, ErrParticipantNotFound)
	}

	room.Participants = slices.DeleteFunc(room.Participants, func(p *Participant) bool {
		return p.ID == id
	})

	for _, t := range room.Tasks {
		delete(t.Estimates, id)
	}

	return nil
}

// ChangeRole moves a non-manager between participant and spectator. Mode
// is only written when supplied.
func (m *Participants) ChangeRole(tx store.Records, room *Room, id string, role Role, mode *Mode) (*Participant, error) {
	p := room.Participant(id)
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	if p.Role == RoleManager {
		return nil, ErrManagerRoleLocked
	}

	if role != RoleParticipant && role != RoleSpectator {
		return nil, ErrInvalidRole
	}

	if mode != nil && *mode != ModeParticipant && *mode != ModeSpectator {
		return nil, ErrInvalidRole
	}

	updated := *p
	updated.Role = role
	if mode != nil {
		updated.Mode = *mode
	}

	if err := m.update(tx, room, &updated); err != nil {
		return nil, err
	}

	*p = updated

	return p, nil
}

func (m *Participants) Rename(tx store.Records, room *Room, id, name string) (*Participant, error) {
	p := room.Participant(id)
	if p == nil {
		return nil, ErrParticipantNotFound
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	updated := *p
	updated.Name = name

	if err := m.update(tx, room, &updated); err != nil {
		return nil, err
	}

	*p = updated

	return p, nil
}

// TransferManager hands the manager role from one participant to
// another. The new manager keeps voting if they voted before; the old
// manager returns to the role matching their mode.
func (m *Participants) TransferManager(tx store.Records, room *Room, fromID, toID string) (from, to *Participant, err error) {
	from = room.Participant(fromID)
	if from == nil {
		return nil, nil, ErrParticipantNotFound
	}

	if from.Role != RoleManager {
		return nil, nil, forbidden("transfer the manager role")
	}

	if fromID == toID {
		return nil, nil, ErrSelfTransfer
	}

	to = room.Participant(toID)
	if to == nil {
		return nil, nil, ErrParticipantNotFound
	}

	if to.Role == RoleManager {
		return nil, nil, ErrAlreadyManager
	}

	promoted := *to
	promoted.Mode = modeFromRole(to.Role)
	promoted.Role = RoleManager

	demoted := *from
	demoted.Role = roleFromMode(from.Mode)
	demoted.Mode = ""

	if err := m.update(tx, room, &promoted); err != nil {
		return nil, nil, err
	}

	if err := m.update(tx, room, &demoted); err != nil {
		return nil, nil, err
	}

	*to = promoted
	*from = demoted

	return from, to, nil
}

func (m *Participants) FindByConnection(room *Room, connectionID string) (*Participant, error) {
	if p := room.ParticipantByConnection(connectionID); p != nil {
		return p, nil
	}

	return nil, ErrParticipantNotFound
}

// PromoteRandom makes pick(n) of the remaining participants manager. It
// returns nil when the room is empty.
func (m *Participants) PromoteRandom(tx store.Records, room *Room, pick func(n int) int) (*Participant, error) {
	if len(room.Participants) == 0 {
		return nil, nil
	}

	p := room.Participants[pick(len(room.Participants))]

	promoted := *p
	promoted.Mode = modeFromRole(p.Role)
	promoted.Role = RoleManager

	if err := m.update(tx, room, &promoted); err != nil {
		return nil, err
	}

	*p = promoted

	return p, nil
}

// clearEstimates drops every participant's current vote.
func (m *Participants) clearEstimates(tx store.Records, room *Room) error {
	if err := tx.ClearCurrentEstimates(room.Code); err != nil {
		return storageError("clear current estimates", err)
	}

	for _, p := range room.Participants {
		p.CurrentEstimate = nil
	}

	return nil
}

func (m *Participants) update(tx store.Records, room *Room, p *Participant) error {
	if err := tx.UpdateParticipant(participantRecord(room.Code, p)); err != nil {
		return notFound("update participant", err, ErrParticipantNotFound)
	}

	return nil
}
