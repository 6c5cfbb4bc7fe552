/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/Seednode/estimate/internal/store"
)

// Transport delivers events to connections and tracks which connections
// listen to which room.
type Transport interface {
	Broadcast(roomCode, event string, payload any)
	Unicast(connectionID, event string, payload any)
	Subscribe(connectionID, roomCode string)
	Unsubscribe(connectionID, roomCode string)
}

type Options struct {
	// Logger receives action traces and storage failures. If nil,
	// nothing is logged.
	Logger *slog.Logger

	// Pick returns an index in [0, n). It chooses the participant
	// promoted when a manager disconnects. Defaults to a uniform draw.
	Pick func(n int) int
}

// Machine drives every room through its lifecycle. It is not safe for
// concurrent use; callers serialise actions through a single loop.
type Machine struct {
	registry     *Registry
	participants *Participants
	tasks        *Tasks
	estimation   *Estimation

	transport Transport
	logger    *slog.Logger
	pick      func(n int) int
}

func NewMachine(registry *Registry, transport Transport, opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pick := opts.Pick
	if pick == nil {
		pick = rand.IntN
	}

	participants := NewParticipants(registry)

	return &Machine{
		registry:     registry,
		participants: participants,
		tasks:        NewTasks(registry, participants),
		estimation:   NewEstimation(registry, participants),
		transport:    transport,
		logger:       logger,
		pick:         pick,
	}
}

type deliveryKind int

const (
	deliverBroadcast deliveryKind = iota
	deliverUnicast
	deliverSubscribe
	deliverUnsubscribe
)

type delivery struct {
	kind    deliveryKind
	target  string
	room    string
	event   string
	payload any
}

// outbox collects transport calls made while an action runs. It is only
// flushed once the action's transaction has committed.
type outbox struct {
	room       string
	task       string
	deliveries []delivery
}

func (o *outbox) broadcast(code, event string, payload any) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverBroadcast, target: code, event: event, payload: payload})
}

func (o *outbox) unicast(connectionID, event string, payload any) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverUnicast, target: connectionID, event: event, payload: payload})
}

func (o *outbox) subscribe(connectionID, code string) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverSubscribe, target: connectionID, room: code})
}

func (o *outbox) unsubscribe(connectionID, code string) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverUnsubscribe, target: connectionID, room: code})
}

func (m *Machine) flush(o *outbox) {
	for _, d := range o.deliveries {
		switch d.kind {
		case deliverBroadcast:
			m.transport.Broadcast(d.target, d.event, d.payload)
		case deliverUnicast:
			m.transport.Unicast(d.target, d.event, d.payload)
		case deliverSubscribe:
			m.transport.Subscribe(d.target, d.room)
		case deliverUnsubscribe:
			m.transport.Unsubscribe(d.target, d.room)
		}
	}
}

type permission int

const (
	permMember permission = iota
	permVote
	permManage
)

// authorize is the single role check applied before any mutation.
func authorize(actor *Participant, perm permission, action string) error {
	switch perm {
	case permManage:
		if actor.Role != RoleManager {
			return forbidden(action)
		}
	case permVote:
		if !actor.CanVote() {
			return ErrCannotVote
		}
	}

	return nil
}

// Handle runs one inbound action. Any failure is reported to the
// originating connection only and returned.
func (m *Machine) Handle(ctx context.Context, connectionID, action string, payload json.RawMessage) error {
	out := &outbox{}

	if err := m.dispatch(ctx, out, connectionID, action, payload); err != nil {
		m.reject(out, connectionID, action, err)

		return err
	}

	m.flush(out)

	m.logger.Info("action applied",
		"action", action,
		"room", out.room,
		"connection", connectionID,
	)

	return nil
}

func (m *Machine) reject(out *outbox, connectionID, action string, err error) {
	kind := KindOf(err)

	if kind == KindStorage || kind == KindInternal {
		m.logger.Error("action failed",
			"action", action,
			"room", out.room,
			"task", out.task,
			"connection", connectionID,
			"error", err,
		)
	} else {
		m.logger.Info("action rejected",
			"action", action,
			"room", out.room,
			"connection", connectionID,
			"kind", kind.String(),
			"reason", Message(err),
		)
	}

	m.transport.Unicast(connectionID, EventError, MessagePayload{Message: Message(err)})
}

func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return invalidPayload(err)
	}

	return nil
}

func (m *Machine) dispatch(ctx context.Context, out *outbox, conn, action string, raw json.RawMessage) error {
	switch action {
	case ActionCreateRoom:
		var p CreateRoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.createRoom(ctx, out, conn, p)
	case ActionJoinRoom:
		var p JoinRoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.joinRoom(ctx, out, conn, p)
	case ActionRemoveParticipant:
		var p ParticipantPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.removeParticipant(ctx, out, conn, p)
	case ActionChangeParticipantRole:
		var p ChangeRolePayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.changeParticipantRole(ctx, out, conn, p)
	case ActionChangeParticipantName:
		var p ChangeNamePayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.changeParticipantName(ctx, out, conn, p)
	case ActionChangeOwnName:
		var p ChangeNamePayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.changeOwnName(ctx, out, conn, p)
	case ActionChangeCardSet:
		var p ChangeCardSetPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.changeCardSet(ctx, out, conn, p)
	case ActionChangeAnonymousVotes:
		var p ChangeAnonymousVotesPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.changeAnonymousVotes(ctx, out, conn, p)
	case ActionTransferManagerRole:
		var p ParticipantPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.transferManagerRole(ctx, out, conn, p)
	case ActionCreateTask:
		var p CreateTaskPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.createTask(ctx, out, conn, p)
	case ActionDeleteTask:
		var p TaskPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.deleteTask(ctx, out, conn, p)
	case ActionSelectTask:
		var p TaskPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.selectTask(ctx, out, conn, p)
	case ActionEstimateTask:
		var p EstimateTaskPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.estimateTask(ctx, out, conn, p)
	case ActionRevealEstimates:
		var p RoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.revealEstimates(ctx, out, conn, p)
	case ActionHideEstimates:
		var p RoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.hideEstimates(ctx, out, conn, p)
	case ActionResetEstimates:
		var p RoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.resetEstimates(ctx, out, conn, p)
	case ActionPreviewFinalEstimate:
		var p FinalEstimatePayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.previewFinalEstimate(ctx, out, conn, p)
	case ActionSetFinalEstimate:
		var p FinalEstimatePayload
		if err := decode(raw, &p); err != nil {
			return err
		}

		return m.setFinalEstimate(ctx, out, conn, p)
	case ActionDisconnect:
		return m.disconnect(ctx, out, conn)
	default:
		return ErrUnknownAction
	}
}

// act loads the room, resolves the acting participant, checks perm and
// runs fn, all inside one transaction.
func (m *Machine) act(ctx context.Context, out *outbox, conn, code string, perm permission, action string, fn func(tx store.Records, room *Room, actor *Participant) error) error {
	return m.registry.Tx(ctx, func(tx store.Records) error {
		if code == "" {
			rec, err := tx.GetParticipantByConnection(conn)
			if err != nil {
				return notFound("find participant", err, ErrNotMember)
			}

			code = rec.RoomCode
		}

		out.room = NormalizeCode(code)

		room, err := m.registry.Get(tx, code)
		if err != nil {
			return err
		}

		actor, err := m.participants.FindByConnection(room, conn)
		if err != nil {
			return ErrNotMember
		}

		if err := authorize(actor, perm, action); err != nil {
			return err
		}

		return fn(tx, room, actor)
	})
}

// ensureUnattached rejects connections that already belong to a room.
func ensureUnattached(tx store.Records, conn string) error {
	_, err := tx.GetParticipantByConnection(conn)
	if err == nil {
		return ErrAlreadyInRoom
	}

	if !errors.Is(err, store.ErrNotFound) {
		return storageError("find participant", err)
	}

	return nil
}

func (m *Machine) createRoom(ctx context.Context, out *outbox, conn string, p CreateRoomPayload) error {
	cardSet, err := ParseCardSet(p.CardSet)
	if err != nil {
		return err
	}

	if p.Role != "" && p.Role != ModeParticipant && p.Role != ModeSpectator {
		return ErrInvalidRole
	}

	return m.registry.Tx(ctx, func(tx store.Records) error {
		if err := ensureUnattached(tx, conn); err != nil {
			return err
		}

		room, err := m.registry.Create(tx, p.RoomName, cardSet, p.AnonymousVotes)
		if err != nil {
			return err
		}

		out.room = room.Code

		manager, err := m.participants.Add(tx, room, conn, p.UserName, RoleManager, p.Role)
		if err != nil {
			return err
		}

		out.subscribe(conn, room.Code)
		out.unicast(conn, EventRoomCreated, RoomJoinedPayload{
			RoomView:    viewRoom(room),
			Participant: viewParticipant(room, manager),
		})

		return nil
	})
}

func (m *Machine) joinRoom(ctx context.Context, out *outbox, conn string, p JoinRoomPayload) error {
	role := p.Role
	if role == "" {
		role = RoleParticipant
	}

	if role != RoleParticipant && role != RoleSpectator {
		return ErrInvalidRole
	}

	out.room = NormalizeCode(p.RoomCode)

	return m.registry.Tx(ctx, func(tx store.Records) error {
		if err := ensureUnattached(tx, conn); err != nil {
			return err
		}

		room, err := m.registry.Get(tx, p.RoomCode)
		if err != nil {
			return err
		}

		joined, err := m.participants.Add(tx, room, conn, p.UserName, role, "")
		if err != nil {
			return err
		}

		// Existing members hear about the join before the new connection
		// is subscribed, so the joiner only receives room-joined.
		out.broadcast(room.Code, EventParticipantJoined, ParticipantEventPayload{
			Participant: viewParticipant(room, joined),
		})
		out.subscribe(conn, room.Code)
		out.unicast(conn, EventRoomJoined, RoomJoinedPayload{
			RoomView:    viewRoom(room),
			Participant: viewParticipant(room, joined),
		})

		return nil
	})
}

func (m *Machine) removeParticipant(ctx context.Context, out *outbox, conn string, p ParticipantPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "remove participants", func(tx store.Records, room *Room, _ *Participant) error {
		target := room.Participant(p.ParticipantID)
		if target == nil {
			return ErrParticipantNotFound
		}

		if target.Role == RoleManager {
			return ErrManagerProtected
		}

		if err := m.participants.Remove(tx, room, target.ID); err != nil {
			return err
		}

		out.unsubscribe(target.ConnectionID, room.Code)
		out.unicast(target.ConnectionID, EventKicked, MessagePayload{Message: kickedMessage})
		out.broadcast(room.Code, EventParticipantLeft, ParticipantLeftPayload{ParticipantID: target.ID})

		return m.closeIfEmpty(tx, room)
	})
}

func (m *Machine) changeParticipantRole(ctx context.Context, out *outbox, conn string, p ChangeRolePayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "change participant roles", func(tx store.Records, room *Room, _ *Participant) error {
		changed, err := m.participants.ChangeRole(tx, room, p.ParticipantID, p.Role, p.ParticipationMode)
		if err != nil {
			return err
		}

		out.broadcast(room.Code, EventParticipantRoleChanged, ParticipantEventPayload{
			Participant: viewParticipant(room, changed),
		})

		return nil
	})
}

func (m *Machine) changeParticipantName(ctx context.Context, out *outbox, conn string, p ChangeNamePayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "rename participants", func(tx store.Records, room *Room, _ *Participant) error {
		return m.rename(tx, out, room, p.ParticipantID, p.Name)
	})
}

func (m *Machine) changeOwnName(ctx context.Context, out *outbox, conn string, p ChangeNamePayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permMember, "change names", func(tx store.Records, room *Room, actor *Participant) error {
		return m.rename(tx, out, room, actor.ID, p.Name)
	})
}

func (m *Machine) rename(tx store.Records, out *outbox, room *Room, id, name string) error {
	renamed, err := m.participants.Rename(tx, room, id, name)
	if err != nil {
		return err
	}

	out.broadcast(room.Code, EventParticipantNameChanged, ParticipantEventPayload{
		Participant: viewParticipant(room, renamed),
	})

	return nil
}

func (m *Machine) changeCardSet(ctx context.Context, out *outbox, conn string, p ChangeCardSetPayload) error {
	cardSet, err := ParseCardSet(p.CardSet)
	if err != nil {
		return err
	}

	return m.act(ctx, out, conn, p.RoomCode, permManage, "change the card set", func(tx store.Records, room *Room, _ *Participant) error {
		if err := m.registry.Update(tx, room, RoomUpdate{CardSet: cardSet}); err != nil {
			return err
		}

		out.broadcast(room.Code, EventCardSetChanged, CardSetChangedPayload{CardSet: room.CardSet})

		return nil
	})
}

func (m *Machine) changeAnonymousVotes(ctx context.Context, out *outbox, conn string, p ChangeAnonymousVotesPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "change vote anonymity", func(tx store.Records, room *Room, _ *Participant) error {
		if err := m.registry.Update(tx, room, RoomUpdate{AnonymousVotes: ptr(p.AnonymousVotes)}); err != nil {
			return err
		}

		out.broadcast(room.Code, EventAnonymousVotesChanged, AnonymousVotesChangedPayload{AnonymousVotes: room.AnonymousVotes})

		return nil
	})
}

func (m *Machine) transferManagerRole(ctx context.Context, out *outbox, conn string, p ParticipantPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "transfer the manager role", func(tx store.Records, room *Room, actor *Participant) error {
		from, to, err := m.participants.TransferManager(tx, room, actor.ID, p.ParticipantID)
		if err != nil {
			return err
		}

		out.broadcast(room.Code, EventParticipantRoleChanged, ParticipantEventPayload{Participant: viewParticipant(room, to)})
		out.broadcast(room.Code, EventParticipantRoleChanged, ParticipantEventPayload{Participant: viewParticipant(room, from)})

		return nil
	})
}

func (m *Machine) createTask(ctx context.Context, out *outbox, conn string, p CreateTaskPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "create tasks", func(tx store.Records, room *Room, _ *Participant) error {
		task, err := m.tasks.Create(tx, room, p.Title, p.Description)
		if err != nil {
			return err
		}

		out.task = task.ID
		out.broadcast(room.Code, EventTaskCreated, TaskCreatedPayload{
			Task:          viewTask(task),
			CurrentTaskID: optional(room.CurrentTaskID),
		})

		return nil
	})
}

func (m *Machine) deleteTask(ctx context.Context, out *outbox, conn string, p TaskPayload) error {
	out.task = p.TaskID

	return m.act(ctx, out, conn, p.RoomCode, permManage, "delete tasks", func(tx store.Records, room *Room, _ *Participant) error {
		if _, err := m.tasks.Delete(tx, room, p.TaskID); err != nil {
			return err
		}

		out.broadcast(room.Code, EventTaskDeleted, TaskDeletedPayload{
			TaskID:        p.TaskID,
			CurrentTaskID: optional(room.CurrentTaskID),
		})

		return nil
	})
}

func (m *Machine) selectTask(ctx context.Context, out *outbox, conn string, p TaskPayload) error {
	out.task = p.TaskID

	return m.act(ctx, out, conn, p.RoomCode, permManage, "select tasks", func(tx store.Records, room *Room, _ *Participant) error {
		if err := m.tasks.Select(tx, room, p.TaskID); err != nil {
			return err
		}

		out.broadcast(room.Code, EventTaskSelected, TaskSelectedPayload{
			TaskID:     optional(room.CurrentTaskID),
			IsRevealed: room.IsRevealed,
		})

		return nil
	})
}

func (m *Machine) estimateTask(ctx context.Context, out *outbox, conn string, p EstimateTaskPayload) error {
	out.task = p.TaskID

	return m.act(ctx, out, conn, p.RoomCode, permVote, "vote", func(tx store.Records, room *Room, actor *Participant) error {
		estimate, err := m.estimation.CastOrClear(tx, room, actor, p.TaskID, p.Estimate)
		if err != nil {
			return err
		}

		update := EstimateUpdatedPayload{
			ParticipantID: actor.ID,
			Estimate:      estimate,
			HasVoted:      estimate != nil,
			TaskID:        room.CurrentTaskID,
		}

		if !room.AnonymousVotes {
			out.broadcast(room.Code, EventEstimateUpdated, update)

			return nil
		}

		// Anonymous rooms only learn that a vote changed; the voter gets
		// their own value back.
		hidden := update
		hidden.Estimate = nil

		out.broadcast(room.Code, EventEstimateUpdated, hidden)
		out.unicast(conn, EventEstimateUpdated, update)

		return nil
	})
}

func (m *Machine) revealEstimates(ctx context.Context, out *outbox, conn string, p RoomPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "reveal estimates", func(tx store.Records, room *Room, _ *Participant) error {
		out.task = room.CurrentTaskID

		agg, err := m.estimation.Reveal(tx, room)
		if err != nil {
			return err
		}

		payload := EstimatesRevealedPayload{
			Participants:         viewParticipants(room),
			Average:              agg.Average,
			Median:               agg.Median,
			AbstentionPercentage: agg.AbstentionPercentage,
			Recommended:          agg.Recommended,
		}

		if room.AnonymousVotes {
			payload.Votes = sortedVotes(room)
		}

		out.broadcast(room.Code, EventEstimatesRevealed, payload)

		return nil
	})
}

func (m *Machine) hideEstimates(ctx context.Context, out *outbox, conn string, p RoomPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "hide estimates", func(tx store.Records, room *Room, _ *Participant) error {
		if err := m.estimation.Hide(tx, room); err != nil {
			return err
		}

		out.broadcast(room.Code, EventEstimatesHidden, ParticipantsPayload{Participants: viewParticipants(room)})

		return nil
	})
}

func (m *Machine) resetEstimates(ctx context.Context, out *outbox, conn string, p RoomPayload) error {
	return m.act(ctx, out, conn, p.RoomCode, permManage, "reset estimates", func(tx store.Records, room *Room, _ *Participant) error {
		out.task = room.CurrentTaskID

		if err := m.estimation.Reset(tx, room); err != nil {
			return err
		}

		out.broadcast(room.Code, EventEstimatesReset, ParticipantsPayload{Participants: viewParticipants(room)})

		return nil
	})
}

// finalTarget resolves the task a final estimate applies to: the named
// task, or the current one when no id is given.
func finalTarget(room *Room, taskID string) (*Task, error) {
	if taskID == "" {
		task := room.CurrentTask()
		if task == nil {
			return nil, ErrNoCurrentTask
		}

		return task, nil
	}

	task := room.Task(taskID)
	if task == nil {
		return nil, ErrTaskNotFound
	}

	return task, nil
}

func (m *Machine) previewFinalEstimate(ctx context.Context, out *outbox, conn string, p FinalEstimatePayload) error {
	out.task = p.TaskID

	return m.act(ctx, out, conn, p.RoomCode, permManage, "preview the final estimate", func(_ store.Records, room *Room, _ *Participant) error {
		task, err := finalTarget(room, p.TaskID)
		if err != nil {
			return err
		}

		out.broadcast(room.Code, EventFinalEstimateUpdated, FinalEstimateUpdatedPayload{
			TaskID:        task.ID,
			FinalEstimate: p.FinalEstimate,
		})

		return nil
	})
}

func (m *Machine) setFinalEstimate(ctx context.Context, out *outbox, conn string, p FinalEstimatePayload) error {
	out.task = p.TaskID

	return m.act(ctx, out, conn, p.RoomCode, permManage, "set the final estimate", func(tx store.Records, room *Room, _ *Participant) error {
		task, err := finalTarget(room, p.TaskID)
		if err != nil {
			return err
		}

		task, err = m.tasks.SetFinalEstimate(tx, room, task.ID, p.FinalEstimate)
		if err != nil {
			return err
		}

		out.broadcast(room.Code, EventFinalEstimateUpdated, FinalEstimateUpdatedPayload{
			TaskID:        task.ID,
			FinalEstimate: task.FinalEstimate,
		})

		return nil
	})
}

// Disconnect removes the participant bound to a closed connection. A
// departing manager is replaced by a random remaining participant, and
// an emptied room is deleted. Connections that never joined a room are
// ignored.
func (m *Machine) Disconnect(ctx context.Context, connectionID string) error {
	return m.Handle(ctx, connectionID, ActionDisconnect, nil)
}

func (m *Machine) disconnect(ctx context.Context, out *outbox, conn string) error {
	return m.registry.Tx(ctx, func(tx store.Records) error {
		rec, err := tx.GetParticipantByConnection(conn)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		if err != nil {
			return storageError("find participant", err)
		}

		out.room = rec.RoomCode

		room, err := m.registry.Get(tx, rec.RoomCode)
		if err != nil {
			return err
		}

		leaving := room.Participant(rec.ID)
		if leaving == nil {
			return ErrParticipantNotFound
		}

		wasManager := leaving.Role == RoleManager

		if err := m.participants.Remove(tx, room, leaving.ID); err != nil {
			return err
		}

		out.unsubscribe(conn, room.Code)

		if len(room.Participants) == 0 {
			return m.closeIfEmpty(tx, room)
		}

		out.broadcast(room.Code, EventParticipantLeft, ParticipantLeftPayload{ParticipantID: leaving.ID})

		if !wasManager {
			return nil
		}

		promoted, err := m.participants.PromoteRandom(tx, room, m.pick)
		if err != nil {
			return err
		}

		out.broadcast(room.Code, EventParticipantRoleChanged, ParticipantEventPayload{
			Participant: viewParticipant(room, promoted),
		})

		m.logger.Info("manager promoted",
			"room", room.Code,
			"participant", promoted.ID,
		)

		return nil
	})
}

// closeIfEmpty deletes a room whose last participant has gone.
func (m *Machine) closeIfEmpty(tx store.Records, room *Room) error {
	if len(room.Participants) > 0 {
		return nil
	}

	if err := m.registry.Delete(tx, room.Code); err != nil {
		return err
	}

	m.logger.Info("room closed", "room", room.Code)

	return nil
}

// Recover removes every participant left over from a previous process and
// closes the rooms they held open. Connections do not survive a restart,
// so none of those participants can act again. It must run before any
// connection is accepted.
func (m *Machine) Recover(ctx context.Context) (int, error) {
	closed := 0

	err := m.registry.Tx(ctx, func(tx store.Records) error {
		codes, err := tx.ListRoomCodes()
		if err != nil {
			return storageError("list rooms", err)
		}

		for _, code := range codes {
			room, err := m.registry.Get(tx, code)
			if err != nil {
				return err
			}

			for len(room.Participants) > 0 {
				if err := m.participants.Remove(tx, room, room.Participants[0].ID); err != nil {
					return err
				}
			}

			if err := m.closeIfEmpty(tx, room); err != nil {
				return err
			}

			closed++
		}

		return nil
	})
	if err != nil {
		m.logger.Error("recovery failed", "err", err)

		return 0, err
	}

	return closed, nil
}

// Snapshot returns the current projection of a room.
func (m *Machine) Snapshot(ctx context.Context, code string) (RoomView, error) {
	room, err := m.registry.Lookup(ctx, code)
	if err != nil {
		return RoomView{}, err
	}

	return viewRoom(room), nil
}
