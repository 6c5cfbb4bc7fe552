/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"encoding/json"
	"time"
)

// Inbound actions.
const (
	ActionCreateRoom            = "create-room"
	ActionJoinRoom              = "join-room"
	ActionRemoveParticipant     = "remove-participant"
	ActionChangeParticipantRole = "change-participant-role"
	ActionChangeParticipantName = "change-participant-name"
	ActionChangeOwnName         = "change-own-name"
	ActionChangeCardSet         = "change-card-set"
	ActionChangeAnonymousVotes  = "change-anonymous-votes"
	ActionTransferManagerRole   = "transfer-manager-role"
	ActionCreateTask            = "create-task"
	ActionDeleteTask            = "delete-task"
	ActionSelectTask            = "select-task"
	ActionEstimateTask          = "estimate-task"
	ActionRevealEstimates       = "reveal-estimates"
	ActionHideEstimates         = "hide-estimates"
	ActionResetEstimates        = "reset-estimates"
	ActionPreviewFinalEstimate  = "preview-final-estimate"
	ActionSetFinalEstimate      = "set-final-estimate"
	ActionDisconnect            = "disconnect"
)

// Outbound events.
const (
	EventRoomCreated            = "room-created"
	EventRoomJoined             = "room-joined"
	EventParticipantJoined      = "participant-joined"
	EventParticipantLeft        = "participant-left"
	EventParticipantRoleChanged = "participant-role-changed"
	EventParticipantNameChanged = "participant-name-changed"
	EventCardSetChanged         = "card-set-changed"
	EventAnonymousVotesChanged  = "anonymous-votes-changed"
	EventTaskCreated            = "task-created"
	EventTaskDeleted            = "task-deleted"
	EventTaskSelected           = "task-selected"
	EventEstimateUpdated        = "estimate-updated"
	EventEstimatesRevealed      = "estimates-revealed"
	EventEstimatesHidden        = "estimates-hidden"
	EventEstimatesReset         = "estimates-reset"
	EventFinalEstimateUpdated   = "final-estimate-updated"
	EventKicked                 = "kicked"
	EventError                  = "error"
)

const kickedMessage = "you have been removed from the room by the manager"

// Action payloads. RoomCode may be left empty; the room is then the one
// the connection belongs to.

type CreateRoomPayload struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`

	// CardSet is either a comma separated string or a list of cards.
	CardSet json.RawMessage `json:"cardSet"`

	// Role is the creator's participation mode.
	Role           Mode `json:"role"`
	AnonymousVotes bool `json:"anonymousVotes"`
}

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	UserName string `json:"userName"`
	Role     Role   `json:"role"`
}

type ParticipantPayload struct {
	RoomCode      string `json:"roomCode"`
	ParticipantID string `json:"participantId"`
}

type ChangeRolePayload struct {
	RoomCode          string `json:"roomCode"`
	ParticipantID     string `json:"participantId"`
	Role              Role   `json:"role"`
	ParticipationMode *Mode  `json:"participationMode"`
}

type ChangeNamePayload struct {
	RoomCode      string `json:"roomCode"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type ChangeCardSetPayload struct {
	RoomCode string          `json:"roomCode"`
	CardSet  json.RawMessage `json:"cardSet"`
}

type ChangeAnonymousVotesPayload struct {
	RoomCode       string `json:"roomCode"`
	AnonymousVotes bool   `json:"anonymousVotes"`
}

type CreateTaskPayload struct {
	RoomCode    string  `json:"roomCode"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type TaskPayload struct {
	RoomCode string `json:"roomCode"`
	TaskID   string `json:"taskId"`
}

type EstimateTaskPayload struct {
	RoomCode string `json:"roomCode"`
	TaskID   string `json:"taskId"`
	Estimate string `json:"estimate"`
}

type RoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type FinalEstimatePayload struct {
	RoomCode      string         `json:"roomCode"`
	TaskID        string         `json:"taskId"`
	FinalEstimate *FinalEstimate `json:"finalEstimate"`
}

// Projections.

// ParticipantView is a participant as other members see it. In anonymous
// rooms CurrentEstimate is always null and HasVoted is the only vote
// signal.
type ParticipantView struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	ParticipationMode Mode      `json:"participationMode,omitempty"`
	CurrentEstimate   *string   `json:"currentEstimate"`
	HasVoted          bool      `json:"hasVoted"`
	JoinedAt          time.Time `json:"joinedAt"`
}

type TaskView struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   *string        `json:"description"`
	CreatedAt     time.Time      `json:"createdAt"`
	FinalEstimate *FinalEstimate `json:"finalEstimate"`
	VoteCount     int            `json:"voteCount"`
}

type RoomView struct {
	RoomCode       string            `json:"roomCode"`
	RoomName       string            `json:"roomName"`
	CardSet        []string          `json:"cardSet"`
	AnonymousVotes bool              `json:"anonymousVotes"`
	Participants   []ParticipantView `json:"participants"`
	Tasks          []TaskView        `json:"tasks"`
	CurrentTaskID  *string           `json:"currentTaskId"`
	IsRevealed     bool              `json:"isRevealed"`
	State          string            `json:"state"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Event payloads.

type RoomJoinedPayload struct {
	RoomView
	Participant ParticipantView `json:"participant"`
}

type ParticipantEventPayload struct {
	Participant ParticipantView `json:"participant"`
}

type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type CardSetChangedPayload struct {
	CardSet []string `json:"cardSet"`
}

type AnonymousVotesChangedPayload struct {
	AnonymousVotes bool `json:"anonymousVotes"`
}

type TaskCreatedPayload struct {
	Task          TaskView `json:"task"`
	CurrentTaskID *string  `json:"currentTaskId"`
}

type TaskDeletedPayload struct {
	TaskID        string  `json:"taskId"`
	CurrentTaskID *string `json:"currentTaskId"`
}

type TaskSelectedPayload struct {
	TaskID     *string `json:"taskId"`
	IsRevealed bool    `json:"isRevealed"`
}

type EstimateUpdatedPayload struct {
	ParticipantID string  `json:"participantId"`
	Estimate      *string `json:"estimate"`
	HasVoted      bool    `json:"hasVoted"`
	TaskID        string  `json:"taskId"`
}

type EstimatesRevealedPayload struct {
	Participants         []ParticipantView `json:"participants"`
	Average              *float64          `json:"average"`
	Median               *float64          `json:"median"`
	AbstentionPercentage int               `json:"abstentionPercentage"`
	Recommended          *FinalEstimate    `json:"recommended"`

	// Votes is only set for anonymous rooms, where participants carry no
	// estimate.
	Votes []string `json:"votes,omitempty"`
}

type ParticipantsPayload struct {
	Participants []ParticipantView `json:"participants"`
}

type FinalEstimateUpdatedPayload struct {
	TaskID        string         `json:"taskId"`
	FinalEstimate *FinalEstimate `json:"finalEstimate"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

func viewParticipant(room *Room, p *Participant) ParticipantView {
	v := ParticipantView{
		ID:                p.ID,
		Name:              p.Name,
		Role:              p.Role,
		ParticipationMode: p.Mode,
		CurrentEstimate:   p.CurrentEstimate,
		HasVoted:          p.CurrentEstimate != nil,
		JoinedAt:          p.JoinedAt,
	}

	if room.AnonymousVotes {
		v.CurrentEstimate = nil
	}

	return v
}

func viewParticipants(room *Room) []ParticipantView {
	out := make([]ParticipantView, 0, len(room.Participants))
	for _, p := range room.Participants {
		out = append(out, viewParticipant(room, p))
	}

	return out
}

func viewTask(t *Task) TaskView {
	return TaskView{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
		FinalEstimate: t.FinalEstimate,
		VoteCount:     len(t.Estimates),
	}
}

func viewRoom(room *Room) RoomView {
	tasks := make([]TaskView, 0, len(room.Tasks))
	for _, t := range room.Tasks {
		tasks = append(tasks, viewTask(t))
	}

	return RoomView{
		RoomCode:       room.Code,
		RoomName:       room.Name,
		CardSet:        room.CardSet,
		AnonymousVotes: room.AnonymousVotes,
		Participants:   viewParticipants(room),
		Tasks:          tasks,
		CurrentTaskID:  optional(room.CurrentTaskID),
		IsRevealed:     room.IsRevealed,
		State:          room.State().String(),
		CreatedAt:      room.CreatedAt,
	}
}

func optional(id string) *string {
	if id == "" {
		return nil
	}

	return &id
}
