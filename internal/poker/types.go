/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package poker implements the planning poker room lifecycle: rooms,
// participants, tasks, votes and the state machine that ties them
// together.
//
// Rooms are assembled from the durable store at the start of every
// action, mutated through the managers in this package inside one store
// transaction, and projected into wire events once that transaction
// commits.
package poker

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// AbstentionToken is the card meaning "no estimate".
const AbstentionToken = "?"

type Role string

const (
	RoleManager     Role = "manager"
	RoleParticipant Role = "participant"
	RoleSpectator   Role = "spectator"
)

func (r Role) valid() bool {
	switch r {
	case RoleManager, RoleParticipant, RoleSpectator:
		return true
	}

	return false
}

// Mode records whether a manager also votes. It is empty for everyone
// else.
type Mode string

const (
	ModeParticipant Mode = "participant"
	ModeSpectator   Mode = "spectator"
)

// modeFromRole maps a non-manager role onto the matching manager mode.
func modeFromRole(r Role) Mode {
	if r == RoleSpectator {
		return ModeSpectator
	}

	return ModeParticipant
}

// roleFromMode is the inverse of modeFromRole, used when a manager steps
// down.
func roleFromMode(m Mode) Role {
	if m == ModeSpectator {
		return RoleSpectator
	}

	return RoleParticipant
}

type Participant struct {
	ID              string
	ConnectionID    string
	Name            string
	Role            Role
	Mode            Mode
	CurrentEstimate *string
	JoinedAt        time.Time
}

// CanVote reports whether p belongs to the eligible set: participants,
// and managers who participate.
func (p *Participant) CanVote() bool {
	return p.Role == RoleParticipant || (p.Role == RoleManager && p.Mode == ModeParticipant)
}

type Task struct {
	ID          string
	Title       string
	Description *string
	CreatedAt   time.Time

	// Estimates maps participant id to token. Entries outlive task
	// selection so a task can be revisited.
	Estimates map[string]string

	FinalEstimate *FinalEstimate
}

// FinalEstimate is either the abstention token or a number. A nil
// *FinalEstimate means undecided.
type FinalEstimate struct {
	Abstain bool
	Value   float64
}

func Abstain() *FinalEstimate {
	return &FinalEstimate{Abstain: true}
}

func Numeric(v float64) *FinalEstimate {
	return &FinalEstimate{Value: v}
}

func (f FinalEstimate) String() string {
	if f.Abstain {
		return AbstentionToken
	}

	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// ParseFinalEstimate accepts the abstention token or a finite number.
func ParseFinalEstimate(s string) (*FinalEstimate, error) {
	s = strings.TrimSpace(s)
	if s == AbstentionToken {
		return Abstain(), nil
	}

	v, ok := parseNumeric(s)
	if !ok {
		return nil, ErrInvalidFinalEstimate
	}

	return Numeric(v), nil
}

func (f FinalEstimate) MarshalJSON() ([]byte, error) {
	if f.Abstain {
		return json.Marshal(AbstentionToken)
	}

	return json.Marshal(f.Value)
}

func (f *FinalEstimate) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ErrInvalidFinalEstimate
		}

		*f = FinalEstimate{Value: t}
	case string:
		parsed, err := ParseFinalEstimate(t)
		if err != nil {
			return err
		}

		*f = *parsed
	default:
		return ErrInvalidFinalEstimate
	}

	return nil
}

// State is the derived lifecycle position of a room.
type State int

const (
	StateNoTaskSelected State = iota
	StateVoting
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StateVoting:
		return "voting"
	case StateRevealed:
		return "revealed"
	default:
		return "no-task-selected"
	}
}

// Room is the aggregate loaded for a single action. Participants and
// tasks keep their insertion order.
type Room struct {
	Code           string
	Name           string
	CardSet        []string
	AnonymousVotes bool
	Participants   []*Participant
	Tasks          []*Task
	CurrentTaskID  string
	IsRevealed     bool
	CreatedAt      time.Time
}

func (r *Room) State() State {
	switch {
	case r.CurrentTaskID == "":
		return StateNoTaskSelected
	case r.IsRevealed:
		return StateRevealed
	default:
		return StateVoting
	}
}

func (r *Room) Participant(id string) *Participant {
	for _, p := range r.Participants {
		if p.ID == id {
			return p
		}
	}

	return nil
}

func (r *Room) ParticipantByConnection(connectionID string) *Participant {
	for _, p := range r.Participants {
		if p.ConnectionID == connectionID {
			return p
		}
	}

	return nil
}

func (r *Room) Manager() *Participant {
	for _, p := range r.Participants {
		if p.Role == RoleManager {
			return p
		}
	}

	return nil
}

func (r *Room) Task(id string) *Task {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t
		}
	}

	return nil
}

func (r *Room) CurrentTask() *Task {
	if r.CurrentTaskID == "" {
		return nil
	}

	return r.Task(r.CurrentTaskID)
}

func (r *Room) Eligible() []*Participant {
	var out []*Participant
	for _, p := range r.Participants {
		if p.CanVote() {
			out = append(out, p)
		}
	}

	return out
}

func (r *Room) hasCard(token string) bool {
	for _, c := range r.CardSet {
		if c == token {
			return true
		}
	}

	return false
}

// ParseCardSet normalises a card set given either as a comma separated
// string or as a list. Tokens are trimmed; empty and repeated tokens are
// dropped.
func ParseCardSet(raw json.RawMessage) ([]string, error) {
	var tokens []string

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		tokens = strings.Split(s, ",")
	} else if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, ErrEmptyCardSet
	}

	return normaliseCardSet(tokens)
}

func normaliseCardSet(tokens []string) ([]string, error) {
	seen := make(map[string]bool, len(tokens))

	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}

		seen[t] = true
		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, ErrEmptyCardSet
	}

	return out, nil
}

// parseNumeric parses a trimmed token as a finite float.
func parseNumeric(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}
