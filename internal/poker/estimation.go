/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package poker

import (
	"errors"
	"math"
	"slices"

	"github.com/Seednode/estimate/internal/store"
)

// recommendAbstainAt is the abstention percentage from which the
// recommended final estimate becomes the abstention token.
const recommendAbstainAt = 50

// Estimation records votes and computes reveal aggregates.
type Estimation struct {
	registry     *Registry
	participants *Participants
}

func NewEstimation(r *Registry, p *Participants) *Estimation {
	return &Estimation{
		registry:     r,
		participants: p,
	}
}

// CastOrClear records token as p's vote on the current task. Casting the
// token p already holds withdraws the vote. The returned value is p's
// vote afterwards.
func (e *Estimation) CastOrClear(tx store.Records, room *Room, p *Participant, taskID, token string) (*string, error) {
	if !p.CanVote() {
		return nil, ErrCannotVote
	}

	task := room.CurrentTask()
	if task == nil {
		return nil, ErrNoCurrentTask
	}

	if taskID != "" && taskID != task.ID {
		return nil, ErrNotCurrentTask
	}

	if !room.hasCard(token) {
		return nil, ErrInvalidEstimate
	}

	var next *string

	if p.CurrentEstimate != nil && *p.CurrentEstimate == token {
		err := tx.DeleteEstimate(task.ID, p.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, storageError("delete estimate", err)
		}
	} else {
		next = ptr(token)

		err := tx.UpsertEstimate(store.Estimate{
			TaskID:        task.ID,
			ParticipantID: p.ID,
			Estimate:      token,
		})
		if err != nil {
			return nil, storageError("upsert estimate", err)
		}
	}

	updated := *p
	updated.CurrentEstimate = next

	if err := e.participants.update(tx, room, &updated); err != nil {
		return nil, err
	}

	*p = updated

	if next == nil {
		delete(task.Estimates, p.ID)
	} else {
		task.Estimates[p.ID] = *next
	}

	return next, nil
}

// Reveal shows the votes and returns the aggregates over them.
func (e *Estimation) Reveal(tx store.Records, room *Room) (Aggregates, error) {
	if err := e.registry.Update(tx, room, RoomUpdate{IsRevealed: ptr(true)}); err != nil {
		return Aggregates{}, err
	}

	return Aggregate(room), nil
}

// Hide conceals revealed votes without clearing them.
func (e *Estimation) Hide(tx store.Records, room *Room) error {
	if !room.IsRevealed {
		return ErrNotRevealed
	}

	return e.registry.Update(tx, room, RoomUpdate{IsRevealed: ptr(false)})
}

// Reset clears every current vote and the current task's recorded
// estimates.
func (e *Estimation) Reset(tx store.Records, room *Room) error {
	if err := e.registry.Update(tx, room, RoomUpdate{IsRevealed: ptr(false)}); err != nil {
		return err
	}

	if err := e.participants.clearEstimates(tx, room); err != nil {
		return err
	}

	if task := room.CurrentTask(); task != nil {
		if err := tx.DeleteTaskEstimates(task.ID); err != nil {
			return storageError("delete task estimates", err)
		}

		clear(task.Estimates)
	}

	return nil
}

// Aggregates summarise the eligible votes of a room. Average and Median
// are nil when nobody cast a numeric vote.
type Aggregates struct {
	Average              *float64
	Median               *float64
	AbstentionPercentage int
	Recommended          *FinalEstimate
}

// Aggregate computes the reveal aggregates over the eligible
// participants' current votes.
func Aggregate(room *Room) Aggregates {
	eligible := room.Eligible()

	var (
		numeric   []float64
		abstained int
	)

	for _, p := range eligible {
		if p.CurrentEstimate == nil || *p.CurrentEstimate == AbstentionToken {
			abstained++

			continue
		}

		if v, ok := parseNumeric(*p.CurrentEstimate); ok {
			numeric = append(numeric, v)
		}
	}

	var agg Aggregates

	if len(eligible) > 0 {
		agg.AbstentionPercentage = int(roundHalfUp(100 * float64(abstained) / float64(len(eligible))))
	}

	if len(numeric) == 0 {
		agg.Recommended = Abstain()

		return agg
	}

	var sum float64
	for _, v := range numeric {
		sum += v
	}

	agg.Average = ptr(roundHalfUp(sum / float64(len(numeric))))
	agg.Median = ptr(CardIntervalMedian(room.CardSet, numeric))

	if agg.AbstentionPercentage >= recommendAbstainAt {
		agg.Recommended = Abstain()
	} else {
		agg.Recommended = Numeric(*agg.Median)
	}

	return agg
}

// CardIntervalMedian snaps the median of votes onto the card set. The
// numeric cards lying in [min(votes), max(votes)] form the interval and
// its middle card wins, taking the upper card when the interval has an
// even length. With no card in range the raw median is rounded half up.
// A single vote is returned as is.
func CardIntervalMedian(cardSet []string, votes []float64) float64 {
	if len(votes) == 1 {
		return votes[0]
	}

	sorted := slices.Clone(votes)
	slices.Sort(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]

	var interval []float64
	for _, c := range cardSet {
		if v, ok := parseNumeric(c); ok && v >= lo && v <= hi {
			interval = append(interval, v)
		}
	}

	slices.Sort(interval)
	interval = slices.Compact(interval)

	if len(interval) > 0 {
		return interval[len(interval)/2]
	}

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return roundHalfUp((sorted[mid-1] + sorted[mid]) / 2)
	}

	return roundHalfUp(sorted[mid])
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// sortedVotes lists the eligible votes in card order, used for anonymous
// reveals.
func sortedVotes(room *Room) []string {
	order := make(map[string]int, len(room.CardSet))
	for i, c := range room.CardSet {
		order[c] = i
	}

	var votes []string
	for _, p := range room.Eligible() {
		if p.CurrentEstimate != nil {
			votes = append(votes, *p.CurrentEstimate)
		}
	}

	slices.SortStableFunc(votes, func(a, b string) int {
		oa, okA := order[a]
		ob, okB := order[b]

		switch {
		case okA && okB:
			return oa - ob
		case okA:
			return -1
		case okB:
			return 1
		default:
			return 0
		}
	})

	return votes
}
