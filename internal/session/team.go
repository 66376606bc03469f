package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrVoteLocked    = errors.New("team vote is locked")
	ErrNotTeamMember = errors.New("player is not a member of this team")
)

// TeamStats holds per-team counters accumulated over the session.
type TeamStats struct {
	CorrectAnswers   int `json:"correctAnswers"`
	UnanimousAnswers int `json:"unanimousAnswers"`
	FirstCorrect     int `json:"firstCorrect"`
	Unanswered       int `json:"unanswered"`
}

// Team groups players in team modes.
type Team struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Members   []uuid.UUID `json:"members"` // join order
	CaptainID uuid.UUID   `json:"captainId"`
	Score     int         `json:"score"`
	Vote      *TeamVote   `json:"vote,omitempty"`
	Stats     TeamStats   `json:"stats"`
}

// HasMember reports whether the player belongs to this team.
func (t *Team) HasMember(playerID uuid.UUID) bool {
	for _, m := range t.Members {
		if m == playerID {
			return true
		}
	}
	return false
}

// CaptainFor sets the captain for a 1-based question number: the next member in join
// order each turn, wrapping around.
func (t *Team) CaptainFor(questionNumber int) uuid.UUID {
	if len(t.Members) == 0 {
		t.CaptainID = uuid.Nil
		return uuid.Nil
	}
	idx := (questionNumber - 1) % len(t.Members)
	if idx < 0 {
		idx += len(t.Members)
	}
	t.CaptainID = t.Members[idx]
	return t.CaptainID
}

// TeamVote is a per-turn ballot for one team.
type TeamVote struct {
	Votes       map[uuid.UUID]int       `json:"-"`
	CastAt      map[uuid.UUID]time.Time `json:"-"`
	Locked      bool                    `json:"locked"`
	FinalAnswer int                     `json:"finalAnswer"` // -1 until locked with an answer
	LockedAt    time.Time               `json:"lockedAt,omitempty"`
	LockedBy    uuid.UUID               `json:"lockedBy,omitempty"`
	Unanimous   bool                    `json:"unanimous"`
}

// NewTeamVote returns an empty, open ballot.
func NewTeamVote() *TeamVote {
	return &TeamVote{
		Votes:       make(map[uuid.UUID]int),
		CastAt:      make(map[uuid.UUID]time.Time),
		FinalAnswer: -1,
	}
}

// Cast records or replaces a player's vote while the ballot is open.
func (v *TeamVote) Cast(playerID uuid.UUID, answerIndex int, at time.Time) error {
	if v.Locked {
		return ErrVoteLocked
	}
	v.Votes[playerID] = answerIndex
	v.CastAt[playerID] = at
	return nil
}

// Tally counts votes per answer index.
func (v *TeamVote) Tally() map[int]int {
	counts := make(map[int]int)
	for _, idx := range v.Votes {
		counts[idx]++
	}
	return counts
}

// Majority returns the answer with the most votes. A tie for the top spot has no majority.
func (v *TeamVote) Majority() (int, bool) {
	maxVotes := 0
	answer := -1
	tie := false
	for idx, count := range v.Tally() {
		if count > maxVotes {
			maxVotes = count
			answer = idx
			tie = false
		} else if count == maxVotes {
			tie = true
		}
	}
	if maxVotes == 0 || tie {
		return -1, false
	}
	return answer, true
}

// ConsensusStrength is the percentage of votes agreeing with the top answer, 0..100.
func (v *TeamVote) ConsensusStrength() float64 {
	if len(v.Votes) == 0 {
		return 0
	}
	top := 0
	for _, count := range v.Tally() {
		if count > top {
			top = count
		}
	}
	return float64(top) * 100 / float64(len(v.Votes))
}

// IsUnanimous reports whether every one of memberCount members voted for the same answer.
func (v *TeamVote) IsUnanimous(memberCount int) bool {
	if memberCount == 0 || len(v.Votes) < memberCount {
		return false
	}
	return len(v.Tally()) == 1
}

// AllVoted reports whether every member has cast a vote.
func (v *TeamVote) AllVoted(members []uuid.UUID) bool {
	for _, m := range members {
		if _, ok := v.Votes[m]; !ok {
			return false
		}
	}
	return len(members) > 0
}

// Lock closes the ballot on the given answer. answerIndex -1 locks with no answer.
func (v *TeamVote) Lock(answerIndex int, by uuid.UUID, at time.Time, unanimous bool) {
	if v.Locked {
		return
	}
	v.Locked = true
	v.FinalAnswer = answerIndex
	v.LockedAt = at
	v.LockedBy = by
	v.Unanimous = unanimous
}

// LastCastAt returns the latest vote timestamp, the moment the ballot's outcome was decided.
func (v *TeamVote) LastCastAt() time.Time {
	var last time.Time
	for _, at := range v.CastAt {
		if at.After(last) {
			last = at
		}
	}
	return last
}

func (v *TeamVote) clone() *TeamVote {
	if v == nil {
		return nil
	}
	c := *v
	c.Votes = make(map[uuid.UUID]int, len(v.Votes))
	for k, val := range v.Votes {
		c.Votes[k] = val
	}
	c.CastAt = make(map[uuid.UUID]time.Time, len(v.CastAt))
	for k, val := range v.CastAt {
		c.CastAt[k] = val
	}
	return &c
}
