// Package session holds the game session aggregate and its turn model. Values in this
// package are not safe for concurrent use; the orchestrator owns each session from a single
// goroutine.
package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
)

// State is the lifecycle state of a session.
type State string

const (
	StateStarting    State = "starting"
	StateActive      State = "active"
	StateCalculating State = "calculating"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// ModeID names a registered game mode.
type ModeID string

// Stats holds cumulative counters of a session.
type Stats struct {
	// AnswersGiven counts concluded turns, timed out or not.
	AnswersGiven      int                 `json:"answersGiven"`
	TurnsTimedOut     int                 `json:"turnsTimedOut"`
	CorrectAnswers    int                 `json:"correctAnswers"`
	TotalResponseTime time.Duration       `json:"totalResponseTime"`
	Responses         int                 `json:"responses"`
	Reactions         int                 `json:"reactions"`
	Suggestions       int                 `json:"suggestions"`
	Predictions       int                 `json:"predictions"`
	ChatMessages      int                 `json:"chatMessages"`
	PlayerCorrect     map[uuid.UUID]int   `json:"playerCorrect"`
	FastestAnswer     map[uuid.UUID]int64 `json:"fastestAnswerMs"`
}

// AverageResponseTime is the mean response time across every recorded response.
func (s Stats) AverageResponseTime() time.Duration {
	if s.Responses == 0 {
		return 0
	}
	return s.TotalResponseTime / time.Duration(s.Responses)
}

// Event is an entry in the session's append-only event log.
type Event struct {
	Type      string                 `json:"type"`
	TurnID    uuid.UUID              `json:"turnId,omitempty"`
	ActorID   uuid.UUID              `json:"actorId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// GameSession is one played match.
type GameSession struct {
	ID         uuid.UUID           `json:"id"`
	RoomID     uuid.UUID           `json:"roomId"`
	HostID     uuid.UUID           `json:"hostId"`
	Mode       ModeID              `json:"mode"`
	Settings   models.QuizSettings `json:"settings"`
	State      State               `json:"state"`
	Players    []*models.Player    `json:"players"`
	Teams      map[uuid.UUID]*Team `json:"teams,omitempty"`
	TeamOrder  []uuid.UUID         `json:"teamOrder,omitempty"`
	Spectators []*models.Spectator `json:"spectators,omitempty"`
	Scores     map[uuid.UUID]int   `json:"scores"`

	// InteractionScores holds per-player points earned through predictions and suggestions.
	InteractionScores map[uuid.UUID]int `json:"interactionScores"`

	Quiz         *models.Quiz        `json:"-"`
	CurrentTurn  *TurnState          `json:"currentTurn,omitempty"`
	TurnsPlayed  int                 `json:"turnsPlayed"`
	Stats        Stats               `json:"stats"`
	Events       []Event             `json:"-"`
	Interactions []InteractionRecord `json:"-"`

	AbortReason string     `json:"abortReason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`

	clock func() time.Time
}

// New builds a session in the Starting state from a room snapshot. Team membership follows
// each player's TeamID; teams keep the snapshot order.
func New(id uuid.UUID, room models.RoomSnapshot, clock func() time.Time) *GameSession {
	if clock == nil {
		clock = time.Now
	}
	s := &GameSession{
		ID:                id,
		RoomID:            room.RoomID,
		HostID:            room.HostID,
		Mode:              ModeID(room.Mode),
		Settings:          room.Settings.WithDefaults(),
		State:             StateStarting,
		Scores:            make(map[uuid.UUID]int),
		InteractionScores: make(map[uuid.UUID]int),
		CreatedAt:         clock().UTC(),
		clock:             clock,
	}
	s.Stats.PlayerCorrect = make(map[uuid.UUID]int)
	s.Stats.FastestAnswer = make(map[uuid.UUID]int64)

	if len(room.Teams) > 0 {
		s.Teams = make(map[uuid.UUID]*Team, len(room.Teams))
		for _, ts := range room.Teams {
			s.Teams[ts.ID] = &Team{ID: ts.ID, Name: ts.Name}
			s.TeamOrder = append(s.TeamOrder, ts.ID)
		}
	}
	for i := range room.Players {
		p := room.Players[i]
		if p.JoinedAt.IsZero() {
			p.JoinedAt = s.CreatedAt
		}
		s.Players = append(s.Players, &p)
		if team, ok := s.Teams[p.TeamID]; ok {
			team.Members = append(team.Members, p.ID)
		}
	}
	for i := range room.Spectators {
		sp := room.Spectators[i]
		s.Spectators = append(s.Spectators, &sp)
	}
	for _, team := range s.Teams {
		if len(team.Members) > 0 {
			team.CaptainID = team.Members[0]
		}
	}
	return s
}

// Now returns the session clock's current time.
func (s *GameSession) Now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

// HasTeams reports whether participants are teams rather than players.
func (s *GameSession) HasTeams() bool {
	return len(s.Teams) > 0
}

// ParticipantIDs lists the score-owning participants in a stable order: teams in snapshot
// order in team modes, players in join order otherwise.
func (s *GameSession) ParticipantIDs() []uuid.UUID {
	if s.HasTeams() {
		return append([]uuid.UUID(nil), s.TeamOrder...)
	}
	ids := make([]uuid.UUID, 0, len(s.Players))
	for _, p := range s.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

// SeedScores ensures every participant has a score entry.
func (s *GameSession) SeedScores() {
	for _, id := range s.ParticipantIDs() {
		if _, ok := s.Scores[id]; !ok {
			s.Scores[id] = 0
		}
	}
}

// Player looks up a player by ID.
func (s *GameSession) Player(id uuid.UUID) *models.Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// IsSpectator reports whether the ID belongs to a spectator.
func (s *GameSession) IsSpectator(id uuid.UUID) bool {
	for _, sp := range s.Spectators {
		if sp.ID == id {
			return true
		}
	}
	return false
}

// IsMember reports whether the ID is a player or a spectator of this session.
func (s *GameSession) IsMember(id uuid.UUID) bool {
	return s.Player(id) != nil || s.IsSpectator(id)
}

// TeamOf returns the team a player belongs to, or nil.
func (s *GameSession) TeamOf(playerID uuid.UUID) *Team {
	for _, id := range s.TeamOrder {
		if team := s.Teams[id]; team != nil && team.HasMember(playerID) {
			return team
		}
	}
	return nil
}

// OrderedTeams returns the teams in snapshot order.
func (s *GameSession) OrderedTeams() []*Team {
	out := make([]*Team, 0, len(s.TeamOrder))
	for _, id := range s.TeamOrder {
		if team := s.Teams[id]; team != nil {
			out = append(out, team)
		}
	}
	return out
}

// TotalQuestions is the number of questions in the quiz.
func (s *GameSession) TotalQuestions() int {
	if s.Quiz == nil {
		return 0
	}
	return len(s.Quiz.Questions)
}

// Question returns the question for a 1-based number.
func (s *GameSession) Question(number int) (models.Question, bool) {
	if s.Quiz == nil || number < 1 || number > len(s.Quiz.Questions) {
		return models.Question{}, false
	}
	return s.Quiz.Questions[number-1], true
}

// MergeScores adds per-participant deltas into the session totals.
func (s *GameSession) MergeScores(deltas map[uuid.UUID]int) {
	for id, pts := range deltas {
		s.Scores[id] += pts
	}
}

// MergeInteractionScores adds per-player interaction points.
func (s *GameSession) MergeInteractionScores(deltas map[uuid.UUID]int) {
	for id, pts := range deltas {
		s.InteractionScores[id] += pts
	}
}

// LogEvent appends to the session event log.
func (s *GameSession) LogEvent(eventType string, turnID, actorID uuid.UUID, payload map[string]interface{}) Event {
	ev := Event{Type: eventType, TurnID: turnID, ActorID: actorID, Payload: payload, CreatedAt: s.Now().UTC()}
	s.Events = append(s.Events, ev)
	return ev
}

// LogInteraction appends to the session interaction log.
func (s *GameSession) LogInteraction(kind InteractionKind, turnID, playerID uuid.UUID) {
	s.Interactions = append(s.Interactions, InteractionRecord{Kind: kind, TurnID: turnID, PlayerID: playerID, CreatedAt: s.Now().UTC()})
}

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ParticipantID uuid.UUID `json:"participantId"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
}

// Leaderboard ranks participants by score, ties sharing a rank and keeping join order.
func (s *GameSession) Leaderboard() []LeaderboardEntry {
	ids := s.ParticipantIDs()
	entries := make([]LeaderboardEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, LeaderboardEntry{ParticipantID: id, Name: s.participantName(id), Score: s.Scores[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}

func (s *GameSession) participantName(id uuid.UUID) string {
	if team, ok := s.Teams[id]; ok {
		return team.Name
	}
	if p := s.Player(id); p != nil {
		return p.Name
	}
	return ""
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.Players = make([]*models.Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		c.Players[i] = &cp
	}
	c.Spectators = make([]*models.Spectator, len(s.Spectators))
	for i, sp := range s.Spectators {
		csp := *sp
		c.Spectators[i] = &csp
	}
	if s.Teams != nil {
		c.Teams = make(map[uuid.UUID]*Team, len(s.Teams))
		for id, team := range s.Teams {
			ct := *team
			ct.Members = append([]uuid.UUID(nil), team.Members...)
			ct.Vote = team.Vote.clone()
			c.Teams[id] = &ct
		}
	}
	c.TeamOrder = append([]uuid.UUID(nil), s.TeamOrder...)
	c.Scores = copyScores(s.Scores)
	c.InteractionScores = copyScores(s.InteractionScores)
	c.Stats.PlayerCorrect = copyScores(s.Stats.PlayerCorrect)
	c.Stats.FastestAnswer = make(map[uuid.UUID]int64, len(s.Stats.FastestAnswer))
	for k, v := range s.Stats.FastestAnswer {
		c.Stats.FastestAnswer[k] = v
	}
	if s.Quiz != nil {
		q := *s.Quiz
		q.Questions = append([]models.Question(nil), s.Quiz.Questions...)
		c.Quiz = &q
	}
	c.CurrentTurn = s.CurrentTurn.Clone()
	c.Events = append([]Event(nil), s.Events...)
	c.Interactions = append([]InteractionRecord(nil), s.Interactions...)
	return &c
}

func copyScores(in map[uuid.UUID]int) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
