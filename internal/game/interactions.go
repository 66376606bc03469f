package game

import (
	"context"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/interaction"
	"github.com/jason-s-yu/trivia/internal/session"
)

// interactionTurn checks the common preconditions of every interaction and returns the
// turn it applies to.
func (a *actor) interactionTurn(playerID uuid.UUID, kind session.InteractionKind) (*session.TurnState, error) {
	if err := a.requireActive(); err != nil {
		return nil, err
	}
	if !a.s.IsMember(playerID) {
		return nil, newError(CodeNotAllowed, "%s is not part of this session", playerID)
	}
	if !a.mode.Rules().Allows(kind) {
		return nil, newError(CodeNotAllowed, "%s does not allow %s", a.mode.Rules().Name, kind)
	}
	if a.s.CurrentTurn == nil {
		return nil, newError(CodeInvalidState, "no turn in progress")
	}
	return a.s.CurrentTurn, nil
}

func (a *actor) recordInteraction(kind session.InteractionKind, turn *session.TurnState, playerID uuid.UUID) {
	a.s.LogInteraction(kind, turn.ID, playerID)
	switch kind {
	case session.KindReaction:
		a.s.Stats.Reactions++
	case session.KindSuggestion:
		a.s.Stats.Suggestions++
	case session.KindPrediction:
		a.s.Stats.Predictions++
	case session.KindChat:
		a.s.Stats.ChatMessages++
	}
}

// React sends an emoji at a player or team. It reports false when the sender hit the
// per-turn cap or the turn has moved past reactions.
func (o *Orchestrator) React(ctx context.Context, id, playerID, targetID uuid.UUID, emoji session.Emoji) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		turn, err := a.interactionTurn(playerID, session.KindReaction)
		if err != nil {
			return err
		}
		if _, isTeam := a.s.Teams[targetID]; a.s.Player(targetID) == nil && !isTeam {
			return newError(CodeInvalidInput, "reaction target %s is not a participant", targetID)
		}
		if targetID == playerID {
			return newError(CodeNotAllowed, "cannot react to yourself")
		}
		r := session.Reaction{PlayerID: playerID, TargetID: targetID, Emoji: emoji, CreatedAt: a.s.Now().UTC()}
		if ok = a.o.ledger.TryAddReaction(turn, r, interaction.DefaultMaxReactions); !ok {
			return nil
		}
		a.recordInteraction(session.KindReaction, turn, playerID)
		a.emit(broadcast.SessionTopic(a.id), broadcast.EventReactionAdded, turn.ID, playerID, map[string]interface{}{
			"turnId":   turn.ID,
			"playerId": playerID,
			"targetId": targetID,
			"emoji":    emoji,
		})
		return nil
	})
	return ok, err
}

// Suggest sends a hidden hint to the turn's answering player. Only the count reaches the
// target until results are shown.
func (o *Orchestrator) Suggest(ctx context.Context, id, playerID uuid.UUID, answerIndex int, reasoning string) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		turn, err := a.interactionTurn(playerID, session.KindSuggestion)
		if err != nil {
			return err
		}
		target := turn.ActiveParticipant
		if target == uuid.Nil {
			return newError(CodeNotAllowed, "this turn has no single answerer")
		}
		if playerID == target {
			return newError(CodeNotAllowed, "the answering player cannot suggest")
		}
		if a.s.Player(playerID) == nil {
			return newError(CodeNotAllowed, "only players can suggest")
		}
		sg := session.Suggestion{PlayerID: playerID, TargetID: target, AnswerIndex: answerIndex, Reasoning: reasoning, CreatedAt: a.s.Now().UTC()}
		if ok = a.o.ledger.TryAddSuggestion(turn, sg, interaction.DefaultMaxSuggestions); !ok {
			return nil
		}
		a.recordInteraction(session.KindSuggestion, turn, playerID)
		a.logEvent(string(broadcast.EventSuggestionReceived), turn.ID, playerID, map[string]interface{}{"answer": answerIndex})
		a.publish(broadcast.ParticipantTopic(target), broadcast.EventSuggestionReceived, map[string]interface{}{
			"turnId": turn.ID,
			"count":  len(turn.Suggestions),
		})
		return nil
	})
	return ok, err
}

// Predict records a guess at the correct answer. Only the latest prediction per player
// is scored.
func (o *Orchestrator) Predict(ctx context.Context, id, playerID uuid.UUID, answerIndex int) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		turn, err := a.interactionTurn(playerID, session.KindPrediction)
		if err != nil {
			return err
		}
		if playerID == turn.ActiveParticipant {
			return newError(CodeNotAllowed, "the answering player cannot predict")
		}
		p := session.Prediction{PlayerID: playerID, AnswerIndex: answerIndex, CreatedAt: a.s.Now().UTC()}
		if ok = a.o.ledger.AddPrediction(turn, p); !ok {
			return nil
		}
		a.recordInteraction(session.KindPrediction, turn, playerID)
		a.logEvent(string(broadcast.EventPredictionAdded), turn.ID, playerID, map[string]interface{}{"answer": answerIndex})
		a.publish(broadcast.SessionTopic(a.id), broadcast.EventPredictionAdded, map[string]interface{}{
			"turnId":   turn.ID,
			"playerId": playerID,
		})
		return nil
	})
	return ok, err
}

// Chat posts a message to the session or, in modes with team chat, to the sender's team.
func (o *Orchestrator) Chat(ctx context.Context, id, playerID uuid.UUID, text string, teamOnly bool) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		turn, err := a.interactionTurn(playerID, session.KindChat)
		if err != nil {
			return err
		}
		msg := session.ChatMessage{PlayerID: playerID, Text: text, CreatedAt: a.s.Now().UTC()}
		topic := broadcast.SessionTopic(a.id)
		if teamOnly {
			team := a.s.TeamOf(playerID)
			if !a.mode.Rules().Config.TeamScopedChat || team == nil {
				return newError(CodeNotAllowed, "team chat is not available")
			}
			msg.TeamID = team.ID
			topic = broadcast.TeamTopic(team.ID)
		}
		if ok = a.o.ledger.TryAddChat(turn, msg, interaction.DefaultMaxChat); !ok {
			return nil
		}
		stored := turn.Chat[len(turn.Chat)-1]
		a.recordInteraction(session.KindChat, turn, playerID)
		a.emit(topic, broadcast.EventChatMessage, turn.ID, playerID, map[string]interface{}{
			"playerId": playerID,
			"teamId":   stored.TeamID,
			"text":     stored.Text,
		})
		return nil
	})
	return ok, err
}

// UsePowerUp is rejected by every mode that ships today.
func (o *Orchestrator) UsePowerUp(ctx context.Context, id, playerID uuid.UUID, kind string) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		turn, err := a.interactionTurn(playerID, session.KindPowerUp)
		if err != nil {
			return err
		}
		ok = a.o.ledger.TryUsePowerUp(turn, session.PowerUpUsage{PlayerID: playerID, Kind: kind, CreatedAt: a.s.Now().UTC()})
		return nil
	})
	return ok, err
}
