package decision

import (
	"context"
	"errors"
	"fmt"
	"html"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
	"depositgate/internal/app/session"
	"depositgate/pkg/telegram"
)

// ActionRequest is a decision button pressed by an operator
type ActionRequest struct {
	Action     model.Action
	Actor      string
	ChatID     int64
	CallbackID string
}

// ReasonReply is an operator message answering a reason prompt
type ReasonReply struct {
	ChatID    int64
	MessageID int64
	ReplyTo   int64
	Actor     string
	Text      string
}

// reasonInput is bounded by the Bot API limit of a message text
type reasonInput struct {
	Reason string `validate:"required,min=3,max=4096"`
}

// Act routes an approve or reject button. Rejects ask for a reason first when
// reasons are required.
func (s *Service) Act(ctx context.Context, r ActionRequest) error {
	switch r.Action.Kind {
	case model.ActionApprove:
	case model.ActionReject:
		if s.reasonRequired {
			return s.RequestReason(ctx, r)
		}
	default:
		return fmt.Errorf("%w: %s is not a decision", apperr.ErrInvalidInput, r.Action.Kind)
	}

	_, err := s.Decide(ctx, Decision{
		Kind:          r.Action.Kind,
		TransactionID: r.Action.Target,
		Actor:         r.Actor,
		CallbackID:    r.CallbackID,
	})
	return err
}

// RequestReason sends a force-reply prompt and remembers which transaction it
// belongs to
func (s *Service) RequestReason(ctx context.Context, r ActionRequest) error {
	l := logger.Get(ctx, s).With().
		Str("transaction_id", r.Action.Target).
		Str("actor", r.Actor).
		Logger()
	ctx = l.WithContext(ctx)

	tx, err := s.get(ctx, r.Action.Target)
	if err == nil && tx.Status != model.TransactionStatusPending {
		err = &StatusError{Status: tx.Status}
	}
	if err != nil {
		if r.CallbackID != "" {
			s.answer(ctx, r.CallbackID, Describe(model.ActionReject, nil, err))
		}
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	msg, err := s.messenger.SendMessage(sctx, &telegram.SendMessageRequest{
		ChatID:    r.ChatID,
		Text:      fmt.Sprintf("✍️ Reply to this message with the reason for rejecting <code>%s</code>", html.EscapeString(tx.ID)),
		ParseMode: telegram.ParseModeHTML,
		ReplyMarkup: &telegram.ForceReply{
			ForceReply:            true,
			Selective:             true,
			InputFieldPlaceholder: "Rejection reason",
		},
	})
	if err != nil {
		l.Error().Err(err).Msg("Reason prompt failed")
		if r.CallbackID != "" {
			s.answer(ctx, r.CallbackID, Describe(model.ActionReject, nil, err))
		}
		return fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}

	err = s.sessions.Put(ctx, session.Key{ChatID: r.ChatID, MessageID: msg.MessageID}, &session.Prompt{
		TransactionID: tx.ID,
		Actor:         r.Actor,
		ChatID:        r.ChatID,
		MessageID:     msg.MessageID,
		CreatedAt:     s.now(),
	})
	if err != nil {
		l.Error().Err(err).Msg("Reason prompt not stored")
		if r.CallbackID != "" {
			s.answer(ctx, r.CallbackID, Describe(model.ActionReject, nil, err))
		}
		return err
	}

	l.Debug().Int64("prompt_message_id", msg.MessageID).Msg("Reason requested")
	if r.CallbackID != "" {
		s.answer(ctx, r.CallbackID, "✍️ Reply with a reason")
	}

	return nil
}

// CompleteReason rejects the prompted transaction with the reply text, stored
// as typed. The prompt is consumed even when the reason is refused.
func (s *Service) CompleteReason(ctx context.Context, r ReasonReply) (*Result, error) {
	l := logger.Get(ctx, s).With().Str("actor", r.Actor).Logger()
	ctx = l.WithContext(ctx)

	p, err := s.sessions.Take(ctx, session.Key{ChatID: r.ChatID, MessageID: r.ReplyTo})
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			l.Error().Err(err).Msg("Reason prompt lookup failed")
		}
		return nil, err
	}

	in := reasonInput{Reason: r.Text}
	if err := s.validate.Struct(in); err != nil {
		err = fmt.Errorf("%w: reason: %v", apperr.ErrValidation, err)
		l.Info().Str("transaction_id", p.TransactionID).Err(err).Msg("Reason refused")
		s.reply(ctx, r.ChatID, r.MessageID, Describe(model.ActionReject, nil, err))
		return nil, err
	}

	res, err := s.Decide(ctx, Decision{
		Kind:          model.ActionReject,
		TransactionID: p.TransactionID,
		Actor:         r.Actor,
		Reason:        in.Reason,
	})
	s.reply(ctx, r.ChatID, r.MessageID, Describe(model.ActionReject, res, err))

	return res, err
}
