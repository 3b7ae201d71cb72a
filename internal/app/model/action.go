package model

import (
	"fmt"
	"strings"

	"depositgate/internal/app/apperr"
)

type ActionKind int

const (
	ActionApprove ActionKind = iota + 1
	ActionReject
	ActionHistory
)

func (k ActionKind) String() string {
	switch k {
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionHistory:
		return "history"
	}
	return "unknown"
}

// Action is an operator action decoded from callback data.
// Target is a transaction id for approve/reject and a phone for history.
type Action struct {
	Kind   ActionKind
	Target string
}

func Approve(id string) Action    { return Action{Kind: ActionApprove, Target: id} }
func Reject(id string) Action     { return Action{Kind: ActionReject, Target: id} }
func History(phone string) Action { return Action{Kind: ActionHistory, Target: phone} }

// CallbackData encodes the action as button payload
func (a Action) CallbackData() string {
	return a.Kind.String() + ":" + a.Target
}

// ParseAction decodes "<kind>:<target>" or "<kind>_<target>".
// Only the first separator splits, so targets may contain either character.
func ParseAction(data string) (Action, error) {
	i := strings.IndexAny(data, ":_")
	if i <= 0 || i == len(data)-1 {
		return Action{}, fmt.Errorf("%w: action %q", apperr.ErrInvalidInput, data)
	}

	kind, target := data[:i], strings.TrimSpace(data[i+1:])
	if target == "" {
		return Action{}, fmt.Errorf("%w: action %q", apperr.ErrInvalidInput, data)
	}

	switch kind {
	case "approve":
		return Approve(target), nil
	case "reject":
		return Reject(target), nil
	case "history":
		return History(target), nil
	}

	return Action{}, fmt.Errorf("%w: unknown action %q", apperr.ErrInvalidInput, kind)
}
