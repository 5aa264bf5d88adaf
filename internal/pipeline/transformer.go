// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core delivery processing components for the worker.
package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	TypeInternalInvite = "PLAN_INTERNAL_INVITE"
	TypeMemberLeft     = "PLAN_MEMBER_LEFT"
	TypeUnknown        = "UNKNOWN"

	ModeOwnerResult   = "OWNER_RESULT"
	ModeInviteeInvite = "INVITEE_INVITE"
)

// Notification is the typed projection of a delivery payload.
// It is one of InternalInvite, MemberLeft, Generic or Unknown.
type Notification interface {
	// Title and Body are the display text before any default-title fallback.
	Title() string
	Body() string
	isNotification()
}

// InternalInvite is a plan invitation, or the owner-facing result of one.
type InternalInvite struct {
	InviteID    string
	PlanID      string
	TitleText   string
	BodyText    string
	Action      string
	ActionToken string
	// OwnerResult is set when Action is ACCEPT or DECLINE.
	OwnerResult bool
}

// MemberLeft announces that a member left a plan. Title and body are derived.
type MemberLeft struct {
	PlanID       string
	PlanTitle    string
	LeftUserID   string
	LeftNickname string
	TitleText    string
	BodyText     string
}

// Generic is any other non-empty type. It is rendered by the OS.
type Generic struct {
	Type      string
	PlanID    string
	TitleText string
	BodyText  string
}

// Unknown is a payload without a type.
type Unknown struct {
	PlanID    string
	TitleText string
	BodyText  string
}

func (n InternalInvite) Title() string { return n.TitleText }
func (n InternalInvite) Body() string  { return n.BodyText }
func (n MemberLeft) Title() string     { return n.TitleText }
func (n MemberLeft) Body() string      { return n.BodyText }
func (n Generic) Title() string        { return n.TitleText }
func (n Generic) Body() string         { return n.BodyText }
func (n Unknown) Title() string        { return n.TitleText }
func (n Unknown) Body() string         { return n.BodyText }

func (InternalInvite) isNotification() {}
func (MemberLeft) isNotification()     {}
func (Generic) isNotification()        {}
func (Unknown) isNotification()        {}

// Classify projects a weakly typed payload into a Notification. It never fails:
// anything unrecognised becomes Generic or Unknown.
func Classify(payload map[string]any) Notification {
	p := fields(payload)
	kind := p.str("type")

	switch kind {
	case TypeInternalInvite:
		return InternalInvite{
			InviteID:    p.str("invite_id"),
			PlanID:      p.str("plan_id"),
			TitleText:   p.str("title"),
			BodyText:    p.str("body"),
			Action:      p.str("action"),
			ActionToken: p.str("action_token"),
			OwnerResult: isOwnerResultAction(p.str("action")),
		}
	case TypeMemberLeft:
		return classifyMemberLeft(p)
	case "":
		return Unknown{
			PlanID:    p.str("plan_id"),
			TitleText: p.str("title"),
			BodyText:  p.str("body"),
		}
	default:
		return Generic{
			Type:      kind,
			PlanID:    p.str("plan_id"),
			TitleText: p.str("title"),
			BodyText:  p.str("body"),
		}
	}
}

// ClassificationOf derives the shape flags recorded in the debug trace.
func ClassificationOf(n Notification) dispatch.Classification {
	var c dispatch.Classification
	switch v := n.(type) {
	case InternalInvite:
		c.InternalInvite = true
		c.InviteResultForOwner = v.OwnerResult
		c.InviteeInteractive = !v.OwnerResult
	case MemberLeft:
		c.MemberLeft = true
	}
	c.IncludeNotification = !(c.InternalInvite || c.MemberLeft)
	return c
}

func isOwnerResultAction(action string) bool {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "ACCEPT", "DECLINE":
		return true
	}
	return false
}

func classifyMemberLeft(p fields) MemberLeft {
	n := MemberLeft{
		PlanID:       p.str("plan_id"),
		PlanTitle:    p.str("plan_title"),
		LeftUserID:   p.str("left_user_id"),
		LeftNickname: p.str("left_nickname"),
		TitleText:    p.str("title"),
		BodyText:     p.str("body"),
	}

	nick := strings.TrimSpace(n.LeftNickname)
	plan := strings.TrimSpace(n.PlanTitle)

	switch {
	case nick != "":
		n.TitleText = nick + " left the plan"
		if plan != "" {
			n.BodyText = nick + " left the plan “" + plan + "”."
		} else {
			n.BodyText = nick + " left the plan."
		}
	case plan != "":
		if n.TitleText == "" {
			n.TitleText = "A member left the plan"
		}
		n.BodyText = "A member left the plan “" + plan + "”."
	}
	return n
}

// fields reads payload values as strings.
type fields map[string]any

func (f fields) str(key string) string {
	return stringify(f[key])
}

// stringify coerces a JSON-decoded value to a string: nil is empty, numbers use their
// shortest decimal form, bools are true/false and anything else is JSON-encoded.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
