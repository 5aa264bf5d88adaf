package pipeline

import (
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-worker/internal/platform/apns"
	"github.com/tinywideclouds/go-push-worker/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

// Builder turns a classified notification into one gateway message per device token.
type Builder struct {
	// ChannelID is the Android notification channel. It must match the client's
	// registered channel exactly.
	ChannelID string
	// DefaultTitle replaces an empty title.
	DefaultTitle string
}

// Build produces the message for one token. Data-only shapes carry no top-level
// notification, no android notification and a silent apns payload.
func (b Builder) Build(n Notification, token dispatch.DeviceToken) *dispatch.Message {
	include := ClassificationOf(n).IncludeNotification

	title := n.Title()
	if title == "" {
		title = b.DefaultTitle
	}
	body := n.Body()

	msg := &dispatch.Message{
		Token:   token.Token,
		Data:    dataPayload(n, title, body),
		Android: fcm.AndroidConfig(include, title, body, b.ChannelID),
		APNS:    apns.Config(include, title, body),
	}
	if include {
		msg.Notification = &messaging.Notification{Title: title, Body: body}
	}
	return msg
}

// dataPayload is the flat string map the client reads. Every value is a non-null string.
func dataPayload(n Notification, title, body string) map[string]string {
	switch v := n.(type) {
	case InternalInvite:
		mode := ModeInviteeInvite
		if v.OwnerResult {
			mode = ModeOwnerResult
		}
		return map[string]string{
			"type":                 TypeInternalInvite,
			"invite_id":            v.InviteID,
			"plan_id":              v.PlanID,
			"title":                title,
			"body":                 body,
			"action":               v.Action,
			"action_token":         v.ActionToken,
			"internal_invite_mode": mode,
		}
	case MemberLeft:
		return map[string]string{
			"type":          TypeMemberLeft,
			"plan_id":       v.PlanID,
			"plan_title":    v.PlanTitle,
			"left_user_id":  v.LeftUserID,
			"left_nickname": v.LeftNickname,
			"title":         title,
			"body":          body,
		}
	case Generic:
		return map[string]string{
			"type":    v.Type,
			"title":   title,
			"body":    body,
			"plan_id": v.PlanID,
		}
	case Unknown:
		return map[string]string{
			"type":    TypeUnknown,
			"title":   title,
			"body":    body,
			"plan_id": v.PlanID,
		}
	}
	return map[string]string{"type": TypeUnknown, "title": title, "body": body, "plan_id": ""}
}
