// Package content models server-pushed in-app content.
//
// Notifications and surveys arrive through decide responses, identified by
// server-assigned integer IDs; the pending-update store deduplicates on that
// identity. The visual model here is intentionally thin: enough structure to
// carry identity, display triggers, and round-trip serialization.
package content

import "encoding/json"

// NotificationType distinguishes the two notification surfaces.
type NotificationType string

const (
	NotificationMini     NotificationType = "mini"
	NotificationTakeover NotificationType = "takeover"
)

// Button is a single notification call-to-action.
type Button struct {
	Text            string `json:"text"`
	TextColor       uint32 `json:"text_color"`
	BackgroundColor uint32 `json:"bg_color"`
	CallToActionURL string `json:"cta_url,omitempty"`
}

// Notification is a server-pushed in-app notification.
// ID is the server-assigned identity used for deduplication.
type Notification struct {
	ID              int              `json:"id"`
	MessageID       int              `json:"message_id"`
	Type            NotificationType `json:"type"`
	Body            string           `json:"body"`
	BodyColor       uint32           `json:"body_color"`
	BackgroundColor uint32           `json:"bg_color"`
	ImageURL        string           `json:"image_url,omitempty"`
	Buttons         []Button         `json:"buttons,omitempty"`
	// DisplayTriggers are raw trigger definitions (event name + selector);
	// the client compiles them via the trigger package at display time so a
	// malformed selector disables one notification, not the whole payload.
	DisplayTriggers []json.RawMessage `json:"display_triggers,omitempty"`
}

// SurveyQuestion is one question within a survey.
type SurveyQuestion struct {
	ID      int      `json:"id"`
	Type    string   `json:"type"` // "multiple_choice" or "text"
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
}

// Survey is a server-pushed survey.
// ID is the server-assigned identity used for deduplication.
type Survey struct {
	ID           int              `json:"id"`
	CollectionID int              `json:"collection_id"`
	Questions    []SurveyQuestion `json:"questions"`
}
