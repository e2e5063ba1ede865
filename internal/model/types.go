package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a configured streamer account.
type Identity struct {
	Nickname    string // Display nickname, copied into every event the session produces
	SocketToken string // Streamlabs socket API token
}

// Event is the normalized record produced from one element of an inbound
// "message" array.
type Event struct {
	ID         uuid.UUID `json:"id"`          // Local identifier
	ReceivedAt time.Time `json:"received_at"` // Local timestamp when the transport received the payload

	EventType        string `json:"event_type,omitempty"` // Top-level "type" (e.g. "donation", "follow")
	EventFor         string `json:"event_for,omitempty"`  // Top-level "for" (e.g. "twitch_account")
	StreamerNickname string `json:"streamer_nickname"`    // Owning identity

	ActorNickname    string  `json:"actor_nickname,omitempty"`    // "name"
	Message          string  `json:"message,omitempty"`           // "message"
	DonationAmount   float64 `json:"donation_amount"`             // "amount", parsed from a string
	DonationCurrency string  `json:"donation_currency,omitempty"` // "currency"

	SubscriptionMonths int `json:"subscription_months"` // "months"
	RaiderCount        int `json:"raider_count"`        // "raiders"
	ViewerCount        int `json:"viewer_count"`        // "viewers", parsed from a string
}

// NewEvent returns an Event with a fresh ID for the given streamer.
func NewEvent(streamer string, receivedAt time.Time) Event {
	return Event{
		ID:               uuid.New(),
		ReceivedAt:       receivedAt,
		StreamerNickname: streamer,
	}
}

// IsDonation reports whether the event carries a non-zero donation amount.
func (e Event) IsDonation() bool {
	return e.DonationAmount != 0
}
