package models

import "time"

// ChannelToken is returned by the channel token endpoint. The token only authorizes
// opening a push channel for the user it was issued to.
type ChannelToken struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChannelControl is a control frame a client sends over an open channel
type ChannelControl struct {
	Type string `json:"type"`
}

// Channel control frame types
const (
	ChannelSubscribe   = "SUBSCRIBE"
	ChannelUnsubscribe = "UNSUBSCRIBE"
)
