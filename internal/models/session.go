package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session is one connected change-channel client.
type Session struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// MessageType names a change-channel message.
type MessageType string

const (
	// MessageTypeDataUpdate carries a full replacement document.
	MessageTypeDataUpdate MessageType = "dataUpdate"
)

// ChannelMessage is the change-channel envelope. Data is always the whole
// document, never a diff.
type ChannelMessage struct {
	Type      MessageType `json:"type"`
	Data      Document    `json:"data"`
	UpdatedAt int64       `json:"updatedAt,omitempty"`
}

// NewDataUpdate builds the message announcing v.
func NewDataUpdate(v VersionedDocument) ChannelMessage {
	return ChannelMessage{
		Type:      MessageTypeDataUpdate,
		Data:      v.Data,
		UpdatedAt: v.UpdatedAt,
	}
}

func NewSession(remoteAddr string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
}
