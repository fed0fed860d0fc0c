package domain

import "github.com/google/uuid"

const MaxChannelNameLen = 128

type (
	ChannelName string
	ChannelID   string
)

type Channel struct {
	ID   ChannelID   `json:"id"`
	Name ChannelName `json:"name"`
}

func NewChannelID() ChannelID { return ChannelID(uuid.NewString()) }

func (n ChannelName) Validate() error {
	if n == "" {
		return ErrChannelNameEmpty
	}
	if len(n) > MaxChannelNameLen {
		return ErrChannelNameLong
	}
	return nil
}

// ChannelInfo is what the HTTP API reports about a channel.
type ChannelInfo struct {
	ID           ChannelID   `json:"id"`
	Name         ChannelName `json:"name"`
	MemberCount  int         `json:"member_count"`
	Publications int         `json:"publication_count"`
}
