package domain

import "github.com/google/uuid"

type (
	PublicationID  string
	SubscriptionID string
	BotID          string
	ForwardingID   string
)

type ContentType string

const (
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentData  ContentType = "data"
)

type PublicationState string

const (
	PublicationEnabled  PublicationState = "enabled"
	PublicationDisabled PublicationState = "disabled"
	PublicationCanceled PublicationState = "canceled"
)

func NewPublicationID() PublicationID   { return PublicationID(uuid.NewString()) }
func NewSubscriptionID() SubscriptionID { return SubscriptionID(uuid.NewString()) }
func NewForwardingID() ForwardingID     { return ForwardingID(uuid.NewString()) }
