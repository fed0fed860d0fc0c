// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxMemberNameLen = 128

var (
	ErrMemberNameTooLong = errors.New("member name too long")
	ErrChannelNameEmpty  = errors.New("channel name empty")
	ErrChannelNameLong   = errors.New("channel name too long")
)

type (
	MemberID      string
	MemberType    string
	MemberSubtype string
)

const (
	MemberTypePerson MemberType = "person"
	MemberTypeBot    MemberType = "bot"

	SubtypePerson MemberSubtype = "person"
	// SubtypeSFU marks members that re-publish other members' streams.
	SubtypeSFU MemberSubtype = "sfu"
)

// MemberInfo is a read-only view of a channel member.
type MemberInfo struct {
	ID      MemberID      `json:"id"`
	Name    string        `json:"name,omitempty"`
	Type    MemberType    `json:"type"`
	Subtype MemberSubtype `json:"subtype"`
}

func NewMemberID() MemberID { return MemberID(uuid.NewString()) }

// ValidateMemberName allows an empty name (anonymous member).
func ValidateMemberName(name string) error {
	if len(name) > MaxMemberNameLen {
		return ErrMemberNameTooLong
	}
	return nil
}
