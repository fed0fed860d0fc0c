package auth

import "slices"

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Wildcard matches any channel or member id/name.
const Wildcard = "*"

type Scope struct {
	App AppScope `json:"app"`
}

type AppScope struct {
	ID        string         `json:"id"`
	Turn      bool           `json:"turn"`
	Analytics bool           `json:"analytics"`
	Actions   []Action       `json:"actions"`
	Channels  []ChannelScope `json:"channels,omitempty"`
}

type ChannelScope struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Actions []Action      `json:"actions"`
	Members []MemberScope `json:"members,omitempty"`
	SfuBots []SfuBotScope `json:"sfuBots,omitempty"`
}

type MemberScope struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Actions      []Action    `json:"actions"`
	Publication  ActionScope `json:"publication"`
	Subscription ActionScope `json:"subscription"`
}

type SfuBotScope struct {
	Actions     []Action      `json:"actions"`
	Forwardings []ActionScope `json:"forwardings,omitempty"`
}

type ActionScope struct {
	Actions []Action `json:"actions"`
}

// DemoScope grants what the demo page needs on every channel and member of appID.
func DemoScope(appID string) Scope {
	write := []Action{ActionWrite}
	return Scope{App: AppScope{
		ID:        appID,
		Turn:      true,
		Analytics: true,
		Actions:   []Action{ActionRead},
		Channels: []ChannelScope{{
			ID:      Wildcard,
			Name:    Wildcard,
			Actions: write,
			Members: []MemberScope{{
				ID:           Wildcard,
				Name:         Wildcard,
				Actions:      write,
				Publication:  ActionScope{Actions: write},
				Subscription: ActionScope{Actions: write},
			}},
			SfuBots: []SfuBotScope{{
				Actions:     write,
				Forwardings: []ActionScope{{Actions: write}},
			}},
		}},
	}}
}

type Level int

const (
	LevelApp Level = iota
	LevelChannel
	LevelMember
	LevelPublication
	LevelSubscription
	LevelSfuBot
	LevelForwarding
)

func (l Level) String() string {
	switch l {
	case LevelApp:
		return "app"
	case LevelChannel:
		return "channel"
	case LevelMember:
		return "member"
	case LevelPublication:
		return "publication"
	case LevelSubscription:
		return "subscription"
	case LevelSfuBot:
		return "sfuBot"
	case LevelForwarding:
		return "forwarding"
	}
	return "unknown"
}

// Resource identifies what an action targets. Empty ids and names are not
// matched against the scope, so a channel can be authorised before it exists.
type Resource struct {
	Level       Level
	ChannelID   string
	ChannelName string
	MemberID    string
	MemberName  string
}

func (s Scope) Allows(action Action, r Resource) bool {
	if r.Level == LevelApp {
		return grants(s.App.Actions, action)
	}
	for _, ch := range s.App.Channels {
		if !matches(ch.ID, r.ChannelID) || !matches(ch.Name, r.ChannelName) {
			continue
		}
		switch r.Level {
		case LevelChannel:
			if grants(ch.Actions, action) {
				return true
			}
		case LevelMember, LevelPublication, LevelSubscription:
			for _, m := range ch.Members {
				if !matches(m.ID, r.MemberID) || !matches(m.Name, r.MemberName) {
					continue
				}
				if memberGrants(m, r.Level, action) {
					return true
				}
			}
		case LevelSfuBot, LevelForwarding:
			for _, bot := range ch.SfuBots {
				if r.Level == LevelSfuBot && grants(bot.Actions, action) {
					return true
				}
				if r.Level == LevelForwarding {
					for _, fw := range bot.Forwardings {
						if grants(fw.Actions, action) {
							return true
						}
					}
				}
			}
		}
	}
	return false
}

func memberGrants(m MemberScope, l Level, action Action) bool {
	switch l {
	case LevelMember:
		return grants(m.Actions, action)
	case LevelPublication:
		return grants(m.Publication.Actions, action)
	case LevelSubscription:
		return grants(m.Subscription.Actions, action)
	}
	return false
}

// write implies read
func grants(actions []Action, want Action) bool {
	if slices.Contains(actions, want) {
		return true
	}
	return want == ActionRead && slices.Contains(actions, ActionWrite)
}

func matches(pattern, value string) bool {
	return value == "" || pattern == Wildcard || pattern == value
}
