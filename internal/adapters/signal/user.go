package signal

import "github.com/dkeye/Relay/internal/domain"

// handleWhoAmI reports the page's member id and channel, used after a reload.
func (cl *client) handleWhoAmI() {
	resp := struct {
		Type      string             `json:"type"`
		ID        domain.MemberID    `json:"id,omitempty"`
		Channel   domain.ChannelName `json:"channel,omitempty"`
		MuteLabel string             `json:"mute_label"`
	}{
		Type:      "whoami",
		MuteLabel: cl.sess.MuteLabel(),
	}
	if id, ok := cl.sess.MemberID(); ok {
		resp.ID = id
	}
	if r := cl.ctl.deps.Registry; r != nil {
		if name, ok := r.ChannelOf(cl.sid); ok {
			resp.Channel = name
		}
	}
	cl.sendJSON(resp)
}
