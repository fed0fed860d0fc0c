package http

import (
	"net/http"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ChannelDirectory is the backend's view of its channels.
type ChannelDirectory interface {
	List() []domain.ChannelInfo
	Get(name domain.ChannelName) (domain.ChannelInfo, bool)
	Evict(name domain.ChannelName) bool
}

// Kicker disconnects the pages joined to a channel.
type Kicker interface {
	KickChannel(name domain.ChannelName) int
}

type TokenIssuer interface {
	Issue() (string, error)
}

type Handlers struct {
	Channels ChannelDirectory
	Pages    Kicker
	// Tokens is only exposed when set.
	Tokens TokenIssuer
}

type errorResponse struct {
	Error string `json:"error"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type kickResponse struct {
	Channel domain.ChannelName `json:"channel"`
	Kicked  int                `json:"kicked"`
}

func (h *Handlers) Register(api *gin.RouterGroup) {
	api.GET("/channels", h.listChannels)
	api.GET("/channels/:name", h.getChannel)
	api.DELETE("/channels/:name", h.deleteChannel)
	if h.Tokens != nil {
		api.POST("/token", h.issueToken)
	}
}

func channelName(c *gin.Context) (domain.ChannelName, bool) {
	name := domain.ChannelName(c.Param("name"))
	if err := name.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", false
	}
	return name, true
}

func (h *Handlers) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.Channels.List()})
}

func (h *Handlers) getChannel(c *gin.Context) {
	name, ok := channelName(c)
	if !ok {
		return
	}
	info, found := h.Channels.Get(name)
	if !found {
		c.JSON(http.StatusNotFound, errorResponse{Error: "channel not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// deleteChannel disconnects every page in the channel and drops it.
func (h *Handlers) deleteChannel(c *gin.Context) {
	name, ok := channelName(c)
	if !ok {
		return
	}
	kicked := 0
	if h.Pages != nil {
		kicked = h.Pages.KickChannel(name)
	}
	evicted := h.Channels.Evict(name)
	if !evicted && kicked == 0 {
		c.JSON(http.StatusNotFound, errorResponse{Error: "channel not found"})
		return
	}
	log.Info().Str("module", "transport.http").Str("channel", string(name)).Int("kicked", kicked).Msg("channel deleted")
	c.JSON(http.StatusOK, kickResponse{Channel: name, Kicked: kicked})
}

func (h *Handlers) issueToken(c *gin.Context) {
	token, err := h.Tokens.Issue()
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("issue token")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "token unavailable"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}
