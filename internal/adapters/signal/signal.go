package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/adapters/rtc"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/session"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/media"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Deps wires the controller to the backend and the transport settings.
type Deps struct {
	Backend     core.Backend
	Credentials session.Credentials
	NewPlugin   func() core.BotPlugin
	Profile     config.Profile
	LogLevel    zerolog.Level

	API *webrtc.API
	ICE webrtc.Configuration

	Registry *app.Registry
	Policy   app.Policy
	Limiter  *JoinLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

type SignalWSController struct {
	deps Deps
}

func NewSignalWSController(deps Deps) *SignalWSController {
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if deps.PingPeriod <= 0 {
		deps.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{deps: deps}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is one page: its signaling connection, the capture pool fed by its
// peer connection and the session driving it.
type client struct {
	ctl    *SignalWSController
	sid    app.SessionID
	token  string
	conn   core.SignalConnection
	pool   *media.Pool
	sess   *session.Session
	cancel context.CancelFunc
	logger zerolog.Logger

	mu     sync.Mutex
	mc     core.MediaConnection
	ingest *rtc.Ingest
}

func (ctl *SignalWSController) newClient(sid app.SessionID, token string, conn core.SignalConnection, cancel context.CancelFunc) *client {
	cl := &client{
		ctl:    ctl,
		sid:    sid,
		token:  token,
		conn:   conn,
		pool:   media.NewPool(string(sid)),
		cancel: cancel,
		logger: log.With().Str("module", "signal").Str("sid", string(sid)).Logger(),
	}
	cl.sess = session.New(session.Options{
		Backend:     ctl.deps.Backend,
		Streams:     cl.pool,
		Credentials: ctl.deps.Credentials,
		View:        cl,
		Profile:     ctl.deps.Profile,
		Plugin:      ctl.deps.NewPlugin(),
		LogLevel:    ctl.deps.LogLevel,
		Owner:       string(sid),
	})
	return cl
}

func (cl *client) mediaConn() core.MediaConnection {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.mc
}

// close tears the page down once its connection is gone.
func (cl *client) close() {
	cl.cancel()
	cl.sess.Close(context.Background())
	if mc := cl.mediaConn(); mc != nil {
		mc.Close()
	}
	cl.conn.Close()
	if cl.ctl.deps.Registry != nil {
		cl.ctl.deps.Registry.Unbind(cl.sid)
	}
	if p, ok := cl.ctl.deps.Policy.(interface{ Forget(app.SessionID) }); ok {
		p.Forget(cl.sid)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	sid := app.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.deps.ReadLimit > 0 {
		ws.SetReadLimit(ctl.deps.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := ctl.newClient(sid, token, conn, cancel)
	if ctl.deps.Registry != nil {
		ctl.deps.Registry.Bind(sid, token, cancel)
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cl, conn)
}
