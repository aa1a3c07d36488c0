package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrClientClosed = errors.New("ws: client closed")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EnvelopeHandler recibe los envelopes entrantes que no son respuestas a un
// Request propio. Se llama desde el loop de lectura, así que no debe
// bloquear esperando al propio cliente.
type EnvelopeHandler func(ctx context.Context, env domain.Envelope)

type ClientConfig struct {
	// URL base del launcher, p. ej. ws://localhost:8765.
	URL          string
	ClusterID    int
	Handler      EnvelopeHandler
	// OnLost se llama si la conexión se cae y el único reintento falla.
	OnLost       func(err error)
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Client es el canal de control de un cluster hacia el launcher.
type Client struct {
	cfg    ClientConfig
	url    string
	logger *zap.Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	pending *xsync.MapOf[string, chan domain.AggregatedResponse]

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

var (
	_ domain.ControlPublisher = (*Client)(nil)
	_ domain.ClusterRequester = (*Client)(nil)
)

func NewClient(cfg ClientConfig) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		url:     strings.TrimRight(cfg.URL, "/") + "/" + strconv.Itoa(cfg.ClusterID),
		logger:  cfg.Logger.With(zap.String("component", "control"), zap.Int("cluster_id", cfg.ClusterID)),
		pending: xsync.NewMapOf[string, chan domain.AggregatedResponse](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// Connect abre la conexión y arranca el loop de lectura.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.state.Store(int32(StateConnecting))

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("ws: dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	if c.closed.Load() {
		c.connMu.Unlock()
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return ErrClientClosed
	}
	c.conn = conn
	c.connMu.Unlock()
	c.state.Store(int32(StateConnected))
	c.logger.Info("control channel connected", zap.String("url", c.url))

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

// Send escribe el envelope si hay conexión. Desconectado, se descarta sin error.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	if c.State() != StateConnected {
		c.cfg.Metrics.Dropped("disconnected")
		c.logger.Debug("envelope dropped, not connected", zap.String("opcode", string(env.Opcode)))
		return nil
	}
	return c.write(ctx, env)
}

func (c *Client) write(ctx context.Context, env domain.Envelope) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("ws: write %s: %w", env.Opcode, err)
	}
	c.cfg.Metrics.Sent(string(env.Opcode))
	return nil
}

// Request pide info a los clusters de target a través del launcher y
// espera la respuesta agregada.
func (c *Client) Request(ctx context.Context, info []string, target string) ([]map[string]any, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	nonce := uuid.NewString()
	ch := make(chan domain.AggregatedResponse, 1)
	c.pending.Store(nonce, ch)
	defer c.pending.Delete(nonce)

	env, err := domain.NewEnvelope(domain.OpRequest, target, domain.RequestPayload{Info: info, Nonce: nonce})
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, env); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.Responses, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClientClosed
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Opcode == "" {
			c.cfg.Metrics.Dropped("malformed")
			c.logger.Warn("malformed envelope dropped", zap.ByteString("data", truncate(data, 256)), zap.Error(err))
			continue
		}
		c.cfg.Metrics.Received(string(env.Opcode))

		if env.Opcode == domain.OpResponse && c.deliverResponse(env) {
			continue
		}
		if c.cfg.Handler != nil {
			c.cfg.Handler(c.ctx, env)
		}
	}
}

func (c *Client) deliverResponse(env domain.Envelope) bool {
	ch, ok := c.pending.LoadAndDelete(env.Target)
	if !ok {
		return false
	}
	var resp domain.AggregatedResponse
	if err := env.Decode(&resp); err != nil {
		c.logger.Warn("bad aggregated response", zap.Error(err))
	}
	ch <- resp
	return true
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
	c.state.Store(int32(StateDisconnected))

	if c.closed.Load() {
		return
	}
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.logger.Info("control channel closed by launcher")
	} else {
		c.logger.Warn("control channel lost", zap.Error(cause))
	}

	// un solo reintento; si falla, el launcher decide reiniciando el cluster
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		c.logger.Error("control channel reconnect failed", zap.Error(err))
		if c.cfg.OnLost != nil && !c.closed.Load() {
			c.cfg.OnLost(err)
		}
	}
}

// Close cierra la conexión y espera al loop de lectura.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.state.Store(int32(StateDisconnected))
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
