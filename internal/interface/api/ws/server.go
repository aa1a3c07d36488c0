package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
)

// ServerHandler recibe cada envelope de un cluster, ya con Origin marcado.
type ServerHandler func(ctx context.Context, clusterID int, env domain.Envelope)

type ServerConfig struct {
	Addr         string
	Handler      ServerHandler
	OnConnect    func(clusterID int)
	OnDisconnect func(clusterID int)
	WriteTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Server es el extremo del launcher: un endpoint WebSocket en
// ws://host:port/{cluster_id} por cada cluster.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients *xsync.MapOf[int, *wsClient]

	mu      sync.Mutex
	httpSrv *http.Server
}

type wsClient struct {
	clusterID int
	conn      *websocket.Conn
	mu        sync.Mutex
}

func (c *wsClient) writeJSON(v any, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  cfg.Logger.With(zap.String("component", "ws-server")),
		clients: xsync.NewMapOf[int, *wsClient](),
	}
}

// Handler expone el endpoint para montarlo en otro mux o en un httptest.Server.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
}

// Start levanta el HTTP server y se bloquea hasta que el contexto se cancela.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(ctx),
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("websocket server listening", zap.String("addr", s.cfg.Addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clusterID, err := strconv.Atoi(strings.Trim(r.URL.Path, "/"))
	if err != nil || clusterID < 0 {
		http.Error(w, "cluster id expected in path", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{clusterID: clusterID, conn: conn}
	if previous, loaded := s.clients.LoadAndStore(clusterID, client); loaded {
		// un cluster reconectando reemplaza a su conexión anterior
		_ = previous.conn.Close()
	}
	s.cfg.Metrics.Connected(s.clients.Size())
	s.logger.Info("cluster connected", zap.Int("cluster_id", clusterID), zap.String("remote", r.RemoteAddr))
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(clusterID)
	}

	go s.handleClient(ctx, client)
}

func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	defer func() {
		client.conn.Close()
		removed := s.remove(client)
		s.cfg.Metrics.Connected(s.clients.Size())
		if removed {
			s.logger.Info("cluster disconnected", zap.Int("cluster_id", client.clusterID))
			if s.cfg.OnDisconnect != nil {
				s.cfg.OnDisconnect(client.clusterID)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", zap.Int("cluster_id", client.clusterID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Opcode == "" {
			s.cfg.Metrics.Dropped("malformed")
			s.logger.Warn("malformed envelope dropped", zap.Int("cluster_id", client.clusterID), zap.Error(err))
			continue
		}
		s.cfg.Metrics.Received(string(env.Opcode))

		if s.cfg.Handler != nil {
			s.cfg.Handler(ctx, client.clusterID, env.WithOrigin(client.clusterID))
		}
	}
}

// SendTo escribe el envelope a un cluster. Si la escritura falla la
// conexión se descarta.
func (s *Server) SendTo(clusterID int, env domain.Envelope) error {
	client, ok := s.clients.Load(clusterID)
	if !ok {
		return fmt.Errorf("%w: cluster %d", ErrNotConnected, clusterID)
	}
	if err := client.writeJSON(env, s.cfg.WriteTimeout); err != nil {
		s.logger.Warn("removing cluster due to write error", zap.Int("cluster_id", clusterID), zap.Error(err))
		if s.remove(client) {
			s.cfg.Metrics.Connected(s.clients.Size())
		}
		_ = client.conn.Close()
		return fmt.Errorf("ws: write to cluster %d: %w", clusterID, err)
	}
	s.cfg.Metrics.Sent(string(env.Opcode))
	return nil
}

// Broadcast escribe a todos los clusters conectados menos los de skip.
func (s *Server) Broadcast(env domain.Envelope, skip ...int) {
	for _, id := range s.Connected() {
		if containsInt(skip, id) {
			continue
		}
		_ = s.SendTo(id, env)
	}
}

// Connected devuelve los ids conectados, ordenados.
func (s *Server) Connected() []int {
	ids := make([]int, 0, s.clients.Size())
	s.clients.Range(func(id int, _ *wsClient) bool {
		ids = append(ids, id)
		return true
	})
	sort.Ints(ids)
	return ids
}

func (s *Server) IsConnected(clusterID int) bool {
	_, ok := s.clients.Load(clusterID)
	return ok
}

// remove borra la conexión solo si sigue siendo la registrada para su cluster.
func (s *Server) remove(client *wsClient) bool {
	removed := false
	s.clients.Compute(client.clusterID, func(old *wsClient, loaded bool) (*wsClient, bool) {
		if loaded && old == client {
			removed = true
			return nil, true
		}
		return old, !loaded
	})
	return removed
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
