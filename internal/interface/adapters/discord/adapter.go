// Package discordadapter conecta el bot con el gateway de Discord.
package discordadapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
)

// identifyDelay es la espera entre IDENTIFY de shards consecutivos.
const identifyDelay = 5 * time.Second

const intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildVoiceStates |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

type Config struct {
	Token string
	// ShardIDs son los shards de este cluster; vacío significa [0].
	ShardIDs       []int
	ShardCount     int
	SupportGuildID int64
	// Trusted marca los mensajes de owners; puede ser nil.
	Trusted func(userID int64) bool
	Logger  *zap.Logger
}

type MessageHandler func(ctx context.Context, msg domain.Message) error

// GuildRemovedHandler se llama cuando el bot sale de un servidor (no en caídas).
type GuildRemovedHandler func(ctx context.Context, guildID int64)

type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.RWMutex
	handler       MessageHandler
	onGuildRemove GuildRemovedHandler
	sessions      []*discordgo.Session
}

var (
	_ domain.OutgoingMessagePort = (*Adapter)(nil)
	_ domain.StatsSource         = (*Adapter)(nil)
)

func NewAdapter(cfg Config) *Adapter {
	if len(cfg.ShardIDs) == 0 {
		cfg.ShardIDs = []int{0}
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = len(cfg.ShardIDs)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "discord"), zap.Ints("shards", cfg.ShardIDs)),
	}
}

func (a *Adapter) SetHandler(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *Adapter) SetGuildRemovedHandler(h GuildRemovedHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onGuildRemove = h
}

// Start abre una sesión por shard y bloquea hasta que el contexto se cancela.
func (a *Adapter) Start(ctx context.Context) error {
	if a.cfg.Token == "" {
		return errors.New("discord: empty token")
	}

	for i, shardID := range a.cfg.ShardIDs {
		if i > 0 {
			select {
			case <-ctx.Done():
				a.closeSessions()
				return ctx.Err()
			case <-time.After(identifyDelay):
			}
		}

		s, err := discordgo.New("Bot " + a.cfg.Token)
		if err != nil {
			a.closeSessions()
			return fmt.Errorf("discord: new session: %w", err)
		}
		s.ShardID = shardID
		s.ShardCount = a.cfg.ShardCount
		s.Identify.Intents = intents
		s.AddHandler(a.onMessageCreate(ctx))
		s.AddHandler(a.onGuildDelete(ctx))

		if err := s.Open(); err != nil {
			a.closeSessions()
			return fmt.Errorf("discord: open shard %d: %w", shardID, err)
		}

		a.mu.Lock()
		a.sessions = append(a.sessions, s)
		a.mu.Unlock()
		a.logger.Info("shard connected", zap.Int("shard_id", shardID), zap.Int("shard_count", a.cfg.ShardCount))
	}

	<-ctx.Done()
	a.closeSessions()
	return ctx.Err()
}

func (a *Adapter) closeSessions() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = nil
	a.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			a.logger.Warn("close session", zap.Int("shard_id", s.ShardID), zap.Error(err))
		}
	}
}

func (a *Adapter) onMessageCreate(ctx context.Context) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}

		a.mu.RLock()
		handler := a.handler
		a.mu.RUnlock()
		if handler == nil {
			return
		}

		msg := a.mapMessage(s, m.Message)
		if err := handler(ctx, msg); err != nil {
			a.logger.Error("message handler failed",
				zap.Int64("guild_id", msg.GuildID), zap.String("channel_id", msg.ChannelID), zap.Error(err))
		}
	}
}

func (a *Adapter) onGuildDelete(ctx context.Context) func(*discordgo.Session, *discordgo.GuildDelete) {
	return func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Guild == nil || g.Unavailable {
			return
		}
		guildID, err := strconv.ParseInt(g.ID, 10, 64)
		if err != nil {
			return
		}

		a.mu.RLock()
		handler := a.onGuildRemove
		a.mu.RUnlock()
		if handler != nil {
			a.logger.Info("removed from guild", zap.Int64("guild_id", guildID))
			handler(ctx, guildID)
		}
	}
}

func (a *Adapter) mapMessage(s *discordgo.Session, m *discordgo.Message) domain.Message {
	userID, _ := strconv.ParseInt(m.Author.ID, 10, 64)
	guildID, _ := strconv.ParseInt(m.GuildID, 10, 64)

	msg := domain.Message{
		ID:        m.ID,
		GuildID:   guildID,
		ChannelID: m.ChannelID,
		UserID:    userID,
		Username:  m.Author.Username,
		Text:      m.Content,
		IsPrivate: m.GuildID == "",
		IsBot:     m.Author.Bot,
	}
	if a.cfg.Trusted != nil {
		msg.IsOwner = a.cfg.Trusted(userID)
	}
	if !msg.IsPrivate {
		perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err == nil {
			msg.IsAdmin = perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0
		}
	}
	return msg
}

func (a *Adapter) restSession() (*discordgo.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.sessions) == 0 {
		return nil, errors.New("discord: not connected")
	}
	return a.sessions[0], nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, text string) error {
	s, err := a.restSession()
	if err != nil {
		return err
	}
	if _, err := s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func (a *Adapter) SendFile(ctx context.Context, channelID, name string, data []byte) error {
	s, err := a.restSession()
	if err != nil {
		return err
	}
	if _, err := s.ChannelFileSend(channelID, name, bytes.NewReader(data), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send file: %w", err)
	}
	return nil
}

// Latency es el promedio de heartbeat de los shards de este proceso.
func (a *Adapter) Latency() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.sessions) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range a.sessions {
		total += s.HeartbeatLatency()
	}
	return total / time.Duration(len(a.sessions))
}

func (a *Adapter) eachGuild(fn func(s *discordgo.Session, g *discordgo.Guild)) {
	a.mu.RLock()
	sessions := append([]*discordgo.Session(nil), a.sessions...)
	a.mu.RUnlock()

	for _, s := range sessions {
		s.State.RLock()
		for _, g := range s.State.Guilds {
			fn(s, g)
		}
		s.State.RUnlock()
	}
}

func (a *Adapter) GuildCount() int {
	n := 0
	a.eachGuild(func(*discordgo.Session, *discordgo.Guild) { n++ })
	return n
}

func (a *Adapter) MemberCount() int {
	n := 0
	a.eachGuild(func(_ *discordgo.Session, g *discordgo.Guild) { n += g.MemberCount })
	return n
}

// VoiceCount cuenta los servidores donde el bot está en un canal de voz.
func (a *Adapter) VoiceCount() int {
	n := 0
	a.eachGuild(func(s *discordgo.Session, g *discordgo.Guild) {
		if s.State.User == nil {
			return
		}
		for _, vs := range g.VoiceStates {
			if vs.UserID == s.State.User.ID && vs.ChannelID != "" {
				n++
				return
			}
		}
	})
	return n
}

func (a *Adapter) HasSupportGuild() bool {
	if a.cfg.SupportGuildID == 0 {
		return false
	}
	target := strconv.FormatInt(a.cfg.SupportGuildID, 10)
	found := false
	a.eachGuild(func(_ *discordgo.Session, g *discordgo.Guild) {
		if g.ID == target {
			found = true
		}
	})
	return found
}

// RecommendedShards pregunta al gateway cuántos shards usar.
func RecommendedShards(ctx context.Context, token string) (int, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return 0, fmt.Errorf("discord: new session: %w", err)
	}
	resp, err := s.GatewayBot(discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("discord: gateway bot: %w", err)
	}
	if resp.Shards <= 0 {
		return 1, nil
	}
	return resp.Shards, nil
}
