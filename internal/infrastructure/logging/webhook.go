package logging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	webhookFlushInterval = time.Second
	maxMessageLength     = 2000
	defaultAvatarURL     = "https://cdn.discordapp.com/embed/avatars/%d.png"
)

var avatars = map[zapcore.Level]int{
	zapcore.InfoLevel:  0,
	zapcore.DebugLevel: 1,
	zapcore.WarnLevel:  3,
	zapcore.ErrorLevel: 4,
}

type WebhookMessage struct {
	Username  string
	AvatarURL string
	Content   string
}

// Poster entrega un mensaje a un webhook.
type Poster interface {
	Post(ctx context.Context, webhookURL string, msg WebhookMessage) error
}

type discordPoster struct {
	session *discordgo.Session
}

// NewDiscordPoster usa la API de webhooks de discordgo; ejecutar un webhook
// no necesita token de bot.
func NewDiscordPoster() Poster {
	session, _ := discordgo.New("")
	return &discordPoster{session: session}
}

func (p *discordPoster) Post(ctx context.Context, webhookURL string, msg WebhookMessage) error {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return err
	}
	_, err = p.session.WebhookExecute(id, token, false, &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
	}, discordgo.WithContext(ctx))
	return err
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("logging: webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("logging: webhook url without id/token")
}

type WebhookConfig struct {
	Prefix    string
	LogsURL   string
	ErrorsURL string
	Poster    Poster
	Interval  time.Duration
}

// WebhookSink junta las líneas por severidad y las manda una vez por
// intervalo. El loop arranca con la primera línea y para cuando no queda nada.
type WebhookSink struct {
	cfg WebhookConfig

	mu      sync.Mutex
	pending map[zapcore.Level][]string
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Interval <= 0 {
		cfg.Interval = webhookFlushInterval
	}
	return &WebhookSink{
		cfg:     cfg,
		pending: make(map[zapcore.Level][]string),
		stop:    make(chan struct{}),
	}
}

func (s *WebhookSink) Add(level zapcore.Level, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[level] = append(s.pending[level], line)
	if !s.running {
		s.running = true
		s.wg.Add(1)
		go s.run()
	}
}

func (s *WebhookSink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.flush(context.Background(), true)
			return
		case <-ticker.C:
		}
		if !s.flush(context.Background(), true) {
			return
		}
	}
}

// Flush manda ya todo lo pendiente.
func (s *WebhookSink) Flush(ctx context.Context) {
	s.flush(ctx, false)
}

// flush devuelve false si no había nada. Con stopWhenIdle deja el loop
// marcado como detenido dentro del mismo lock.
func (s *WebhookSink) flush(ctx context.Context, stopWhenIdle bool) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		if stopWhenIdle {
			s.running = false
		}
		s.mu.Unlock()
		return false
	}
	batch := s.pending
	s.pending = make(map[zapcore.Level][]string)
	s.mu.Unlock()

	levels := make([]zapcore.Level, 0, len(batch))
	for lvl := range batch {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	for _, lvl := range levels {
		s.send(ctx, lvl, batch[lvl])
	}
	return true
}

func (s *WebhookSink) send(ctx context.Context, level zapcore.Level, lines []string) {
	target := s.cfg.LogsURL
	if level >= zapcore.ErrorLevel && s.cfg.ErrorsURL != "" {
		target = s.cfg.ErrorsURL
	}
	if target == "" {
		return
	}

	var sb strings.Builder
	for _, line := range lines {
		if level >= zapcore.WarnLevel {
			line = "**" + line + "**"
		}
		sb.WriteString(s.cfg.Prefix)
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	avatar, ok := avatars[level]
	if !ok {
		avatar = 5
	}
	for _, chunk := range chunkString(sb.String(), maxMessageLength) {
		msg := WebhookMessage{
			Username:  fmt.Sprintf("TTS-Webhook [%s]", level.CapitalString()),
			AvatarURL: fmt.Sprintf(defaultAvatarURL, avatar),
			Content:   chunk,
		}
		// un webhook caído no puede loguearse a sí mismo
		_ = s.cfg.Poster.Post(ctx, target, msg)
	}
}

func (s *WebhookSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

func chunkString(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// webhookCore es un zapcore.Core que escribe en un WebhookSink.
type webhookCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink *WebhookSink
}

func NewWebhookCore(level zapcore.LevelEnabler, sink *WebhookSink) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.LevelKey = ""
	encCfg.CallerKey = ""
	return &webhookCore{
		LevelEnabler: level,
		enc:          zapcore.NewConsoleEncoder(encCfg),
		sink:         sink,
	}
}

func (c *webhookCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &webhookCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone(), sink: c.sink}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *webhookCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *webhookCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	c.sink.Add(ent.Level, line)
	return nil
}

func (c *webhookCore) Sync() error {
	c.sink.Flush(context.Background())
	return nil
}
