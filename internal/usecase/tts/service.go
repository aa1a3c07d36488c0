package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hegedustibor/htgo-tts/voices"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
)

const (
	defaultEndpoint = "https://translate.google.com/translate_tts"
	defaultLang     = voices.English
	chunkSize       = 200
	// MaxTextLength es el largo a partir del cual un mensaje no se lee.
	MaxTextLength = 1500
)

var (
	ErrEmptyText        = errors.New("tts: empty text")
	ErrTextTooLong      = errors.New("tts: text too long")
	ErrAudioTooLong     = errors.New("tts: audio longer than the guild limit")
	ErrUnsupportedVoice = errors.New("tts: unsupported voice")
)

type Voice struct {
	Code  string
	Label string
}

// Settings es la vista de lectura de una tabla de settings.
type Settings interface {
	Get(ctx context.Context, id domain.Identifier) (domain.Record, error)
}

type Config struct {
	Guilds Settings
	Users  Settings
	// Cache puede ser nil.
	Cache      domain.AudioCache
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Speech es un mensaje ya sintetizado.
type Speech struct {
	Audio    []byte
	Voice    Voice
	Duration time.Duration
	Cached   bool
}

type Service struct {
	guilds   Settings
	users    Settings
	cache    domain.AudioCache
	endpoint string
	httpCli  *http.Client
	voices   []Voice
	logger   *zap.Logger

	measure func(audio []byte) (time.Duration, error)
}

func NewService(cfg Config) *Service {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		guilds:   cfg.Guilds,
		users:    cfg.Users,
		cache:    cfg.Cache,
		endpoint: cfg.Endpoint,
		httpCli:  cfg.HTTPClient,
		voices: []Voice{
			{Code: voices.English, Label: "English (US)"},
			{Code: voices.EnglishUK, Label: "English (UK)"},
			{Code: voices.Spanish, Label: "Español"},
			{Code: voices.Portuguese, Label: "Português"},
			{Code: voices.French, Label: "Français"},
			{Code: voices.German, Label: "Deutsch"},
			{Code: voices.Italian, Label: "Italiano"},
			{Code: voices.Dutch, Label: "Nederlands"},
			{Code: voices.Russian, Label: "Русский"},
			{Code: voices.Japanese, Label: "日本語"},
		},
		logger:  cfg.Logger.With(zap.String("component", "tts")),
		measure: mp3Duration,
	}
}

func (s *Service) ListVoices() []Voice {
	return append([]Voice(nil), s.voices...)
}

// FindVoice acepta el código exacto o con región (es-es cae en es).
func (s *Service) FindVoice(code string) (Voice, bool) {
	code = normalizeVoice(code)
	if code == "" {
		return Voice{}, false
	}
	for _, v := range s.voices {
		if normalizeVoice(v.Code) == code {
			return v, true
		}
	}
	if idx := strings.Index(code, "-"); idx > 0 {
		return s.FindVoice(code[:idx])
	}
	return Voice{}, false
}

// ResolveVoice elige la voz del usuario, si no la del servidor, si no inglés.
func (s *Service) ResolveVoice(ctx context.Context, guildID, userID int64) (Voice, error) {
	if s.users != nil && userID != 0 {
		rec, err := s.users.Get(ctx, domain.ID(userID))
		if err != nil {
			return Voice{}, fmt.Errorf("tts: user settings: %w", err)
		}
		if v, ok := s.FindVoice(rec.Text("lang")); ok {
			return v, nil
		}
	}
	if s.guilds != nil && guildID != 0 {
		rec, err := s.guilds.Get(ctx, domain.ID(guildID))
		if err != nil {
			return Voice{}, fmt.Errorf("tts: guild settings: %w", err)
		}
		if v, ok := s.FindVoice(rec.Text("default_lang")); ok {
			return v, nil
		}
	}
	v, _ := s.FindVoice(defaultLang)
	return v, nil
}

// Speak prepara el texto con los límites del servidor y lo sintetiza.
func (s *Service) Speak(ctx context.Context, guildID, userID int64, text string) (Speech, error) {
	voice, err := s.ResolveVoice(ctx, guildID, userID)
	if err != nil {
		return Speech{}, err
	}

	var maxLength time.Duration
	if s.guilds != nil && guildID != 0 {
		rec, err := s.guilds.Get(ctx, domain.ID(guildID))
		if err != nil {
			return Speech{}, fmt.Errorf("tts: guild settings: %w", err)
		}
		text = LimitRepeated(text, int(rec.Int("repeated_chars")))
		maxLength = time.Duration(rec.Int("msg_length")) * time.Second
	}

	speech, err := s.Synthesize(ctx, text, voice.Code)
	if err != nil {
		return Speech{}, err
	}
	if maxLength > 0 && speech.Duration > maxLength {
		return Speech{}, fmt.Errorf("%w: %s > %s", ErrAudioTooLong, speech.Duration, maxLength)
	}
	return speech, nil
}

// Synthesize devuelve el mp3 para el texto, del cache si ya existe.
func (s *Service) Synthesize(ctx context.Context, text, lang string) (Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Speech{}, ErrEmptyText
	}
	if len([]rune(text)) > MaxTextLength {
		return Speech{}, ErrTextTooLong
	}
	voice, ok := s.FindVoice(lang)
	if !ok {
		return Speech{}, fmt.Errorf("%w: %q", ErrUnsupportedVoice, lang)
	}

	if s.cache != nil {
		audio, hit, err := s.cache.Get(ctx, text, voice.Code)
		if err != nil {
			s.logger.Warn("audio cache read failed", zap.Error(err))
		} else if hit {
			if dur, err := s.measure(audio); err == nil {
				return Speech{Audio: audio, Voice: voice, Duration: dur, Cached: true}, nil
			}
			s.logger.Warn("cached audio is not valid mp3, regenerating")
		}
	}

	audio, err := s.generate(ctx, text, voice.Code)
	if err != nil {
		return Speech{}, err
	}
	dur, err := s.measure(audio)
	if err != nil {
		return Speech{}, fmt.Errorf("tts: invalid mp3: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, audio, text, voice.Code); err != nil {
			s.logger.Warn("audio cache write failed", zap.Error(err))
		}
	}
	return Speech{Audio: audio, Voice: voice, Duration: dur}, nil
}

func (s *Service) generate(ctx context.Context, text, lang string) ([]byte, error) {
	runes := []rune(text)
	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		audio, err := s.fetchChunk(ctx, string(runes[start:end]), lang)
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	return buf.Bytes(), nil
}

func (s *Service) fetchChunk(ctx context.Context, text, lang string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: google tts status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// mp3Duration decodifica el mp3 completo; go-mp3 entrega PCM de 16 bits
// estéreo, o sea 4 bytes por muestra.
func mp3Duration(audio []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return 0, err
	}
	if dec.SampleRate() <= 0 {
		return 0, errors.New("tts: mp3 without sample rate")
	}
	samples := dec.Length() / 4
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}

// LimitRepeated recorta cualquier racha de un mismo carácter a limit
// repeticiones. limit <= 0 no recorta nada.
func LimitRepeated(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	var sb strings.Builder
	var last rune
	run := 0
	for i, r := range text {
		if i > 0 && r == last {
			run++
		} else {
			run = 1
			last = r
		}
		if run <= limit {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func normalizeVoice(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
