package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
)

type staticSettings map[domain.Identifier]domain.Record

func (s staticSettings) Get(_ context.Context, id domain.Identifier) (domain.Record, error) {
	if rec, ok := s[id]; ok {
		return rec.Clone(), nil
	}
	return domain.Record{}, nil
}

type failingSettings struct{}

func (failingSettings) Get(context.Context, domain.Identifier) (domain.Record, error) {
	return nil, errors.New("db down")
}

type memAudioCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memAudioCache) key(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p + "|"
	}
	return out
}

func (c *memAudioCache) Get(_ context.Context, parts ...string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[c.key(parts)]
	return v, ok, nil
}

func (c *memAudioCache) Set(_ context.Context, audio []byte, parts ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[c.key(parts)] = audio
	return nil
}

// fakeTTS responde con "audio" y cuenta las peticiones.
func fakeTTS(t *testing.T) (*httptest.Server, *atomic.Int32, *sync.Map) {
	t.Helper()
	var calls atomic.Int32
	var langs sync.Map
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		langs.Store(r.URL.Query().Get("tl"), true)
		_, _ = w.Write([]byte("audio"))
	}))
	t.Cleanup(ts.Close)
	return ts, &calls, &langs
}

// un segundo por byte
func byteSeconds(audio []byte) (time.Duration, error) {
	return time.Duration(len(audio)) * time.Second, nil
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := NewService(cfg)
	s.measure = byteSeconds
	return s
}

func TestSynthesize_UsesCache(t *testing.T) {
	ts, calls, _ := fakeTTS(t)
	cache := &memAudioCache{}
	s := newTestService(t, Config{Endpoint: ts.URL, Cache: cache})

	first, err := s.Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, []byte("audio"), first.Audio)
	assert.Equal(t, 5*time.Second, first.Duration)

	second, err := s.Synthesize(context.Background(), "  hello ", "EN")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSynthesize_ChunksLongText(t *testing.T) {
	ts, calls, _ := fakeTTS(t)
	s := newTestService(t, Config{Endpoint: ts.URL})

	text := make([]rune, chunkSize*2+10)
	for i := range text {
		text[i] = 'a'
	}
	speech, err := s.Synthesize(context.Background(), string(text), "en")
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, speech.Audio, 15)
}

func TestSynthesize_Errors(t *testing.T) {
	s := newTestService(t, Config{Endpoint: "http://127.0.0.1:1"})

	_, err := s.Synthesize(context.Background(), "   ", "en")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = s.Synthesize(context.Background(), "hi", "klingon")
	assert.ErrorIs(t, err, ErrUnsupportedVoice)

	long := make([]byte, MaxTextLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.Synthesize(context.Background(), string(long), "en")
	assert.ErrorIs(t, err, ErrTextTooLong)
}

func TestSynthesize_UpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	s := newTestService(t, Config{Endpoint: ts.URL})
	_, err := s.Synthesize(context.Background(), "hi", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestResolveVoice_Precedence(t *testing.T) {
	guilds := staticSettings{domain.ID(1): {"default_lang": "es"}}
	users := staticSettings{domain.ID(10): {"lang": "fr"}}
	s := newTestService(t, Config{Guilds: guilds, Users: users})

	v, err := s.ResolveVoice(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "fr", v.Code)

	v, err = s.ResolveVoice(context.Background(), 1, 11)
	require.NoError(t, err)
	assert.Equal(t, "es", v.Code)

	v, err = s.ResolveVoice(context.Background(), 2, 11)
	require.NoError(t, err)
	assert.Equal(t, "en", v.Code)

	broken := newTestService(t, Config{Users: failingSettings{}})
	_, err = broken.ResolveVoice(context.Background(), 1, 10)
	assert.Error(t, err)
}

func TestSpeak_AppliesGuildLimits(t *testing.T) {
	ts, _, langs := fakeTTS(t)
	guilds := staticSettings{
		domain.ID(1): {"default_lang": "de", "msg_length": int64(30), "repeated_chars": int64(2)},
		domain.ID(2): {"msg_length": int64(3)},
	}
	s := newTestService(t, Config{Endpoint: ts.URL, Guilds: guilds})

	speech, err := s.Speak(context.Background(), 1, 0, "hiiiii")
	require.NoError(t, err)
	assert.Equal(t, "de", speech.Voice.Code)
	_, ok := langs.Load("de")
	assert.True(t, ok)

	_, err = s.Speak(context.Background(), 2, 0, "hello")
	assert.ErrorIs(t, err, ErrAudioTooLong)
}

func TestFindVoice(t *testing.T) {
	s := NewService(Config{})

	v, ok := s.FindVoice("es-MX")
	require.True(t, ok)
	assert.Equal(t, "es", v.Code)

	_, ok = s.FindVoice("")
	assert.False(t, ok)
	assert.NotEmpty(t, s.ListVoices())
}

func TestLimitRepeated(t *testing.T) {
	assert.Equal(t, "hii!!", LimitRepeated("hiiiiii!!!!", 2))
	assert.Equal(t, "aaaa", LimitRepeated("aaaa", 0))
	assert.Equal(t, "ñañ", LimitRepeated("ññañ", 1))
}

func TestMP3Duration_RejectsGarbage(t *testing.T) {
	_, err := mp3Duration([]byte("not an mp3"))
	assert.Error(t, err)
}
