// Package redisaudio guarda mp3 ya sintetizados en Redis, cifrados con Fernet
// y con claves derivadas del texto y un secreto.
package redisaudio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
)

const keyRounds = 9

var ErrInvalidKey = errors.New("redisaudio: invalid fernet key")

// kv es el subconjunto de redis.Cmdable que usa la caché.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Config struct {
	Addr     string
	Password string
	DB       int
	// Key es la clave Fernet en base64; se aceptan también las comillas b'...'.
	Key string
	TTL time.Duration
}

type Cache struct {
	client kv
	closer func() error
	secret []byte
	key    *fernet.Key
	ttl    time.Duration
	logger *zap.Logger
}

var _ domain.AudioCache = (*Cache)(nil)

// Open conecta con Redis y verifica la conexión.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisaudio: connect %s: %w", cfg.Addr, err)
	}

	c, err := newCache(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.closer = client.Close
	return c, nil
}

func newCache(client kv, cfg Config, logger *zap.Logger) (*Cache, error) {
	secret := []byte(trimKeyQuotes(cfg.Key))
	key, err := fernet.DecodeKey(string(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client: client,
		secret: secret,
		key:    key,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "audio-cache")),
	}, nil
}

// Get devuelve el audio guardado para las partes dadas (texto, idioma, ...).
func (c *Cache) Get(ctx context.Context, parts ...string) ([]byte, bool, error) {
	token, err := c.client.Get(ctx, HashKey(c.secret, parts...)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisaudio: get: %w", err)
	}

	audio := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{c.key})
	if audio == nil {
		// token de otra clave o corrupto: se trata como ausente
		c.logger.Warn("undecryptable cache entry ignored")
		return nil, false, nil
	}
	return audio, true, nil
}

func (c *Cache) Set(ctx context.Context, audio []byte, parts ...string) error {
	token, err := fernet.EncryptAndSign(audio, c.key)
	if err != nil {
		return fmt.Errorf("redisaudio: encrypt: %w", err)
	}
	if err := c.client.Set(ctx, HashKey(c.secret, parts...), token, c.ttl).Err(); err != nil {
		return fmt.Errorf("redisaudio: set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// HashKey deriva la clave de Redis: sha256 de las partes unidas por " | " y
// luego keyRounds rondas de sha256(digest + secreto).
func HashKey(secret []byte, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, " | ")))
	for i := 0; i < keyRounds; i++ {
		buf := make([]byte, 0, len(sum)+len(secret))
		buf = append(buf, sum[:]...)
		buf = append(buf, secret...)
		sum = sha256.Sum256(buf)
	}
	return hex.EncodeToString(sum[:])
}

func trimKeyQuotes(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "b'") && strings.HasSuffix(key, "'") && len(key) >= 3 {
		return key[2 : len(key)-1]
	}
	return key
}
