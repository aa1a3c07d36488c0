package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level string
	// Prefix se antepone a cada línea enviada a los webhooks, p. ej. "[Cluster 3] ".
	Prefix      string
	LogsURL     string
	ErrorsURL   string
	Development bool
	Poster      Poster
}

// Logging agrupa el logger del proceso con su nivel compartido. Todos los
// sinks leen el mismo AtomicLevel, así que SetLevel aplica a todos.
type Logging struct {
	Logger *zap.Logger
	level  zap.AtomicLevel
	sink   *WebhookSink
}

func New(opts Options) (*Logging, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	console := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)

	cores := []zapcore.Core{console}
	var sink *WebhookSink
	if opts.LogsURL != "" || opts.ErrorsURL != "" {
		poster := opts.Poster
		if poster == nil {
			poster = NewDiscordPoster()
		}
		sink = NewWebhookSink(WebhookConfig{
			Prefix:    opts.Prefix,
			LogsURL:   opts.LogsURL,
			ErrorsURL: opts.ErrorsURL,
			Poster:    poster,
		})
		cores = append(cores, NewWebhookCore(level, sink))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return &Logging{Logger: logger, level: level, sink: sink}, nil
}

// SetLevel cambia el nivel de todos los sinks a la vez.
func (l *Logging) SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return fmt.Errorf("logging: invalid level %q: %w", name, err)
	}
	l.level.SetLevel(lvl)
	l.Logger.Info("log level changed", zap.String("level", lvl.String()))
	return nil
}

func (l *Logging) Level() zapcore.Level { return l.level.Level() }

func (l *Logging) Close() error {
	_ = l.Logger.Sync()
	if l.sink != nil {
		l.sink.Close()
	}
	return nil
}
