package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ttsBotPremium/internal/usecase/tts"
)

type TTSCommand struct {
	service *tts.Service
}

func NewTTSCommand(service *tts.Service) *TTSCommand {
	return &TTSCommand{service: service}
}

func (c *TTSCommand) Name() string {
	return "tts"
}

func (c *TTSCommand) Aliases() []string {
	return []string{"speak"}
}

func (c *TTSCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	if c.service == nil {
		return nil
	}

	if len(cmdCtx.Args) == 0 {
		return c.usage(ctx, cmdCtx)
	}
	if strings.EqualFold(cmdCtx.Args[0], "voices") {
		return c.handleList(ctx, cmdCtx)
	}
	return c.handleRequest(ctx, cmdCtx, cmdCtx.Raw)
}

func (c *TTSCommand) handleList(ctx context.Context, cmdCtx *Context) error {
	voices := c.service.ListVoices()
	parts := make([]string, 0, len(voices))
	for _, voice := range voices {
		parts = append(parts, fmt.Sprintf("`%s` (%s)", voice.Code, voice.Label))
	}
	return cmdCtx.Reply(ctx, "Available voices: "+strings.Join(parts, ", "))
}

func (c *TTSCommand) handleRequest(ctx context.Context, cmdCtx *Context, text string) error {
	msg := cmdCtx.Message
	speech, err := c.service.Speak(ctx, msg.GuildID, msg.UserID, text)
	switch {
	case errors.Is(err, tts.ErrEmptyText):
		return c.usage(ctx, cmdCtx)
	case errors.Is(err, tts.ErrTextTooLong), errors.Is(err, tts.ErrAudioTooLong):
		return cmdCtx.Reply(ctx, "That message is too long to be read out.")
	case err != nil:
		return err
	}

	name := fmt.Sprintf("%s-%s.mp3", speech.Voice.Code, msg.ID)
	return cmdCtx.Out.SendFile(ctx, msg.ChannelID, name, speech.Audio)
}

func (c *TTSCommand) usage(ctx context.Context, cmdCtx *Context) error {
	return cmdCtx.Reply(ctx, fmt.Sprintf("Usage: `%stts <text>` | `%stts voices`", cmdCtx.Prefix, cmdCtx.Prefix))
}
