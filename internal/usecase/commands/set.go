package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/usecase/tts"
)

// Table es lo que los comandos necesitan de un tables.Handler.
type Table interface {
	Get(ctx context.Context, id domain.Identifier) (domain.Record, error)
	Set(ctx context.Context, id domain.Identifier, changes domain.Record) error
}

type Tables struct {
	Guilds    Table
	Users     Table
	Nicknames Table
}

type settingKind int

const (
	kindBool settingKind = iota
	kindInt
	kindText
	kindChannel
	kindVoice
)

type scope int

const (
	scopeGuild scope = iota
	scopeUser
	scopeNickname
)

type setting struct {
	name     string
	aliases  []string
	column   string
	kind     settingKind
	scope    scope
	admin    bool
	min, max int64
}

var settingsList = []setting{
	{name: "channel", column: "channel", kind: kindChannel, scope: scopeGuild, admin: true},
	{name: "xsaid", column: "xsaid", kind: kindBool, scope: scopeGuild, admin: true},
	{name: "botignore", aliases: []string{"bot_ignore"}, column: "bot_ignore", kind: kindBool, scope: scopeGuild, admin: true},
	{name: "autojoin", aliases: []string{"auto_join"}, column: "auto_join", kind: kindBool, scope: scopeGuild, admin: true},
	{name: "msglength", aliases: []string{"msg_length", "length"}, column: "msg_length", kind: kindInt, scope: scopeGuild, admin: true, min: 1, max: 60},
	{name: "repeatedchars", aliases: []string{"repeated_chars", "repeated"}, column: "repeated_chars", kind: kindInt, scope: scopeGuild, admin: true, min: 0, max: 100},
	{name: "prefix", column: "prefix", kind: kindText, scope: scopeGuild, admin: true, min: 1, max: 5},
	{name: "server_voice", aliases: []string{"defaultlang", "default_lang"}, column: "default_lang", kind: kindVoice, scope: scopeGuild, admin: true},
	{name: "voice", aliases: []string{"lang"}, column: "lang", kind: kindVoice, scope: scopeUser},
	{name: "nick", aliases: []string{"nickname", "name"}, column: "name", kind: kindText, scope: scopeNickname, min: 1, max: 32},
}

func findSetting(name string) (setting, bool) {
	name = strings.ToLower(name)
	for _, s := range settingsList {
		if s.name == name {
			return s, true
		}
		for _, alias := range s.aliases {
			if alias == name {
				return s, true
			}
		}
	}
	return setting{}, false
}

var errBadValue = errors.New("bad value")

type SetCommand struct {
	tables Tables
	voices *tts.Service
}

func NewSetCommand(tables Tables, voices *tts.Service) *SetCommand {
	return &SetCommand{tables: tables, voices: voices}
}

func (c *SetCommand) Name() string {
	return "set"
}

func (c *SetCommand) Aliases() []string {
	return []string{"config"}
}

func (c *SetCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	msg := cmdCtx.Message
	if len(cmdCtx.Args) < 2 {
		return c.usage(ctx, cmdCtx)
	}
	s, ok := findSetting(cmdCtx.Args[0])
	if !ok {
		return cmdCtx.Reply(ctx, fmt.Sprintf("Unknown setting `%s`.", cmdCtx.Args[0]))
	}
	if msg.IsPrivate && s.scope != scopeUser {
		return cmdCtx.Reply(ctx, "This setting can only be changed in a server.")
	}
	if s.admin && !msg.IsAdmin && !msg.IsOwner {
		return cmdCtx.Reply(ctx, "You need the Administrator permission to change this setting.")
	}

	raw := strings.TrimSpace(strings.Join(cmdCtx.Args[1:], " "))
	value, display, err := c.parse(s, raw, msg)
	if err != nil {
		return cmdCtx.Reply(ctx, fmt.Sprintf("Invalid value for `%s`: %s", s.name, err))
	}

	table, id := c.target(s, msg)
	if table == nil {
		return nil
	}
	if err := table.Set(ctx, id, domain.Record{s.column: value}); err != nil {
		return fmt.Errorf("commands: set %s: %w", s.name, err)
	}
	return cmdCtx.Reply(ctx, fmt.Sprintf("Changed %s to: `%s`", s.name, display))
}

func (c *SetCommand) target(s setting, msg domain.Message) (Table, domain.Identifier) {
	switch s.scope {
	case scopeUser:
		return c.tables.Users, domain.ID(msg.UserID)
	case scopeNickname:
		return c.tables.Nicknames, domain.ID(msg.GuildID, msg.UserID)
	default:
		return c.tables.Guilds, domain.ID(msg.GuildID)
	}
}

func (c *SetCommand) parse(s setting, raw string, msg domain.Message) (any, string, error) {
	switch s.kind {
	case kindBool:
		b, err := parseBool(raw)
		if err != nil {
			return nil, "", err
		}
		return b, strconv.FormatBool(b), nil

	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: not a number", errBadValue)
		}
		if n < s.min || n > s.max {
			return nil, "", fmt.Errorf("%w: must be between %d and %d", errBadValue, s.min, s.max)
		}
		return n, strconv.FormatInt(n, 10), nil

	case kindChannel:
		if strings.EqualFold(raw, "here") {
			raw = msg.ChannelID
		}
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "<#"), ">")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, "", fmt.Errorf("%w: not a channel", errBadValue)
		}
		return id, "<#" + raw + ">", nil

	case kindVoice:
		if c.voices == nil {
			return nil, "", fmt.Errorf("%w: voices unavailable", errBadValue)
		}
		v, ok := c.voices.FindVoice(raw)
		if !ok {
			return nil, "", fmt.Errorf("%w: unknown voice", errBadValue)
		}
		return v.Code, v.Label, nil

	default:
		n := int64(len([]rune(raw)))
		if n < s.min || n > s.max {
			return nil, "", fmt.Errorf("%w: length must be between %d and %d", errBadValue, s.min, s.max)
		}
		if s.column == "prefix" && strings.ContainsAny(raw, " \t") {
			return nil, "", fmt.Errorf("%w: no spaces allowed", errBadValue)
		}
		return raw, raw, nil
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "yes", "enable", "enabled", "1":
		return true, nil
	case "off", "false", "no", "disable", "disabled", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on/off", errBadValue)
}

func (c *SetCommand) usage(ctx context.Context, cmdCtx *Context) error {
	names := make([]string, 0, len(settingsList))
	for _, s := range settingsList {
		names = append(names, "`"+s.name+"`")
	}
	return cmdCtx.Reply(ctx, fmt.Sprintf("Usage: `%sset <setting> <value>`. Settings: %s",
		cmdCtx.Prefix, strings.Join(names, ", ")))
}
