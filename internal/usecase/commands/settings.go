package commands

import (
	"context"
	"fmt"
	"strings"

	"ttsBotPremium/internal/domain"
)

type SettingsCommand struct {
	tables Tables
}

func NewSettingsCommand(tables Tables) *SettingsCommand {
	return &SettingsCommand{tables: tables}
}

func (c *SettingsCommand) Name() string {
	return "settings"
}

func (c *SettingsCommand) Aliases() []string {
	return []string{}
}

func (c *SettingsCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	msg := cmdCtx.Message
	if msg.IsPrivate || msg.GuildID == 0 {
		return cmdCtx.Reply(ctx, "Settings are only available in a server.")
	}

	guild, err := c.tables.Guilds.Get(ctx, domain.ID(msg.GuildID))
	if err != nil {
		return fmt.Errorf("commands: settings: %w", err)
	}
	user, err := c.tables.Users.Get(ctx, domain.ID(msg.UserID))
	if err != nil {
		return fmt.Errorf("commands: settings: %w", err)
	}
	nick, err := c.tables.Nicknames.Get(ctx, domain.ID(msg.GuildID, msg.UserID))
	if err != nil {
		return fmt.Errorf("commands: settings: %w", err)
	}

	channel := "has not been setup yet"
	if id := guild.Int("channel"); id != 0 {
		channel = fmt.Sprintf("<#%d>", id)
	}
	nickname := nick.Text("name")
	if nickname == "" {
		nickname = msg.Username
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Server Wide Settings**\n")
	fmt.Fprintf(&sb, "- Setup Channel: %s\n", channel)
	fmt.Fprintf(&sb, "- Command Prefix: `%s`\n", orDefault(guild.Text("prefix"), DefaultPrefix))
	fmt.Fprintf(&sb, "- Auto Join: `%t`\n", guild.Bool("auto_join"))
	fmt.Fprintf(&sb, "- Ignore Bots: `%t`\n", guild.Bool("bot_ignore"))
	fmt.Fprintf(&sb, "- XSaid: `%t`\n", guild.Bool("xsaid"))
	fmt.Fprintf(&sb, "- Server Voice: `%s`\n", orDefault(guild.Text("default_lang"), "en"))
	fmt.Fprintf(&sb, "- Max Message Length: `%d seconds`\n", guild.Int("msg_length"))
	fmt.Fprintf(&sb, "- Max Repeated Characters: `%d`\n", guild.Int("repeated_chars"))
	fmt.Fprintf(&sb, "**User Specific**\n")
	fmt.Fprintf(&sb, "- Voice: `%s`\n", orDefault(user.Text("lang"), "server default"))
	fmt.Fprintf(&sb, "- Nickname: `%s`", nickname)
	return cmdCtx.Reply(ctx, sb.String())
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
