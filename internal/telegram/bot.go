package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
)

const alertCooldown = 5 * time.Minute

// Bot pushes resource alerts to the configured chats and answers /status
// and /agents from those chats.
type Bot struct {
	bot      *telego.Bot
	handler  *th.BotHandler
	hive     *hive.Hive
	notifier *Notifier
	cfg      config.TelegramConfig
	cancel   context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, h *hive.Hive) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		bot:  bot,
		hive: h,
		cfg:  cfg,
	}
	b.notifier = NewNotifier(b.SendMessage, cfg.ChatIDs, alertCooldown)
	return b, nil
}

// UpdateChatIDs applies a reloaded recipient list. The same list gates
// which chats may run commands.
func (b *Bot) UpdateChatIDs(ids []int64) {
	b.notifier.UpdateChatIDs(ids)
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	go b.notifier.Run(ctx, b.hive.Bus())

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if !b.notifier.Allowed(chatID) {
		slog.Warn("unauthorized telegram chat", "chat_id", chatID)
		return
	}

	reply := b.reply(strings.TrimSpace(msg.Text))
	if reply == "" {
		return
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram reply", "chat", chatID, "error", err)
	}
}

func (b *Bot) reply(text string) string {
	cmd, _, _ := strings.Cut(text, " ")
	// Commands in groups arrive as /status@botname.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/status":
		return formatSnapshot(b.hive.Snapshot())
	case "/agents":
		return formatAgents(b.hive.ListAgents(registry.Filter{}))
	case "/help", "/start":
		return "Commands: /status, /agents"
	}
	return ""
}

func formatAgents(agents []registry.Agent) string {
	if len(agents) == 0 {
		return "No agents."
	}
	var sb strings.Builder
	for i, a := range agents {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s (%s) %s, perf %.2f, energy %.0f", a.Name, a.Kind, a.State, a.PerformanceScore, a.Energy)
	}
	return sb.String()
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, maxMessageLen)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
