// Package bot is the Telegram surface: it dispatches inbound commands and
// carries outbound announcements to the configured group chat.
package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/history"
	"torrent-bot/internal/registry"
	"torrent-bot/internal/repository"
)

// Completer applies the terminal-state transition shared with the monitor,
// so the /status path and the background loop can never diverge.
type Completer interface {
	Complete(ctx context.Context, id string, st engine.Status) error
}

type Config struct {
	Token       string
	GroupID     int64
	DownloadDir string
	LogPath     string
	Logger      *logrus.Logger
}

// Bot wires Telegram updates to the engine, registry and history store.
type Bot struct {
	cfg       Config
	api       *tgbotapi.BotAPI
	engine    engine.Engine
	registry  *registry.Registry
	history   *history.Store
	completer Completer
	journal   repository.TaskJournal
	logger    *logrus.Logger
}

func New(cfg Config, eng engine.Engine, reg *registry.Registry, hist *history.Store, completer Completer, journal repository.TaskJournal) (*Bot, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}

	b := &Bot{
		cfg:       cfg,
		api:       api,
		engine:    eng,
		registry:  reg,
		history:   hist,
		completer: completer,
		journal:   journal,
		logger:    cfg.Logger,
	}
	b.logger.Infof("telegram bot authorized as @%s", api.Self.UserName)
	return b, nil
}

// Run long-polls Telegram for updates until the context is cancelled.
// Commands are handled sequentially; each produces exactly one reply.
func (b *Bot) Run(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.reply(msg.Chat.ID, helpText())
	case "download":
		b.handleDownload(ctx, msg)
	case "status":
		b.handleStatus(ctx, msg)
	case "history":
		b.handleHistory(msg)
	case "logs":
		b.handleLogs(msg)
	default:
		b.reply(msg.Chat.ID, fmt.Sprintf("Unknown command /%s, try /help", msg.Command()))
	}
}

// reply sends one Markdown message; send failures are logged and dropped.
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Errorf("send reply: %v", err)
	}
}

// AnnounceStartup posts the ready message to the group chat.
func (b *Bot) AnnounceStartup() {
	b.reply(b.cfg.GroupID, startupText())
	b.logger.Info("startup message sent to group")
}

// NotifyFinished implements monitor.Notifier: it announces a terminal
// transition to the group chat. Never blocks or fails the transition.
func (b *Bot) NotifyFinished(task domain.Task, record domain.HistoryRecord) {
	b.reply(b.cfg.GroupID, formatFinished(record, b.cfg.DownloadDir))
}

func requesterName(user *tgbotapi.User) string {
	if user == nil {
		return "unknown"
	}
	if user.UserName != "" {
		return user.UserName
	}
	return user.FirstName
}
