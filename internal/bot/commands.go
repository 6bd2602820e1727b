package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"torrent-bot/internal/domain"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/logging"
	"torrent-bot/internal/registry"
)

const (
	historyDisplayLimit = 10
	logsTailLines       = 20
	logsTailBytes       = 4000 // Telegram message size limit headroom
)

func (b *Bot) handleDownload(ctx context.Context, msg *tgbotapi.Message) {
	descriptor := strings.TrimSpace(msg.CommandArguments())
	if descriptor == "" {
		b.reply(msg.Chat.ID, "❌ Please provide a torrent link or magnet URL")
		return
	}
	requester := requesterName(msg.From)

	id, name, err := b.engine.Add(ctx, descriptor)
	if err != nil {
		b.logger.Errorf("download error: %v", err)
		b.reply(msg.Chat.ID, fmt.Sprintf("❌ Failed to start download: %v", err))
		return
	}

	task := domain.Task{
		ID:         id,
		Name:       name,
		Requester:  requester,
		StartedAt:  time.Now().UTC(),
		Descriptor: descriptor,
	}

	if err := b.registry.Insert(id, task); err != nil {
		if errors.Is(err, registry.ErrDuplicateTask) {
			b.reply(msg.Chat.ID, fmt.Sprintf("⏳ Already downloading: %s", task.DisplayName()))
			return
		}
		b.logger.Errorf("track download %s: %v", id, err)
		b.reply(msg.Chat.ID, "❌ Failed to track download")
		return
	}

	if b.journal != nil {
		if err := b.journal.Save(ctx, task); err != nil {
			b.logger.Warnf("journal download %s: %v", id, err)
		}
	}

	b.logger.Infof("download started by %s: %s", requester, descriptor)
	b.reply(msg.Chat.ID, fmt.Sprintf(
		"✅ Download started!\n🎬 Torrent: %s\n👤 Requested by: %s",
		task.DisplayName(), requester,
	))
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	snapshot := b.registry.Snapshot()
	if len(snapshot) == 0 {
		b.reply(msg.Chat.ID, "📭 No active downloads")
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 *Current Downloads:*\n\n")

	shown := 0
	for _, e := range snapshot {
		st, err := b.engine.Status(e.ID)
		if err != nil {
			b.logger.Warnf("status query for %s: %v", e.ID, err)
			sb.WriteString(formatStatusLine(e.Task, engine.Status{State: domain.StateUnknown}))
			shown++
			continue
		}

		if st.State.Terminal() {
			// Promote opportunistically, same transition as the monitor.
			if err := b.completer.Complete(ctx, e.ID, st); err != nil {
				b.logger.Errorf("complete %s from status: %v", e.ID, err)
			}
			continue
		}

		sb.WriteString(formatStatusLine(e.Task, st))
		shown++
	}

	if shown == 0 {
		b.reply(msg.Chat.ID, "📭 No active downloads")
		return
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleHistory(msg *tgbotapi.Message) {
	records := b.history.Recent(historyDisplayLimit)
	if len(records) == 0 {
		b.reply(msg.Chat.ID, "📚 No download history")
		return
	}
	b.reply(msg.Chat.ID, formatHistory(records))
}

func (b *Bot) handleLogs(msg *tgbotapi.Message) {
	text, err := logging.Tail(b.cfg.LogPath, logsTailLines, logsTailBytes)
	if err != nil {
		b.reply(msg.Chat.ID, "📝 No log file found")
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("```\n%s\n```", text))
}

func helpText() string {
	return strings.Join([]string{
		"🤖 *Torrent Download Bot*",
		"",
		"Available commands:",
		"• `/download <torrent_link>` - Download a torrent",
		"• `/status` - Show current downloads",
		"• `/logs` - Show recent logs",
		"• `/history` - Show download history",
		"• `/help` - Show this help message",
	}, "\n")
}

func startupText() string {
	return strings.Join([]string{
		"🚀 *Media Server is UP!*",
		"",
		"Bot is ready to accept commands:",
		"• `/download <link>` - Start download",
		"• `/status` - Check downloads",
		"• `/logs` - View logs",
		"• `/history` - Download history",
	}, "\n")
}

func formatStatusLine(task domain.Task, st engine.Status) string {
	name := task.DisplayName()
	if st.Name != "" {
		name = st.Name
	}
	return fmt.Sprintf(
		"🎬 *%s*\n📊 Progress: %.1f%%\n⚡ Speed: %.2f MB/s\n📥 State: %s\n👤 By: %s\n\n",
		name,
		st.Progress,
		float64(st.DownloadRate)/1024/1024,
		st.State.Display(),
		task.Requester,
	)
}

func formatHistory(records []domain.HistoryRecord) string {
	var sb strings.Builder
	sb.WriteString("📚 *Recent Downloads:*\n\n")
	for i, record := range records {
		mark := "✅"
		if record.Status == domain.RecordFailed {
			mark = "❌"
		}
		sb.WriteString(fmt.Sprintf(
			"%d. 🎬 %s\n   👤 %s • %s %s\n\n",
			i+1,
			record.Name,
			record.Requester,
			mark,
			record.CompletedAt.Format("01/02 15:04"),
		))
	}
	return sb.String()
}

func formatFinished(record domain.HistoryRecord, downloadDir string) string {
	if record.Status == domain.RecordFailed {
		return fmt.Sprintf(
			"❌ *Download Failed*\n\n🎬 %s\n👤 Requested by: %s",
			record.Name, record.Requester,
		)
	}
	return fmt.Sprintf(
		"✅ *Download Completed!*\n\n🎬 %s\n👤 Requested by: %s\n📁 Saved to: %s",
		record.Name, record.Requester, downloadDir,
	)
}
