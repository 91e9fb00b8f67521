package notify

import (
	"encoding/json"
	"fmt"

	"erpsync/internal/config"
	"erpsync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier posts dead-letter alerts to an ops chat. Nil when not
// configured; callers treat that as notifications disabled.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(cfg config.NotifyConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.TelegramToken == "" || cfg.TelegramChat == 0 {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.TelegramChat,
		logger: logger,
	}, nil
}

// NotifyDeadLetter sends a short alert with enough detail to find the job.
func (n *TelegramNotifier) NotifyDeadLetter(module, jobID, errMsg string, attempts int) error {
	if n == nil || n.bot == nil {
		return nil
	}

	text := fmt.Sprintf(
		"⚠️ Sync job dead-lettered\nModule: %s\nJob: %s\nAttempts: %d\nError: %s",
		module, jobID, attempts, errMsg,
	)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

// Subscribe wires the notifier onto the event bus; alert failures are logged
// and never propagate into the worker.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	if n == nil {
		return
	}

	bus.Subscribe(events.EventJobDeadLettered, func(event *events.Event) error {
		var payload events.SyncEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		if err := n.NotifyDeadLetter(payload.Module, payload.JobID, payload.Error, payload.Attempts); err != nil {
			n.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("dead-letter alert failed")
		}
		return nil
	})
}
