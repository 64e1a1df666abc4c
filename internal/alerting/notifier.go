package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/apperr"
	"marketwatch/internal/storage"
)

// Notification carries a triggered alert to user-facing channels.
type Notification struct {
	Title       string
	Body        string
	AlertID     string
	Symbol      string
	AssetType   storage.AssetType
	Condition   storage.Condition
	Target      decimal.Decimal
	Price       decimal.Decimal
	TriggeredAt time.Time
}

// NewNotification renders the title and body for a triggered alert.
func NewNotification(entry storage.TriggeredAlert) Notification {
	direction := "rose above"
	if entry.Condition == storage.ConditionBelow {
		direction = "fell below"
	}
	return Notification{
		Title:       fmt.Sprintf("Alert %s!", entry.Symbol),
		Body:        fmt.Sprintf("%s price %s $%s (current: $%s)", entry.Symbol, direction, entry.PriceTarget.StringFixed(2), entry.PriceAtTrigger.StringFixed(2)),
		AlertID:     entry.ID,
		Symbol:      entry.Symbol,
		AssetType:   entry.AssetType,
		Condition:   entry.Condition,
		Target:      entry.PriceTarget,
		Price:       entry.PriceAtTrigger,
		TriggeredAt: entry.TriggeredAt,
	}
}

// Notifier delivers a notification on one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Name identifies the channel.
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Notify calls the sendMessage API. 401/403 responses are reported as PermissionError.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &apperr.PermissionError{Channel: n.Name(), Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("alert_id", note.AlertID).
		Str("symbol", note.Symbol).
		Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s]\n", note.Title))
	builder.WriteString(note.Body)
	builder.WriteString("\n")
	if note.AssetType != "" {
		builder.WriteString(fmt.Sprintf("Asset: %s\n", note.AssetType))
	}
	if !note.TriggeredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
