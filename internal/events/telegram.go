package events

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramTypes are the events worth a chat message by default.
var TelegramTypes = []Type{TypeExecuted, TypeRejected, TypeSuspended, TypeResumed}

// TelegramListener 通过 Telegram Bot API 推送事件。
type TelegramListener struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramListener 构造 Telegram 监听器。
func NewTelegramListener(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramListener {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramListener{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "event_telegram").Logger(),
	}
}

// Handle posts the rendered event through sendMessage.
func (l *TelegramListener) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": l.chatID,
		"text":    renderMessage(e),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", l.baseURL, l.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	l.logger.Debug().Str("event", string(e.Type)).Int64("item_id", e.ItemID).Msg("telegram message sent")
	return nil
}

func renderMessage(e Event) string {
	var b strings.Builder
	title := strings.ToUpper(strings.ReplaceAll(string(e.Type), "_", " "))
	if e.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "[autolender] %s\n", title)
	if e.Account != "" {
		fmt.Fprintf(&b, "Account: %s\n", e.Account)
	}
	if e.Kind != "" {
		fmt.Fprintf(&b, "Operation: %s\n", e.Kind)
	}
	if e.ItemID != 0 {
		fmt.Fprintf(&b, "Item: %d (loan %d, rating %s)\n", e.ItemID, e.LoanID, e.Rating)
		fmt.Fprintf(&b, "Amount: %s\n", e.Amount.StringFixed(2))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", e.Reason)
	}
	if slices.Contains([]Type{TypeStarted, TypeCompleted}, e.Type) {
		fmt.Fprintf(&b, "Items: %d, balance %s\n", e.Items, e.Balance.StringFixed(2))
	}
	fmt.Fprintf(&b, "At: %s UTC", e.CreatedAt.UTC().Format(time.RFC3339))
	return b.String()
}

var _ Listener = (*TelegramListener)(nil)
