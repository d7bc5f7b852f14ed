package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/venuepay/internal/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier posts payment and balance events to an admin chat.
type TelegramNotifier struct {
	botToken    string
	adminChatID string
	apiBase     string
	httpClient  *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(botToken, adminChatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendToAdmin sends an HTML message to the admin chat.
func (s *TelegramNotifier) SendToAdmin(ctx context.Context, text string) error {
	if s.botToken == "" || s.adminChatID == "" {
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    s.adminChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *TelegramNotifier) PaymentStatusChanged(ctx context.Context, e PaymentEvent) error {
	if e.Status != models.PaymentStatusCompleted {
		return nil
	}
	message := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Payment:</b> %s
<b>Type:</b> %s
<b>Amount:</b> %s
<b>Charged:</b> %s`,
		e.PaymentID,
		e.PaymentType,
		FormatMinor(e.Amount),
		FormatMinor(e.TotalAmount),
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func (s *TelegramNotifier) LowBalance(ctx context.Context, e LowBalanceEvent) error {
	message := fmt.Sprintf(`<b>⚠️ LOW BALANCE</b>
<b>Owner:</b> %s
<b>Balance:</b> %s
<b>Reason:</b> %s`,
		e.OwnerID,
		FormatMinor(e.Amount),
		e.Reason,
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// FormatMinor renders minor units as major units with thousand separators, e.g. 1234567 -> "12,345.67".
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	major := fmt.Sprintf("%d", amount/100)

	var result strings.Builder
	for i, digit := range major {
		if i > 0 && (len(major)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}
	return fmt.Sprintf("%s%s.%02d", sign, result.String(), amount%100)
}
