// Package alerting notifies when the cheapest price for a fuel type drops
// sharply between cycles.
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

	"fuelwatch/internal/model"
)

// Drop describes one fuel type whose cheapest price fell past the threshold.
type Drop struct {
	FuelType      model.FuelType
	PreviousPence decimal.Decimal
	CurrentPence  decimal.Decimal
	DropPct       decimal.Decimal
	Station       model.Station
}

// Notification carries every drop detected in one cycle.
type Notification struct {
	FetchedAt time.Time
	Drops     []Drop
}

// Notifier defines alert delivery.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

var dec100 = decimal.NewFromInt(100)

// DetectDrops compares two cycles' cheapest prices and returns the fuel
// types whose price fell by more than thresholdPct. Fuel types absent from
// either cycle are skipped: there is nothing to compare.
func DetectDrops(prev, cur *model.AggregateResult, thresholdPct decimal.Decimal) []Drop {
	if prev == nil || cur == nil || thresholdPct.IsZero() {
		return nil
	}

	var drops []Drop
	for _, ft := range model.AllFuelTypes {
		before, ok := prev.Cheapest[ft]
		if !ok || before.Price.Amount.IsZero() {
			continue
		}
		after, ok := cur.Cheapest[ft]
		if !ok {
			continue
		}
		delta := before.Price.Amount.Sub(after.Price.Amount)
		if delta.Sign() <= 0 {
			continue
		}
		pct := delta.Div(before.Price.Amount).Mul(dec100)
		if pct.GreaterThan(thresholdPct) {
			drops = append(drops, Drop{
				FuelType:      ft,
				PreviousPence: before.Price.Amount,
				CurrentPence:  after.Price.Amount,
				DropPct:       pct,
				Station:       after.Station,
			})
		}
	}
	return drops
}

// TelegramNotifier delivers alerts through the Telegram Bot API.
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if len(note.Drops) == 0 {
		return nil
	}

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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Int("drops", len(note.Drops)).Msg("price-drop alert sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Fuel Price Alert]\n")
	builder.WriteString(fmt.Sprintf("As of: %s UTC\n", note.FetchedAt.UTC().Format(time.RFC3339)))
	for _, d := range note.Drops {
		builder.WriteString(fmt.Sprintf(
			"%s: %sp -> %sp (-%s%%) at %s %s\n",
			d.FuelType,
			d.PreviousPence.StringFixed(1),
			d.CurrentPence.StringFixed(1),
			d.DropPct.StringFixed(1),
			d.Station.Brand,
			d.Station.Postcode,
		))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
