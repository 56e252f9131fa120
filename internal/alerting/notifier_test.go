package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/model"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func result(prices map[model.FuelType]float64) *model.AggregateResult {
	cheapest := make(map[model.FuelType]model.Cheapest, len(prices))
	for ft, p := range prices {
		cheapest[ft] = model.Cheapest{
			Station: model.Station{SiteID: "s1", Brand: "Asda", Postcode: "EX1 1AA"},
			Price:   model.Price{FuelType: ft, Amount: decimal.NewFromFloat(p)},
		}
	}
	return &model.AggregateResult{Cheapest: cheapest, FetchedAt: time.Now().UTC()}
}

func TestDetectDropsThreshold(t *testing.T) {
	prev := result(map[model.FuelType]float64{model.FuelE10: 140.0, model.FuelB7: 150.0})
	cur := result(map[model.FuelType]float64{model.FuelE10: 137.0, model.FuelB7: 149.5})

	// E10 fell ~2.1%, B7 only ~0.3%.
	drops := DetectDrops(prev, cur, decimal.NewFromFloat(1.0))
	if len(drops) != 1 || drops[0].FuelType != model.FuelE10 {
		t.Fatalf("expected a single E10 drop, got %+v", drops)
	}
}

func TestDetectDropsIgnoresRisesAndAbsentTypes(t *testing.T) {
	prev := result(map[model.FuelType]float64{model.FuelE10: 130.0, model.FuelSDV: 155.0})
	cur := result(map[model.FuelType]float64{model.FuelE10: 135.0})

	if drops := DetectDrops(prev, cur, decimal.NewFromFloat(1.0)); len(drops) != 0 {
		t.Fatalf("rises and vanished types must not alert: %+v", drops)
	}
	if drops := DetectDrops(nil, cur, decimal.NewFromFloat(1.0)); drops != nil {
		t.Fatal("nil previous cycle must not alert")
	}
}

func TestTelegramNotifySendsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	note := Notification{
		FetchedAt: time.Now().UTC(),
		Drops: []Drop{{
			FuelType:      model.FuelE10,
			PreviousPence: decimal.NewFromFloat(140.0),
			CurrentPence:  decimal.NewFromFloat(134.7),
			DropPct:       decimal.NewFromFloat(3.8),
			Station:       model.Station{Brand: "Asda", Postcode: "EX1 1AA"},
		}},
	}
	if err := n.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["chat_id"] != "chat" || got["text"] == "" {
		t.Fatalf("bad payload: %+v", got)
	}
}

func TestTelegramNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	err := n.Notify(context.Background(), Notification{Drops: []Drop{{FuelType: model.FuelE10}}})
	if err == nil {
		t.Fatal("HTTP 403 should surface as an error")
	}
}

func TestTelegramNotifySkipsEmptyNotification(t *testing.T) {
	n := NewTelegramNotifier("token", "chat", "http://127.0.0.1:0", time.Second, noopLogger())
	if err := n.Notify(context.Background(), Notification{}); err != nil {
		t.Fatalf("empty notification should be a no-op: %v", err)
	}
}
