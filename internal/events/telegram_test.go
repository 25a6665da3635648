package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/model"
)

func executedEvent() Event {
	return Event{
		Type:      TypeExecuted,
		Account:   "someone@example.com",
		Kind:      "investing",
		ItemID:    12,
		LoanID:    12,
		Rating:    model.RatingAA,
		Amount:    decimal.NewFromInt(200),
		CreatedAt: time.Now(),
	}
}

func TestTelegramListenerSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	listener := NewTelegramListener("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := listener.Handle(context.Background(), executedEvent()); err != nil {
		t.Fatalf("Handle should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "Item: 12 (loan 12, rating AA)") {
		t.Fatalf("text should describe the item, got %q", received["text"])
	}
}

func TestTelegramListenerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	listener := NewTelegramListener("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := listener.Handle(context.Background(), executedEvent()); err == nil {
		t.Fatal("ok=false should be reported")
	}
}

func TestRenderMessageMarksDryRun(t *testing.T) {
	e := executedEvent()
	e.DryRun = true
	msg := renderMessage(e)
	if !strings.HasPrefix(msg, "[autolender] EXECUTED (dry run)") {
		t.Fatalf("unexpected header: %q", msg)
	}
}
