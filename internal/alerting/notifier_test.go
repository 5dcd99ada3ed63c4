package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
)

func sampleEvent() Event {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Event{
		Name:     EventEscalation,
		Severity: domain.SeverityError,
		Pair:     domain.Pair{Symbol: "EURUSD", Timeframe: "1m"},
		BarTime:  &barTime,
		Message:  "freshness degraded",
		Fields:   map[string]string{"freshness": "RED", "fail_5m": "3"},
		At:       time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/bottoken/sendMessage")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	require.Equal(t, "chat", received["chat_id"])
	require.Contains(t, received["text"], "[ERROR] escalation EURUSD/1m")
	require.Contains(t, received["text"], "freshness: RED")
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestWebhookNotifierPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	ev := sampleEvent()
	require.NoError(t, n.Notify(context.Background(), ev))

	require.Equal(t, EventEscalation, got.Event)
	require.Equal(t, "ERROR", got.Severity)
	require.Equal(t, "EURUSD", got.Symbol)
	require.Equal(t, "1m", got.Timeframe)
	require.NotNil(t, got.BarTime)
	require.True(t, got.BarTime.Equal(*ev.BarTime))
	require.Equal(t, "freshness degraded", got.Message)
	require.Equal(t, "RED", got.Fields["freshness"])
}

func TestSlackNotifierRendersText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.Contains(t, got["text"], "[ERROR] escalation EURUSD/1m")
}

func TestRenderTextFieldsSorted(t *testing.T) {
	text := RenderText(sampleEvent())

	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Equal(t, "[ERROR] escalation EURUSD/1m", lines[0])
	require.Contains(t, text, "At: 2026-03-01T12:01:00Z")
	require.Contains(t, text, "Bar: 2026-03-01T12:00:00Z")

	// Sorted field keys keep output stable.
	failIdx := strings.Index(text, "fail_5m: 3")
	freshIdx := strings.Index(text, "freshness: RED")
	require.Greater(t, freshIdx, failIdx)
	require.GreaterOrEqual(t, failIdx, 0)
}
