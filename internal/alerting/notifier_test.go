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
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleNotification() Notification {
	return Notification{
		Timestamp:  time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		AvgxUSD:    decimal.RequireFromString("253.75"),
		AvgxRaw:    decimal.RequireFromString("260.0"),
		Volatility: decimal.RequireFromString("0.42"),
		ClampPct:   decimal.RequireFromString("0.015"),
		Reason:     ReasonClampEngaged,
		Channels:   []string{"telegram"},
	}
}

func TestTelegramNotifySuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token123", "chat456", server.URL, 5*time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("请求路径不符: %s", gotPath)
	}
	if gotBody["chat_id"] != "chat456" {
		t.Fatalf("chat_id 不符: %s", gotBody["chat_id"])
	}
	text := gotBody["text"]
	if !strings.Contains(text, "[AVGX Index Guard]") {
		t.Fatalf("消息应包含标题, 实际:\n%s", text)
	}
	if !strings.Contains(text, ReasonClampEngaged) {
		t.Fatalf("消息应包含触发原因, 实际:\n%s", text)
	}
	if !strings.Contains(text, "253.7500") {
		t.Fatalf("消息应包含钳制后指数值, 实际:\n%s", text)
	}
	if !strings.Contains(text, "±1.50%") {
		t.Fatalf("消息应包含钳制百分比, 实际:\n%s", text)
	}
}

func TestTelegramNotifyHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, 5*time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("非 2xx 响应应报错")
	}
}

func TestTelegramNotifyNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, 5*time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageIncludesExtras(t *testing.T) {
	note := sampleNotification()
	note.AdditionalMsg = "manual verification requested"

	text := renderMessage(note)
	if !strings.Contains(text, "Channels: telegram") {
		t.Fatalf("消息应列出渠道, 实际:\n%s", text)
	}
	if !strings.Contains(text, "manual verification requested") {
		t.Fatalf("消息应附带补充说明, 实际:\n%s", text)
	}
}
