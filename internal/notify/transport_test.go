package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/mprelay/internal/model"
)

type allowAllValidator struct{}

func (allowAllValidator) ValidateURL(string) error { return nil }

type denyAllValidator struct{}

func (denyAllValidator) ValidateURL(string) error { return errors.New("blocked host") }

func newTestTransport(validator URLValidator) *HTTPTransport {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPTransport(http.DefaultClient, validator, logger)
}

// TestHTTPTransportSendChat はチャットWebhookのペイロード形式をテストする。
func TestHTTPTransportSendChat(t *testing.T) {
	var (
		gotContentType string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(allowAllValidator{})
	err := transport.SendChat(context.Background(), server.URL, "新着記事", "### 本文")
	if err != nil {
		t.Fatalf("SendChat() returned error: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	var payload struct {
		MsgType  string `json:"msgtype"`
		Markdown struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"markdown"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.MsgType != "markdown" {
		t.Errorf("msgtype = %q, want markdown", payload.MsgType)
	}
	if payload.Markdown.Title != "新着記事" {
		t.Errorf("title = %q, want 新着記事", payload.Markdown.Title)
	}
	if payload.Markdown.Text != "### 本文" {
		t.Errorf("text = %q, want ### 本文", payload.Markdown.Text)
	}
}

// TestHTTPTransportPost_HeadersAndCookies はタスク定義のヘッダとCookieが付与されることをテストする。
func TestHTTPTransportPost_HeadersAndCookies(t *testing.T) {
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newTestTransport(allowAllValidator{})
	headers := map[string]string{"X-Token": "secret", "Content-Type": "application/json; charset=utf-8"}
	err := transport.Post(context.Background(), server.URL, []byte(`{}`), headers, "sid=abc; uid=1")
	if err != nil {
		t.Fatalf("Post() returned error: %v", err)
	}

	if got := gotHeader.Get("X-Token"); got != "secret" {
		t.Errorf("X-Token = %q, want secret", got)
	}
	if got := gotHeader.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want task override", got)
	}
	if got := gotHeader.Get("Cookie"); got != "sid=abc; uid=1" {
		t.Errorf("Cookie = %q, want sid=abc; uid=1", got)
	}
}

// TestHTTPTransportPost_NonSuccessStatus は2xx以外がDELIVERY_ERRORになることをテストする。
func TestHTTPTransportPost_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	transport := newTestTransport(allowAllValidator{})
	err := transport.Post(context.Background(), server.URL, []byte(`{}`), nil, "")
	if err == nil {
		t.Fatal("Post() should return error for non-2xx status")
	}
	if code := model.ErrorCode(err); code != model.ErrCodeDeliveryError {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeDeliveryError)
	}
}

// TestHTTPTransportPost_ValidatorRejects はURL検証失敗時に送信されないことをテストする。
func TestHTTPTransportPost_ValidatorRejects(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	transport := newTestTransport(denyAllValidator{})
	err := transport.Post(context.Background(), server.URL, []byte(`{}`), nil, "")
	if err == nil {
		t.Fatal("Post() should return error when validator rejects")
	}
	if code := model.ErrorCode(err); code != model.ErrCodeDeliveryError {
		t.Errorf("error code = %q, want %q", code, model.ErrCodeDeliveryError)
	}
	if called {
		t.Error("request should not be sent when URL validation fails")
	}
}
