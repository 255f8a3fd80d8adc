package rssbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>テック公衆号</title>
  <entry>
    <id>msg-old</id>
    <title>古い記事</title>
    <link href="https://mp.example.com/s/old"/>
    <published>2026-08-30T09:00:00Z</published>
    <summary>古い要約</summary>
  </entry>
  <entry>
    <id>msg-new</id>
    <title>新しい記事</title>
    <link href="https://mp.example.com/s/new"/>
    <published>2026-08-31T09:00:00Z</published>
    <summary>新しい要約</summary>
    <content type="html">&lt;p&gt;本文&lt;/p&gt;</content>
  </entry>
</feed>`

// TestFetchArticles はAtomフィードの取得と新しい順の変換をテストする。
func TestFetchArticles(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/MzI1.atom" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("User-Agent"); got != "mprelay/1.0" {
			t.Errorf("User-Agent = %q, want %q", got, "mprelay/1.0")
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, atomFixture)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client(), "mprelay/1.0", testLogger())

	var got []model.ArticleCandidate
	err := c.FetchArticles(context.Background(), "MzI1", 1, time.Second,
		func(cand model.ArticleCandidate) error {
			got = append(got, cand)
			return nil
		})
	if err != nil {
		t.Fatalf("FetchArticles() returned error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	// 新しい順
	if got[0].ExternalID != "msg-new" {
		t.Errorf("first candidate = %q, want %q (newest first)", got[0].ExternalID, "msg-new")
	}
	if got[0].Title != "新しい記事" || got[0].URL != "https://mp.example.com/s/new" {
		t.Errorf("first candidate = %+v", got[0])
	}
	if got[0].Content != "<p>本文</p>" {
		t.Errorf("first candidate content = %q, want %q", got[0].Content, "<p>本文</p>")
	}
	// Contentなしの記事はDescriptionへフォールバック
	if got[1].Content != "古い要約" {
		t.Errorf("second candidate content = %q, want %q", got[1].Content, "古い要約")
	}
}

// TestFetchArticles_HTTPError は異常ステータスがFEED_FETCH_ERRORになることをテストする。
func TestFetchArticles_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client(), "mprelay/1.0", testLogger())

	err := c.FetchArticles(context.Background(), "MzI1", 1, time.Second,
		func(model.ArticleCandidate) error { return nil })
	if model.ErrorCode(err) != model.ErrCodeFeedFetchError {
		t.Errorf("error code = %q, want %q", model.ErrorCode(err), model.ErrCodeFeedFetchError)
	}
}

// TestFetchArticles_ParseError は壊れたフィードがFEED_FETCH_ERRORになることをテストする。
func TestFetchArticles_ParseError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client(), "mprelay/1.0", testLogger())

	err := c.FetchArticles(context.Background(), "MzI1", 1, time.Second,
		func(model.ArticleCandidate) error { return nil })
	if model.ErrorCode(err) != model.ErrCodeFeedFetchError {
		t.Errorf("error code = %q, want %q", model.ErrorCode(err), model.ErrCodeFeedFetchError)
	}
}

// TestFetchArticles_YieldError はyieldのエラーで処理が打ち切られることをテストする。
func TestFetchArticles_YieldError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, atomFixture)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client(), "mprelay/1.0", testLogger())

	wantErr := fmt.Errorf("stop")
	calls := 0
	err := c.FetchArticles(context.Background(), "MzI1", 1, time.Second,
		func(model.ArticleCandidate) error {
			calls++
			return wantErr
		})
	if err != wantErr {
		t.Errorf("FetchArticles() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("yield called %d times, want 1", calls)
	}
}

// TestConvertItems_SkipsEmptyID はIDもリンクもない記事が除外されることをテストする。
func TestConvertItems_SkipsEmptyID(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>t</title>
  <entry><title>IDなし</title></entry>
  <entry><id>msg-1</id><title>IDあり</title><published>2026-08-31T09:00:00Z</published></entry>
</feed>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client(), "mprelay/1.0", testLogger())

	var got []model.ArticleCandidate
	err := c.FetchArticles(context.Background(), "MzI1", 1, time.Second,
		func(cand model.ArticleCandidate) error {
			got = append(got, cand)
			return nil
		})
	if err != nil {
		t.Fatalf("FetchArticles() returned error: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "msg-1" {
		t.Errorf("candidates = %+v, want only msg-1", got)
	}
}
