package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tateisu/mastodonInboxFilter/app/audit"
	"github.com/tateisu/mastodonInboxFilter/app/cfg"
	"github.com/tateisu/mastodonInboxFilter/app/fetch"
	"github.com/tateisu/mastodonInboxFilter/app/spam"
)

type upstreamCall struct {
	Method string
	URI    string
	Header http.Header
	Body   string
}

// testUpstream records every request and replies with the configured
// status, headers and body.
type testUpstream struct {
	server *httptest.Server
	calls  []upstreamCall

	status int
	header http.Header
	body   string
}

func newTestUpstream(t *testing.T) *testUpstream {
	t.Helper()
	u := &testUpstream{status: http.StatusOK, header: http.Header{}}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.calls = append(u.calls, upstreamCall{
			Method: r.Method,
			URI:    r.RequestURI,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		for name, values := range u.header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(u.status)
		if u.body != "" {
			w.Write([]byte(u.body))
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func newTestEngine(t *testing.T, redirectUrl string) (*gin.Engine, string) {
	t.Helper()
	recordDir := t.TempDir()

	c := &cfg.Cfg{
		RedirectUrl:       redirectUrl,
		UserAgent:         "inboxFilter-test/1.0",
		BodyLimit:         1 << 20,
		MentionMin:        2,
		UserNameLengthMin: 6,
		UserNameLengthMax: 10,
		BadText:           []string{"buy cheap pills"},
		SkipInReplyTo:     true,
		SkipDomainSet:     map[string]struct{}{},
		SkipAcctSet:       map[string]struct{}{},
		BadImageDigestSet: map[string]struct{}{},
		SkipImageDigestSet: map[string]struct{}{
			"unused": {},
		},
	}

	fetcher, err := fetch.NewClient(http.DefaultClient, c.UserAgent, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	checker := spam.NewChecker(c, fetcher)

	auditor := audit.NewLogger(recordDir, nil, 100)
	auditor.Start()
	t.Cleanup(auditor.Close)

	handler := NewHandler(c, http.DefaultClient, checker, auditor, nil)
	return NewServer(handler), recordDir
}

func spamNote(mentions int) string {
	var tags []string
	for i := 0; i < mentions; i++ {
		tags = append(tags, `{"type":"Mention","name":"@v`+string(rune('a'+i))+`","href":"https://x/u"}`)
	}
	return `{
		"type": "Create",
		"actor": "https://spam.example/users/evilbot",
		"object": {
			"type": "Note",
			"id": "https://spam.example/users/evilbot/statuses/1",
			"url": "https://spam.example/@evilbot/1",
			"content": "<p>buy cheap pills today</p>",
			"tag": [` + strings.Join(tags, ",") + `]
		}
	}`
}

func recordFiles(t *testing.T, dir, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestPostInbox_RelaysCleanDelivery(t *testing.T) {
	upstream := newTestUpstream(t)
	upstream.status = http.StatusOK
	upstream.header.Set("Content-Type", "application/json")
	upstream.header.Set("X-Upstream", "yes")
	upstream.body = `{"ok":true}`

	engine, _ := newTestEngine(t, upstream.server.URL)

	payload := `{"type":"Create","actor":"https://social.example/users/alice",` +
		`"object":{"type":"Note","id":"https://social.example/n/1","content":"<p>hello</p>"}}`
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(payload))
	req.Header.Set("Signature", "sig-value")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("unexpected relayed body %q", w.Body.String())
	}
	if w.Header().Get("X-Upstream") != "yes" {
		t.Error("upstream header not relayed")
	}

	if len(upstream.calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(upstream.calls))
	}
	call := upstream.calls[0]
	if call.URI != "/inbox" {
		t.Errorf("unexpected upstream URI %s", call.URI)
	}
	if call.Body != payload {
		t.Errorf("unexpected upstream body %q", call.Body)
	}
	if call.Header.Get("Signature") != "sig-value" {
		t.Error("signature header not forwarded")
	}
}

func TestPostInbox_BlocksSpam(t *testing.T) {
	upstream := newTestUpstream(t)
	engine, recordDir := newTestEngine(t, upstream.server.URL)

	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(spamNote(2)))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "automatic spam detection." {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	if len(upstream.calls) != 0 {
		t.Errorf("blocked delivery must not reach upstream, got %d calls", len(upstream.calls))
	}

	// blocked deliveries are still recorded
	if names := waitForRecords(t, recordDir, ".headers", 1); len(names) != 1 {
		t.Fatalf("expected 1 record, got %v", names)
	}
}

// waitForRecords polls until the audit consumer has written count files.
func waitForRecords(t *testing.T, dir, suffix string, count int) []string {
	t.Helper()
	for i := 0; i < 100; i++ {
		names := recordFiles(t, dir, suffix)
		if len(names) >= count {
			return names
		}
		time.Sleep(10 * time.Millisecond)
	}
	return recordFiles(t, dir, suffix)
}

func TestPostInbox_ForwardsUnparsablePayload(t *testing.T) {
	upstream := newTestUpstream(t)
	upstream.status = http.StatusAccepted
	engine, _ := newTestEngine(t, upstream.server.URL)

	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader("this is not json"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(upstream.calls) != 1 {
		t.Errorf("unparsable payload must be forwarded, got %d calls", len(upstream.calls))
	}
}

func TestPostInbox_StatusOnlyRelay(t *testing.T) {
	for _, status := range []int{http.StatusAccepted, http.StatusNoContent} {
		upstream := newTestUpstream(t)
		upstream.status = status
		upstream.header.Set("Content-Type", "text/plain")
		engine, _ := newTestEngine(t, upstream.server.URL)

		req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		if w.Code != status {
			t.Errorf("expected %d, got %d", status, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("status %d relay must carry no body, got %q", status, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "" {
			t.Errorf("status %d relay must not echo Content-Type, got %q", status, ct)
		}
	}
}

func TestPostInbox_UpstreamDown(t *testing.T) {
	// port 1 refuses connections
	engine, _ := newTestEngine(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if w.Body.String() != "upstream request failed." {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestPostInbox_BodyTooLarge(t *testing.T) {
	upstream := newTestUpstream(t)
	engine, _ := newTestEngine(t, upstream.server.URL)

	big := strings.Repeat("x", (1<<20)+1)
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(big))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if len(upstream.calls) != 0 {
		t.Errorf("oversized delivery must not reach upstream, got %d calls", len(upstream.calls))
	}
}

func TestHealthCheck(t *testing.T) {
	upstream := newTestUpstream(t)
	engine, _ := newTestEngine(t, upstream.server.URL)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestGetStats_NoDatabase(t *testing.T) {
	upstream := newTestUpstream(t)
	engine, _ := newTestEngine(t, upstream.server.URL)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an audit database, got %d", w.Code)
	}
}

func TestRecordFilesWritten(t *testing.T) {
	upstream := newTestUpstream(t)
	upstream.status = http.StatusAccepted
	engine, recordDir := newTestEngine(t, upstream.server.URL)

	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	names := waitForRecords(t, recordDir, ".headers", 1)
	if len(names) != 1 {
		t.Fatalf("expected 1 header record, got %v", names)
	}
	text, err := os.ReadFile(filepath.Join(recordDir, names[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "Request: POST /inbox\n") {
		t.Errorf("record missing request line: %q", text)
	}
	if !strings.Contains(string(text), "Status: 202 Accepted\n") {
		t.Errorf("record missing upstream status: %q", text)
	}

	bodies := waitForRecords(t, recordDir, ".request.body", 1)
	if len(bodies) != 1 {
		t.Fatalf("expected 1 request body record, got %v", bodies)
	}
	body, err := os.ReadFile(filepath.Join(recordDir, bodies[0]))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"a":1}` {
		t.Errorf("unexpected recorded body %q", body)
	}
}
