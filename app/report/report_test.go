package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tateisu/mastodonInboxFilter/app/cfg"
)

func TestWildcardToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		match   bool
	}{
		{"abc.def", "abc.def", true},
		{"abc.def", "abcxdef", false},
		{"*.*", "a.b", true},
		{"*.*", "axb", false},
		{"?.?", "a.b", true},
		{"?.?", "axb", false},
		{"?.?", "aa.b", false},
		{"app-*.log", "app-2026-08-30.log", true},
		{"app-*.log", "app-.log", true},
		{"app-*.log", "other.log", false},
		{"app-**.log", "app-x.log", true},
		{"a(b)c", "a(b)c", true},
		{"a(b)c", "abc", false},
	}
	for _, tt := range tests {
		re, err := WildcardToRegex(tt.pattern)
		if err != nil {
			t.Fatalf("WildcardToRegex(%q): %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.input); got != tt.match {
			t.Errorf("pattern %q input %q: expected match=%v, got %v",
				tt.pattern, tt.input, tt.match, got)
		}
	}
}

func TestMessageText(t *testing.T) {
	mention := "@admin@host.example"
	urls := []string{
		"https://spam.example/@a/111",
		"https://spam.example/@b/222",
		"https://spam.example/@c/333",
	}

	text := messageText(mention, urls, 500, 23)
	if !strings.HasPrefix(text, mention+" automated message") {
		t.Errorf("expected mention prefix, got %q", text)
	}
	for _, url := range urls {
		if !strings.Contains(text, url) {
			t.Errorf("expected %s in message, got %q", url, text)
		}
	}
	if strings.Contains(text, "…") {
		t.Errorf("unexpected truncation marker in %q", text)
	}

	// too small a budget keeps the preamble and truncates the samples
	tight := messageText(mention, urls, 120, 23)
	if !strings.HasSuffix(tight, " …") {
		t.Errorf("expected truncation marker, got %q", tight)
	}
	if strings.Contains(tight, urls[1]) {
		t.Errorf("expected second sample dropped, got %q", tight)
	}
}

func TestHostTableSorted(t *testing.T) {
	table := newHostTable()
	table.Add("one.example", "https://one.example/@a/1", 100)
	table.Add("two.example", "https://two.example/@a/1", 100)
	table.Add("two.example", "https://two.example/@a/2", 300)
	table.Add("two.example", "https://two.example/@a/1", 200) // newer sighting wins

	entries := table.Sorted()
	if len(entries) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(entries))
	}
	if entries[0].Host != "two.example" || entries[0].Count != 2 {
		t.Errorf("expected two.example first with count 2, got %+v", entries[0])
	}
	if entries[0].URLs[0] != "https://two.example/@a/2" {
		t.Errorf("expected newest URL first, got %v", entries[0].URLs)
	}
}

func TestReadLogFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	stamp := func(t time.Time) string {
		return t.Format("2006-01-02T15:04:05.000-07:00")
	}

	lines := []string{
		// recent verdict, counted
		fmt.Sprintf(`time=%s level=INFO msg=NG sign="<word: buy>" url=https://spam.example/@evil/12345 text="buy now"`, stamp(now.Add(-time.Hour))),
		// same post seen again
		fmt.Sprintf(`time=%s level=INFO msg=NG sign="<word: buy>" url=https://spam.example/@evil/12345 text="buy now"`, stamp(now.Add(-30*time.Minute))),
		// different post, different host
		fmt.Sprintf(`time=%s level=INFO msg=NG sign=9WC/x url=https://other.example/@bot/777 text="x"`, stamp(now.Add(-2*time.Hour))),
		// expired verdict
		fmt.Sprintf(`time=%s level=INFO msg=NG sign="<word: buy>" url=https://spam.example/@old/1 text="old"`, stamp(now.Add(-48*time.Hour))),
		// not a verdict
		fmt.Sprintf(`time=%s level=INFO msg=OK url=https://spam.example/@fine/2`, stamp(now.Add(-time.Hour))),
		// verdict without a recognizable post URL
		fmt.Sprintf(`time=%s level=INFO msg=NG sign=x url=https://spam.example/users/evil`, stamp(now.Add(-time.Hour))),
		"garbage line",
	}
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	table := newHostTable()
	ReadLogFile(table, path, now.Add(-24*time.Hour))

	entries := table.Sorted()
	if len(entries) != 2 {
		t.Fatalf("expected 2 hosts, got %+v", entries)
	}
	byHost := map[string]hostEntry{}
	for _, e := range entries {
		byHost[e.Host] = e
	}
	if e := byHost["spam.example"]; e.Count != 1 || e.URLs[0] != "https://spam.example/@evil/12345" {
		t.Errorf("unexpected spam.example entry %+v", e)
	}
	if e := byHost["other.example"]; e.Count != 1 {
		t.Errorf("unexpected other.example entry %+v", e)
	}
}

func TestReadLogFile_SkipsStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	line := fmt.Sprintf(`time=%s level=INFO msg=NG sign=x url=https://spam.example/@evil/1 text="x"`,
		time.Now().Format("2006-01-02T15:04:05.000-07:00"))
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	table := newHostTable()
	ReadLogFile(table, path, time.Now().Add(-24*time.Hour))
	if entries := table.Sorted(); len(entries) != 0 {
		t.Errorf("expected stale file skipped, got %+v", entries)
	}
}

func TestListLogFiles(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "main.log")
	for _, name := range []string{"main.log", "app-1.log", "app-2.log", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// stale secondary file falls outside the window
	stale := filepath.Join(dir, "app-old.log")
	if err := os.WriteFile(stale, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	ar := &cfg.AutoReport{
		LogFilePrimary:              primary,
		LogFileSecondaryFolder:      dir,
		LogFileSecondaryNamePattern: "app-*.log",
	}
	list := ListLogFiles(ar, time.Now().Add(-24*time.Hour))

	got := map[string]bool{}
	for _, p := range list {
		got[filepath.Base(p)] = true
	}
	for _, expected := range []string{"main.log", "app-1.log", "app-2.log"} {
		if !got[expected] {
			t.Errorf("expected %s in %v", expected, list)
		}
	}
	if got["other.txt"] {
		t.Errorf("unexpected other.txt in %v", list)
	}
	if got["app-old.log"] {
		t.Errorf("unexpected stale app-old.log in %v", list)
	}
}

func TestIsServerDead(t *testing.T) {
	for _, short := range []string{
		"Head \"https://x\": context deadline exceeded",
		"HTTP 502 Bad Gateway",
		"dial tcp: lookup x: no such host",
	} {
		if !isServerDead(short) {
			t.Errorf("expected dead marker for %q", short)
		}
	}
	if isServerDead("HTTP 403 Forbidden") {
		t.Error("403 is not a dead-server marker")
	}
}
