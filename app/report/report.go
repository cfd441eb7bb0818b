package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tateisu/mastodonInboxFilter/app/cfg"
	"github.com/tateisu/mastodonInboxFilter/app/fetch"
)

// At most this many sample URLs are included per host report.
const maxSampleUrls = 6

var re5xx = regexp.MustCompile(`HTTP 5\d{2} `)

// Options are the CLI switches of the batch job.
type Options struct {
	// NoPost collects and logs the summary without sending any DM.
	NoPost bool
	// Hours is the log lookback window.
	Hours int
	// TestMentionTo, when set, sends a single test report to that mention
	// and does nothing else.
	TestMentionTo string
}

// Run executes the offline auto-report job: scan recent spam logs, group
// them by originating host, discover each host's admin account, and send a
// DM asking for cleanup. It shares the proxy's fetch cache but none of its
// long-lived state.
func Run(ctx context.Context, c *cfg.Cfg, opts Options) error {
	ar := c.AutoReport
	if ar == nil {
		return fmt.Errorf("config has no autoReport sub object")
	}

	httpClient := &http.Client{Timeout: time.Duration(ar.RequestTimeoutMs) * time.Millisecond}
	defer httpClient.CloseIdleConnections()

	fetcher, err := fetch.NewClient(httpClient, ar.UserAgent, c.CacheDir)
	if err != nil {
		return err
	}

	checkDir := ar.AutoReportDir
	if err := os.MkdirAll(checkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create autoReport directory: %w", err)
	}

	// Our own server's posting limits decide how many sample URLs fit in
	// one DM.
	myInfo, err := getInstanceInfo(ctx, fetcher, ar.ApiHost, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ar.AccessToken)
	})
	if err != nil {
		return err
	}
	maxChars := myInfo.Configuration.Statuses.MaxCharacters
	urlChars := myInfo.Configuration.Statuses.CharactersReservedPerURL
	if maxChars == 0 || urlChars == 0 {
		return fmt.Errorf("instance info of %s lacks status character limits", ar.ApiHost)
	}
	slog.Info("Loaded posting limits", "maxChars", maxChars, "urlChars", urlChars)

	if opts.TestMentionTo != "" {
		return testReport(ctx, httpClient, ar, checkDir, maxChars, urlChars, opts.TestMentionTo)
	}

	expire := time.Now().Add(-time.Duration(opts.Hours) * time.Hour)
	table := newHostTable()
	for _, path := range ListLogFiles(ar, expire) {
		ReadLogFile(table, path, expire)
	}
	entries := table.Sorted()

	// Admin lookups are independent per host, so they run concurrently;
	// the directory is the only shared state.
	slog.Info("Reading instance info", "hosts", len(entries))
	admins := newAdminDirectory()
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			findAdminMention(ctx, fetcher, admins, ar.SkipHostSet, host)
		}(entry.Host)
	}
	wg.Wait()

	for _, entry := range entries {
		wg.Add(1)
		go func(entry hostEntry) {
			defer wg.Done()
			if _, skip := ar.SkipHostSet[entry.Host]; skip {
				return
			}
			reportHost(ctx, httpClient, ar, admins.Mention(entry.Host), checkDir,
				opts.NoPost, maxChars, urlChars, entry)
		}(entry)
	}
	wg.Wait()

	for _, entry := range entries {
		logHostSummary(entry.Host, entry.Count, admins.Error(entry.Host), admins.Mention(entry.Host))
	}
	return nil
}

// adminDirectory maps spam hosts to their admin mention, or to the reason
// none was found. Written concurrently during discovery, read-only after.
type adminDirectory struct {
	mu       sync.Mutex
	mentions map[string]string
	errors   map[string]string
}

func newAdminDirectory() *adminDirectory {
	return &adminDirectory{
		mentions: make(map[string]string),
		errors:   make(map[string]string),
	}
}

func (d *adminDirectory) Mention(host string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mentions[host]
}

func (d *adminDirectory) Error(host string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors[host]
}

func (d *adminDirectory) setMention(host, mention string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mentions[host] = mention
}

func (d *adminDirectory) setError(host, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors[host] = text
}

func findAdminMention(ctx context.Context, fetcher *fetch.Client, admins *adminDirectory,
	skipHosts map[string]struct{}, host string) {
	if _, skip := skipHosts[host]; skip {
		admins.setError(host, "(skipped.)")
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	info, err := getInstanceInfo(lookupCtx, fetcher, host, nil)
	if err != nil {
		admins.setError(host, err.Error())
		return
	}
	if info.Domain == "" || info.Contact.Account.Username == "" {
		admins.setError(host, "(can't find admin account.)")
		return
	}
	admins.setMention(host, "@"+info.Contact.Account.Username+"@"+info.Domain)
}

func reportHost(ctx context.Context, httpClient *http.Client, ar *cfg.AutoReport,
	mentionTo, checkDir string, noPost bool, maxChars, urlChars int, entry hostEntry) {
	if mentionTo == "" {
		return
	}

	activeUrls, err := checkSpamUrls(ctx, httpClient, checkDir, entry.Host, entry.URLs)
	if err != nil {
		slog.Error("Spam URL check failed", "host", entry.Host, "error", err)
		return
	}
	if noPost || len(activeUrls) == 0 {
		return
	}

	text := messageText(mentionTo, activeUrls, maxChars, urlChars)
	if err := postStatus(ctx, httpClient, ar, text); err != nil {
		slog.Error("Report failed", "host", entry.Host, "error", err)
		return
	}
	for _, url := range activeUrls {
		createCheckFile(checkDir, url)
	}
}

// checkSpamUrls HEAD-checks spam post URLs and returns those still alive.
// URLs already checked in a previous run (memoized in checkDir) are
// skipped. Gone posts and dead servers are memoized so the next run does
// not retry them; a 5xx aborts the host as a temporary server failure.
func checkSpamUrls(ctx context.Context, httpClient *http.Client, checkDir, host string, urls []string) ([]string, error) {
	var active []string
	for _, url := range urls {
		if len(active) >= maxSampleUrls {
			break
		}
		checkFile := filepath.Join(checkDir, fetch.SafeFileName(url))
		if _, err := os.Stat(checkFile); err == nil {
			slog.Debug("Already checked", "url", url)
			continue
		}

		short, err := headStatus(ctx, httpClient, url)
		if err == nil {
			active = append(active, url)
			continue
		}

		switch {
		case strings.Contains(short, "403 Forbidden") ||
			strings.Contains(short, "410 Gone"):
			slog.Warn("Post deleted?", "host", host, "error", short)
			createCheckFile(checkDir, url)

		case isServerDead(short):
			slog.Warn("Server closed?", "host", host, "error", short)
			for _, u := range urls {
				createCheckFile(checkDir, u)
			}
			return active, nil

		case re5xx.MatchString(short):
			return active, fmt.Errorf("server temporary error. %s", short)

		default:
			return active, fmt.Errorf("%s", short)
		}
	}
	return active, nil
}

// headStatus issues a HEAD request and reports non-success as an error
// description string.
func headStatus(ctx context.Context, httpClient *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err.Error(), err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err.Error(), err
	}
	res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		short := "HTTP " + res.Status
		return short, fmt.Errorf("%s", short)
	}
	return "", nil
}

func isServerDead(short string) bool {
	for _, marker := range []string{
		"context deadline exceeded",
		"Client.Timeout",
		"tls:",
		"certificate",
		"502 Bad Gateway",
		"connection refused",
		"connection reset",
		"no route to host",
		"no such host",
	} {
		if strings.Contains(short, marker) {
			return true
		}
	}
	return false
}

// messageText composes the admin DM, appending sample URLs while they fit
// within the server's character limit. URLs count at least urlChars each,
// matching Mastodon's link shortening.
func messageText(mentionTo string, urls []string, maxChars, urlChars int) string {
	var b strings.Builder
	b.WriteString(mentionTo)
	b.WriteString(" automated message: your server send SPAM.\n" +
		" please suspend SPAM accounts and consider to block mail address domain.\n" +
		" some samples of posts:")
	chars := utf8.RuneCountInString(b.String())
	for _, url := range urls {
		urlLength := utf8.RuneCountInString(url)
		if urlLength < urlChars {
			urlLength = urlChars
		}
		if maxChars-chars >= 3+urlLength {
			b.WriteString(" " + url)
			chars += 1 + urlLength
		} else {
			b.WriteString(" …")
			break
		}
	}
	return b.String()
}

// postStatus publishes the DM through the Mastodon statuses API.
func postStatus(ctx context.Context, httpClient *http.Client, ar *cfg.AutoReport, status string) error {
	body, err := json.Marshal(map[string]string{
		"status":     status,
		"visibility": ar.Visibility,
	})
	if err != nil {
		return err
	}

	apiHost := ar.ApiHost
	if !strings.HasPrefix(apiHost, "https://") {
		apiHost = "https://" + apiHost
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiHost+"/api/v1/statuses", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+ar.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	if ar.UserAgent != "" {
		req.Header.Set("User-Agent", ar.UserAgent)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post status: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("failed to post status: HTTP %s", res.Status)
	}
	return nil
}

func createCheckFile(checkDir, url string) {
	path := filepath.Join(checkDir, fetch.SafeFileName(url))
	if err := os.WriteFile(path, []byte(url), 0o644); err != nil {
		slog.Warn("Failed to write check file", "path", path, "error", err)
	}
}

// testReport sends one report with synthetic URLs to verify the posting
// path end to end.
func testReport(ctx context.Context, httpClient *http.Client, ar *cfg.AutoReport,
	checkDir string, maxChars, urlChars int, mentionTo string) error {
	urls := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("https://juggler.jp/%d", i))
	}
	activeUrls, err := checkSpamUrls(ctx, httpClient, checkDir, "test", urls)
	if err != nil {
		return err
	}
	if len(activeUrls) == 0 {
		slog.Info("No active URLs for test report")
		return nil
	}

	text := messageText(mentionTo, activeUrls, maxChars, urlChars)
	if err := postStatus(ctx, httpClient, ar, text); err != nil {
		return err
	}
	for _, url := range activeUrls {
		createCheckFile(checkDir, url)
	}
	return nil
}

func logHostSummary(host string, count int, errText, mention string) {
	switch {
	case errText != "":
		slog.Info("Host summary", "count", count, "host", host, "error", errText)
	case mention != "":
		slog.Info("Host summary", "count", count, "host", host, "mention", mention)
	default:
		slog.Info("Host summary", "count", count, "host", host)
	}
}
