package report

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tateisu/mastodonInboxFilter/app/cfg"
)

// Classifier NG verdicts as the slog text handler writes them, e.g.
//
//	time=2026-08-30T12:34:56.789+09:00 level=INFO msg=NG sign=... url=https://host/@user/123 text="..."
var reSpamLine = regexp.MustCompile(`^time=(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})\S* level=INFO msg=NG `)

var rePostUrl = regexp.MustCompile(`url=(https://([^/\s"]+)/@[^/\s"]+/\d+)`)

// hostTable collects spam post URLs per originating host. It lives only for
// one batch run; the mutex makes it safe should scanning ever fan out.
type hostTable struct {
	mu sync.Mutex
	// host -> post URL -> newest unix-milli timestamp seen
	hosts map[string]map[string]int64
}

func newHostTable() *hostTable {
	return &hostTable{hosts: make(map[string]map[string]int64)}
}

func (t *hostTable) Add(host, url string, unixMilli int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	urls := t.hosts[host]
	if urls == nil {
		urls = make(map[string]int64)
		t.hosts[host] = urls
	}
	if unixMilli > urls[url] {
		urls[url] = unixMilli
	}
}

type hostEntry struct {
	Host string
	// URLs sorted newest first.
	URLs  []string
	Count int
}

// Sorted returns hosts by spam count descending, each host's URLs newest
// first.
func (t *hostTable) Sorted() []hostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]hostEntry, 0, len(t.hosts))
	for host, urls := range t.hosts {
		e := hostEntry{Host: host, Count: len(urls)}
		for url := range urls {
			e.URLs = append(e.URLs, url)
		}
		sort.Slice(e.URLs, func(i, j int) bool {
			return urls[e.URLs[i]] > urls[e.URLs[j]]
		})
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}

// ListLogFiles resolves the configured log files: the primary path plus any
// file in the secondary folder whose name matches the wildcard pattern and
// which was modified within the window.
func ListLogFiles(c *cfg.AutoReport, expire time.Time) []string {
	paths := make(map[string]struct{})

	if c.LogFilePrimary != "" {
		if abs, err := filepath.Abs(c.LogFilePrimary); err == nil {
			paths[abs] = struct{}{}
		}
	}

	if c.LogFileSecondaryFolder != "" && c.LogFileSecondaryNamePattern != "" {
		reName, err := WildcardToRegex(c.LogFileSecondaryNamePattern)
		if err != nil {
			slog.Warn("Invalid log file name pattern",
				"pattern", c.LogFileSecondaryNamePattern, "error", err)
		} else {
			entries, _ := os.ReadDir(c.LogFileSecondaryFolder)
			for _, entry := range entries {
				if entry.IsDir() || !reName.MatchString(entry.Name()) {
					continue
				}
				info, err := entry.Info()
				if err != nil || info.ModTime().Before(expire) {
					continue
				}
				if abs, err := filepath.Abs(filepath.Join(c.LogFileSecondaryFolder, entry.Name())); err == nil {
					paths[abs] = struct{}{}
				}
			}
		}
	}

	list := make([]string, 0, len(paths))
	for p := range paths {
		list = append(list, p)
	}
	sort.Strings(list)
	return list
}

// ReadLogFile scans one log file for classifier verdicts newer than expire
// and records them in the table.
func ReadLogFile(table *hostTable, path string, expire time.Time) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.ModTime().Before(expire) {
		return
	}
	slog.Info("Reading log file", "path", path)

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("Failed to open log file", "path", path, "error", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m := reSpamLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t := time.Date(
			atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]),
			atoi(m[4]), atoi(m[5]), atoi(m[6]), 0, time.Local)
		if t.Before(expire) {
			continue
		}
		u := rePostUrl.FindStringSubmatch(line)
		if u == nil {
			continue
		}
		table.Add(u[2], u[1], t.UnixMilli())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Failed to scan log file", "path", path, "error", err)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
