package retention

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically deletes aged files from the record and cache
// directories so disk use stays bounded without any explicit quota.
type Sweeper struct {
	dirs   []string
	maxAge time.Duration
	cron   *cron.Cron
}

func NewSweeper(maxAge time.Duration, dirs ...string) *Sweeper {
	return &Sweeper{
		dirs:   dirs,
		maxAge: maxAge,
		cron:   cron.New(),
	}
}

// Start sweeps once immediately, then hourly.
func (s *Sweeper) Start() {
	s.run()
	s.cron.AddFunc("@hourly", s.run)
	s.cron.Start()
}

// Stop cancels the schedule. A sweep already running finishes.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) run() {
	for _, dir := range s.dirs {
		remain := SweepOld(dir, s.maxAge)
		slog.Info("Swept old files", "dir", dir, "remain", remain)
	}
}

// SweepOld removes files older than maxAge below dir, deleting emptied
// subdirectories bottom-up. dir itself is kept. Returns the number of
// entries left behind.
func SweepOld(dir string, maxAge time.Duration) int {
	return sweep(dir, time.Now().Add(-maxAge))
}

func sweep(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("Failed to read directory", "dir", dir, "error", err)
		return 0
	}

	remain := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if sweep(path, cutoff) == 0 {
				if err := os.Remove(path); err != nil {
					slog.Warn("Failed to remove directory", "path", path, "error", err)
					remain++
				}
			} else {
				remain++
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			remain++
			continue
		}
		if info.ModTime().After(cutoff) {
			remain++
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove file", "path", path, "error", err)
			remain++
		}
	}
	return remain
}
