package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWrite_FirstStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := Write(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("unexpected pid file content %q", data)
	}
}

func TestWrite_OwnPidAlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Write(path); err != nil {
		t.Errorf("restart with own pid must succeed: %v", err)
	}
}

func TestWrite_StalePidOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	// a pid that cannot be a live process
	if err := os.WriteFile(path, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Write(path); err != nil {
		t.Errorf("stale pid must be overwritten: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("unexpected pid file content %q", data)
	}
}

func TestWrite_GarbageContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Write(path); err == nil {
		t.Error("expected error for unparsable pid file")
	}
}

func TestWrite_LiveForeignPid(t *testing.T) {
	ppid := os.Getppid()
	if ppid <= 1 {
		t.Skip("no signalable parent process")
	}
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(ppid)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Write(path); err == nil {
		t.Error("expected error while the recorded process is alive")
	}
}
