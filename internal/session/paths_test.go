package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("CHATLOG_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatlog", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix sessions/test/daemon.sock", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := t.TempDir()
	// Override BaseDir for testing by using a custom session dir.
	sessionDir := filepath.Join(tmpDir, "sessions", "test")
	logDir := filepath.Join(sessionDir, "logs")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(logDir, 0700); err != nil {
		t.Fatal(err)
	}

	// Verify dirs were created.
	info, err := os.Stat(sessionDir)
	if err != nil {
		t.Fatalf("session dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("session dir is not a directory")
	}
}

func TestBaseDirOverride(t *testing.T) {
	t.Setenv("CHATLOG_HOME", "/tmp/chatlog-home")
	if got := Dir("work"); got != filepath.Join("/tmp/chatlog-home", "sessions", "work") {
		t.Errorf("Dir(work) = %q", got)
	}
	if got := HistoryDBPath("work"); !strings.HasSuffix(got, filepath.Join("work", "chatlog.db")) {
		t.Errorf("HistoryDBPath(work) = %q", got)
	}
	if got := LogPath("work"); !strings.HasSuffix(got, filepath.Join("logs", "chatlogd.log")) {
		t.Errorf("LogPath(work) = %q", got)
	}
}

func TestList(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CHATLOG_HOME", home)

	got, err := List()
	if err != nil || len(got) != 0 {
		t.Fatalf("List() on empty home = %v, %v", got, err)
	}

	for _, name := range []string{"work", "main", "bad name"} {
		if err := os.MkdirAll(filepath.Join(home, "sessions", name), 0700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(HistoryDBPath("main"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	got, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "main" || got[1].Name != "work" {
		t.Fatalf("List() = %+v, want main and work", got)
	}
	if !got[0].HasHistory || got[1].HasHistory {
		t.Errorf("HasHistory = %v/%v, want true/false", got[0].HasHistory, got[1].HasHistory)
	}
}
