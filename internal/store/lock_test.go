package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupLockDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".till"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}

func TestWriteLockExclusive(t *testing.T) {
	dir := setupLockDir(t)

	l1 := newWriteLocker(dir)
	if err := l1.acquire(defaultTimeout); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	l2 := newWriteLocker(dir)
	err := l2.acquire(50 * time.Millisecond)
	if err == nil {
		l2.release()
		t.Fatal("second acquire succeeded while lock held")
	}
	if !strings.Contains(err.Error(), "holder") {
		t.Errorf("timeout error missing holder diagnostics: %v", err)
	}

	if err := l1.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l2.acquire(defaultTimeout); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l2.release()
}

func TestWriteLockRecordsHolder(t *testing.T) {
	dir := setupLockDir(t)

	l := newWriteLocker(dir)
	if err := l.acquire(defaultTimeout); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.release()

	data, err := os.ReadFile(filepath.Join(dir, ".till", lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid:") {
		t.Errorf("lock file missing holder info: %q", data)
	}
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := newWriteLocker(setupLockDir(t))
	if err := l.release(); err != nil {
		t.Errorf("release without acquire: %v", err)
	}
}

func TestWithWriteLockSerializes(t *testing.T) {
	st, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer st.Close()

	ran := false
	err = st.WithWriteLock(func() error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("WithWriteLock: ran=%v err=%v", ran, err)
	}
}
