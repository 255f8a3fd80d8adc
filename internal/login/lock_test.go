package login

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestFileLockAcquire は空き状態でロックが取得できることをテストする。
func TestFileLockAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")
	lock := NewFileLock(path, 10*time.Minute, testLogger())

	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if !acquired {
		t.Fatal("Acquire() = false, want true for free lock")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
}

// TestFileLockAcquire_HeldByOther は有効なロックが存在する場合に取得が拒否されることをテストする。
func TestFileLockAcquire_HeldByOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")

	first := NewFileLock(path, 10*time.Minute, testLogger())
	if acquired, err := first.Acquire(); err != nil || !acquired {
		t.Fatalf("first Acquire() = (%v, %v), want (true, nil)", acquired, err)
	}

	second := NewFileLock(path, 10*time.Minute, testLogger())
	acquired, err := second.Acquire()
	if err != nil {
		t.Fatalf("second Acquire() returned error: %v", err)
	}
	if acquired {
		t.Error("second Acquire() = true, want false while lock is held")
	}
}

// TestFileLockRelease は解放後に再取得できることをテストする。
func TestFileLockRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")
	lock := NewFileLock(path, 10*time.Minute, testLogger())

	if acquired, err := lock.Acquire(); err != nil || !acquired {
		t.Fatalf("Acquire() = (%v, %v), want (true, nil)", acquired, err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() returned error: %v", err)
	}

	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("re-Acquire() returned error: %v", err)
	}
	if !acquired {
		t.Error("re-Acquire() = false, want true after Release()")
	}
}

// TestFileLockRelease_MissingFile はファイルがなくてもReleaseが成功することをテストする。
func TestFileLockRelease_MissingFile(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "login.lock"), 10*time.Minute, testLogger())

	if err := lock.Release(); err != nil {
		t.Errorf("Release() returned error for missing file: %v", err)
	}
}

// TestFileLockAcquire_ReclaimsStale はTTL超過のロックを回収して取得できることをテストする。
func TestFileLockAcquire_ReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")

	// 古いタイムスタンプのロックを作る
	holder := NewFileLock(path, 10*time.Minute, testLogger())
	holder.now = func() time.Time { return time.Now().Add(-time.Hour) }
	if acquired, err := holder.Acquire(); err != nil || !acquired {
		t.Fatalf("setup Acquire() = (%v, %v), want (true, nil)", acquired, err)
	}

	claimant := NewFileLock(path, 10*time.Minute, testLogger())
	acquired, err := claimant.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if !acquired {
		t.Error("Acquire() = false, want true for stale lock reclaim")
	}
}

// TestFileLockAcquire_FreshNotReclaimed はTTL内のロックを回収しないことをテストする。
func TestFileLockAcquire_FreshNotReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")

	holder := NewFileLock(path, 10*time.Minute, testLogger())
	holder.now = func() time.Time { return time.Now().Add(-time.Minute) }
	if acquired, err := holder.Acquire(); err != nil || !acquired {
		t.Fatalf("setup Acquire() = (%v, %v), want (true, nil)", acquired, err)
	}

	claimant := NewFileLock(path, 10*time.Minute, testLogger())
	acquired, err := claimant.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if acquired {
		t.Error("Acquire() = true, want false for fresh lock")
	}
}

// TestFileLockAcquire_CorruptTimestamp は解析不能なロックを回収することをテストする。
func TestFileLockAcquire_CorruptTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.lock")
	if err := os.WriteFile(path, []byte("not-a-timestamp"), 0o600); err != nil {
		t.Fatalf("failed to write corrupt lock: %v", err)
	}

	lock := NewFileLock(path, 10*time.Minute, testLogger())
	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	if !acquired {
		t.Error("Acquire() = false, want true for corrupt lock reclaim")
	}
}
