package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock returned error: %v", err)
	}

	lockPath := filepath.Join(stateDir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("expected lock file at %s: %v", lockPath, err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("expected lock file removed after release")
	}
}

func TestAcquireLockConflict(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("first AcquireLock returned error: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(stateDir); err == nil {
		t.Fatal("expected second AcquireLock to fail")
	} else if _, ok := err.(*LockError); !ok {
		t.Errorf("expected *LockError, got %T", err)
	}
}

func TestReleaseTwiceIsSafe(t *testing.T) {
	lock, err := AcquireLock(t.TempDir())
	if err != nil {
		t.Fatalf("AcquireLock returned error: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("first Release returned error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release returned error: %v", err)
	}
}

func TestLockCreatesStateDir(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock returned error: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(stateDir); err != nil {
		t.Errorf("expected state directory created: %v", err)
	}
}
