package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "minaret.lock")
}

func writeRecord(t *testing.T, path string, record Record) {
	t.Helper()
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := lockPath(t)
	guard := NewGuard(path, zerolog.Nop())

	handle, err := guard.Acquire(false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	record, err := guard.read()
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if record.OwnerPID != os.Getpid() {
		t.Fatalf("unexpected owner pid: %d", record.OwnerPID)
	}

	handle.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock record removed after release")
	}
}

func TestAcquireFailsWhenOwnerAlive(t *testing.T) {
	path := lockPath(t)
	writeRecord(t, path, Record{OwnerPID: 4242, AcquiredAt: time.Now().UTC()})

	guard := NewGuard(path, zerolog.Nop())
	guard.processAlive = func(pid int) bool { return pid == 4242 }

	if _, err := guard.Acquire(false); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	// The live owner's record must be untouched.
	record, err := guard.read()
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if record.OwnerPID != 4242 {
		t.Fatalf("owner record modified: %+v", record)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := lockPath(t)
	writeRecord(t, path, Record{OwnerPID: 4242, AcquiredAt: time.Now().UTC().Add(-time.Hour)})

	guard := NewGuard(path, zerolog.Nop())
	guard.processAlive = func(pid int) bool { return pid == os.Getpid() }

	handle, err := guard.Acquire(false)
	if err != nil {
		t.Fatalf("acquire over stale lock: %v", err)
	}
	defer handle.Release()

	record, err := guard.read()
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if record.OwnerPID != os.Getpid() {
		t.Fatalf("expected own pid in record, got %d", record.OwnerPID)
	}
}

func TestAcquireReclaimsCorruptLock(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	guard := NewGuard(path, zerolog.Nop())
	handle, err := guard.Acquire(false)
	if err != nil {
		t.Fatalf("acquire over corrupt lock: %v", err)
	}
	handle.Release()
}

func TestForceTakeoverTerminatesOwner(t *testing.T) {
	path := lockPath(t)
	writeRecord(t, path, Record{OwnerPID: 4242, AcquiredAt: time.Now().UTC()})

	alive := true
	var sent []syscall.Signal

	guard := NewGuard(path, zerolog.Nop())
	guard.processAlive = func(pid int) bool {
		if pid == 4242 {
			return alive
		}
		return pid == os.Getpid()
	}
	guard.terminate = func(pid int, sig syscall.Signal) error {
		sent = append(sent, sig)
		alive = false
		return nil
	}

	handle, err := guard.Acquire(true)
	if err != nil {
		t.Fatalf("force acquire: %v", err)
	}
	defer handle.Release()

	if len(sent) == 0 || sent[0] != syscall.SIGTERM {
		t.Fatalf("expected SIGTERM first, got %v", sent)
	}

	record, err := guard.read()
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if record.OwnerPID != os.Getpid() {
		t.Fatalf("expected takeover to own the lock, got pid %d", record.OwnerPID)
	}
}

func TestReleaseLeavesForeignLockAlone(t *testing.T) {
	path := lockPath(t)
	guard := NewGuard(path, zerolog.Nop())

	handle, err := guard.Acquire(false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Simulate another process replacing the record.
	writeRecord(t, path, Record{OwnerPID: 4242, AcquiredAt: time.Now().UTC()})

	handle.Release()
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected foreign lock record to survive release")
	}
}
