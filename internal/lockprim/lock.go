// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockprim

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// sessionID identifies this process instance across all locks it takes,
// so LockInfo.SessionID can distinguish two holders running under the
// same PID namespace (containers) or across process restarts that reuse
// a PID.
var sessionID = uuid.NewString()

const pollInterval = 25 * time.Millisecond

// CanonicalPath is an absolute, symlink-resolved, root-validated path.
type CanonicalPath string

// Canonicalize resolves path to an absolute path and, when root is
// non-empty, rejects any result that escapes root via ".." traversal.
// A root of "" disables the escape check (equivalent to
// allow_outside_root in spec terms).
func Canonicalize(root, path string) (CanonicalPath, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if root != "" {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("canonicalize root %q: %w", root, err)
		}
		rootAbs = filepath.Clean(rootAbs)
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q is outside %q", ErrPathEscapesRoot, abs, rootAbs)
		}
	}

	return CanonicalPath(abs), nil
}

func lockFilePath(path string) string {
	return path + ".lock"
}

func pidFilePath(path string) string {
	return path + ".lock.pid"
}

// LockGuard represents a held advisory lock. It must be released exactly
// once; Release is idempotent and safe to call from a deferred statement
// on every exit path, including after a panic recovers further up the
// call stack.
type LockGuard struct {
	mu        sync.Mutex
	path      string
	lockPath  string
	pidPath   string
	file      *os.File
	exclusive bool
	released  bool
}

// AcquireExclusive blocks, retrying at pollInterval, until the exclusive
// lock on path is acquired or timeout elapses. Reentrancy is not
// supported: a goroutine that already holds the lock must Release first.
func AcquireExclusive(path string, timeout time.Duration) (*LockGuard, error) {
	return acquire(path, timeout, true)
}

// AcquireShared blocks, retrying at pollInterval, until a shared
// (read) lock on path is acquired or timeout elapses.
func AcquireShared(path string, timeout time.Duration) (*LockGuard, error) {
	return acquire(path, timeout, false)
}

func acquire(path string, timeout time.Duration, exclusive bool) (*LockGuard, error) {
	return acquireAt(path, lockFilePath(path), pidFilePath(path), timeout, exclusive)
}

// AcquireExclusiveFile acquires an exclusive lock using lockPath itself
// as the lock file, without the ".lock" suffix convention AcquireExclusive
// applies. Used for the fixed sentinel filenames spec.md §6 names
// directly, such as "<root>/.lock" for the history journal and the SGE
// context file's lock.
func AcquireExclusiveFile(lockPath string, timeout time.Duration) (*LockGuard, error) {
	return acquireAt(lockPath, lockPath, lockPath+".pid", timeout, true)
}

// AcquireSharedFile is the shared-lock counterpart of AcquireExclusiveFile.
func AcquireSharedFile(lockPath string, timeout time.Duration) (*LockGuard, error) {
	return acquireAt(lockPath, lockPath, lockPath+".pid", timeout, false)
}

func acquireAt(displayPath, lockPath, pidPath string, timeout time.Duration, exclusive bool) (*LockGuard, error) {
	start := time.Now()
	ctx, span := startAcquireSpan(displayPath, exclusive)
	defer span.End()
	var contended bool

	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare lock dir for %q: %w", displayPath, err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", lockPath, err)
	}

	flag := unix.LOCK_EX
	if !exclusive {
		flag = unix.LOCK_SH
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), flag|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			recordAcquire(ctx, time.Since(start), contended, false)
			return nil, fmt.Errorf("flock %q: %w", lockPath, err)
		}
		contended = true
		if time.Now().After(deadline) {
			holder := readHolder(pidPath)
			f.Close()
			recordAcquire(ctx, time.Since(start), contended, true)
			return nil, &FileLockError{
				Path:   displayPath,
				Holder: holder,
				Err:    fmt.Errorf("%w (waited %s)", ErrTimeout, timeout),
			}
		}
		time.Sleep(pollInterval)
	}

	recordAcquire(ctx, time.Since(start), contended, false)

	guard := &LockGuard{
		path:      displayPath,
		lockPath:  lockPath,
		pidPath:   pidPath,
		file:      f,
		exclusive: exclusive,
	}

	if exclusive {
		// Best-effort diagnostic bookkeeping; failure to write the PID
		// sidecar does not fail the lock acquisition itself.
		_ = writeHolder(guard.pidPath)
	}

	return guard, nil
}

// Release drops the lock. It is safe to call more than once; subsequent
// calls are no-ops. The underlying lock file is intentionally left on
// disk (matching the teacher's ProcessLock.Release convention) so the
// next acquirer does not pay directory-entry creation cost.
func (g *LockGuard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil
	}
	g.released = true

	if g.exclusive {
		_ = os.Remove(g.pidPath)
	}

	err := unix.Flock(int(g.file.Fd()), unix.LOCK_UN)
	closeErr := g.file.Close()
	if err != nil {
		return fmt.Errorf("unlock %q: %w", g.lockPath, err)
	}
	return closeErr
}

// Path returns the path this guard protects.
func (g *LockGuard) Path() string { return g.path }

// Exclusive reports whether this guard holds an exclusive lock.
func (g *LockGuard) Exclusive() bool { return g.exclusive }

func writeHolder(pidPath string) error {
	contents := fmt.Sprintf("%d\n%s\n%d\n", os.Getpid(), sessionID, time.Now().UnixNano())
	return os.WriteFile(pidPath, []byte(contents), 0o644)
}

func readHolder(pidPath string) *LockInfo {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 1 {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil
	}
	info := &LockInfo{PID: pid}
	if len(lines) > 1 {
		info.SessionID = strings.TrimSpace(lines[1])
	}
	if len(lines) > 2 {
		if nanos, err := strconv.ParseInt(strings.TrimSpace(lines[2]), 10, 64); err == nil {
			info.LockedAt = time.Unix(0, nanos)
		}
	}
	return info
}

// IsLocked reports whether path currently has a held exclusive or
// shared lock, and if so, a human-readable reason.
func IsLocked(path string) (bool, string, error) {
	lockPath := lockFilePath(path)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, "", fmt.Errorf("open lock file %q: %w", lockPath, err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return false, "", nil
	}
	if err != unix.EWOULDBLOCK {
		return false, "", fmt.Errorf("probe flock %q: %w", lockPath, err)
	}

	holder := readHolder(pidFilePath(path))
	if holder != nil {
		return true, fmt.Sprintf("held by pid %d since %s", holder.PID, holder.LockedAt.Format(time.RFC3339)), nil
	}
	return true, "held by an unidentified process", nil
}

// WaitForUnlock blocks until path is no longer locked or max elapses,
// returning true if the lock was observed released. It prefers an
// fsnotify watch on the lock file's directory, re-checking the lock on
// any event there (Release leaves the lock file in place; an exclusive
// holder's Release removes its ".lock.pid" sidecar) and on a 100ms
// timer; if the watch cannot be established (e.g. unsupported
// filesystem), it falls back to polling.
func WaitForUnlock(path string, max time.Duration) (bool, error) {
	locked, _, err := IsLocked(path)
	if err != nil {
		return false, err
	}
	if !locked {
		return true, nil
	}

	deadline := time.Now().Add(max)
	lockPath := lockFilePath(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollForUnlock(path, deadline)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		return pollForUnlock(path, deadline)
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			locked, _, _ := IsLocked(path)
			return !locked, nil
		}
		select {
		case <-watcher.Events:
			locked, _, err := IsLocked(path)
			if err != nil {
				return false, err
			}
			if !locked {
				return true, nil
			}
		case <-watcher.Errors:
			return pollForUnlock(path, deadline)
		case <-time.After(pollInterval * 4):
			locked, _, err := IsLocked(path)
			if err != nil {
				return false, err
			}
			if !locked {
				return true, nil
			}
		}
	}
}

func pollForUnlock(path string, deadline time.Time) (bool, error) {
	for time.Now().Before(deadline) {
		locked, _, err := IsLocked(path)
		if err != nil {
			return false, err
		}
		if !locked {
			return true, nil
		}
		time.Sleep(pollInterval)
	}
	locked, _, err := IsLocked(path)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// DiskFree reports the number of free bytes available on the filesystem
// containing dir.
func DiskFree(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", dir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
