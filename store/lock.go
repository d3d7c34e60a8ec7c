package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// lockStaleAfter is how old a lock file may be before it is presumed
// abandoned by a crashed process and broken.
const lockStaleAfter = 10 * time.Minute

const lockPollInterval = 50 * time.Millisecond

// acquireLock takes an advisory file lock by exclusive creation. The lock
// file records the owning pid. Stale locks are broken by mtime.
func acquireLock(ctx context.Context, path string) (release func(), err error) {
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			os.Remove(path)
			continue
		}
		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
