package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"

	"github.com/nao1215/adsweep/internal/config"
)

// errAlreadyWatching is returned when another watch holds the page lock.
var errAlreadyWatching = errors.New("page is already being watched")

// pageLockPath names the lock file for a page address under the XDG runtime
// directory.
func pageLockPath(address string) (string, error) {
	sum := sha256.Sum256([]byte(address))
	name := filepath.Join(config.AppName, "watch-"+hex.EncodeToString(sum[:8])+".lock")
	path, err := xdg.RuntimeFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve lock file: %w", err)
	}
	return path, nil
}

// acquirePageLock takes the per-page watch lock. Two sessions on one page
// would stamp and save it concurrently.
func acquirePageLock(address string) (*flock.Flock, error) {
	path, err := pageLockPath(address)
	if err != nil {
		return nil, err
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, errAlreadyWatching)
	}
	return lock, nil
}
