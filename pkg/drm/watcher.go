package drm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/config"
)

// WatchKeyFile rotates the signer whenever the key file changes. The file
// holds one base64 or hex encoded 32-byte key. Watching the parent directory
// instead of the file itself survives the write-temp-then-rename pattern
// most secret managers use.
func WatchKeyFile(ctx context.Context, signer *Signer, path string) error {
	if err := loadKeyFile(signer, path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating key file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := loadKeyFile(signer, path); err != nil {
					logger.Warn("signing key reload failed", logger.KeyError, err)
					continue
				}
				logger.Info("token signing key rotated", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("key file watcher error", logger.KeyError, err)
			}
		}
	}()
	return nil
}

func loadKeyFile(signer *Signer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}
	key, err := config.DecodeKey(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("decoding key file: %w", err)
	}
	return signer.Rotate(key)
}
