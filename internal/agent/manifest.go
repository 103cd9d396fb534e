package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrEmptyManifest is returned when the manifest file lists no assets.
var ErrEmptyManifest = errors.New("agent: manifest lists no assets")

// LoadManifest reads the install manifest: a JSON array of asset paths,
// order preserved. The returned version is derived from the file
// contents, so any edit produces a new store generation name.
func LoadManifest(path string) (version string, assets []string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("unable to read manifest: %w", err)
	}

	if err := json.Unmarshal(raw, &assets); err != nil {
		return "", nil, fmt.Errorf("unable to parse manifest: %w", err)
	}
	if len(assets) == 0 {
		return "", nil, ErrEmptyManifest
	}

	sum := sha256.Sum256(raw)
	return "v-" + hex.EncodeToString(sum[:6]), assets, nil
}

// WatchManifest invokes onChange whenever the manifest file is written
// or replaced. Editors often replace files via rename, so the watch is
// on the containing directory. It returns a stop function.
func WatchManifest(path string, onChange func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("unable to watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
