// Package lifecycle owns creation, versioning and teardown of the
// offline asset stores. Exactly one store generation is "current" at
// any time; the request router reads only through the manager.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/voxproxy/internal/store"
)

// ErrNoManifest is returned when Initialize is called with an empty manifest.
var ErrNoManifest = errors.New("lifecycle: empty install manifest")

// stagingSuffix marks a store generation that is still being installed.
// Staging stores are never served and never survive a Finalize.
const stagingSuffix = ".staging"

func stagingName(version string) string {
	return version + stagingSuffix
}

func isStaging(name string) bool {
	return strings.HasSuffix(name, stagingSuffix)
}

// Fetcher retrieves one manifest URL and returns it as a store entry.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*store.Entry, error)
}

// Manager coordinates store generations. Initialize installs a new
// generation all-or-nothing; Finalize tears down every other generation
// and flips the active pointer.
type Manager struct {
	reg    store.Registry
	fetch  Fetcher
	logger *log.Logger

	mu      sync.RWMutex
	current store.Store
	subs    []chan string
}

// NewManager creates a lifecycle manager over the given registry and fetcher.
func NewManager(reg store.Registry, fetch Fetcher, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{reg: reg, fetch: fetch, logger: logger}
}

// Initialize fetches every manifest URL into a staging store for
// version. The operation is all-or-nothing: any fetch failure aborts
// the install, the staging store is removed, and every existing
// generation — including a persisted copy of version itself — is left
// untouched. On success the staging store is complete and is promoted
// by the next Finalize of the same version.
func (m *Manager) Initialize(ctx context.Context, version string, manifest []string) error {
	if len(manifest) == 0 {
		return ErrNoManifest
	}

	staging, err := m.reg.Open(stagingName(version))
	if err != nil {
		return fmt.Errorf("failed to open staging store for %q: %w", version, err)
	}

	start := time.Now()
	var total int64
	for _, url := range manifest {
		entry, err := m.fetch.Fetch(ctx, url)
		if err != nil {
			m.abortInstall(version)
			return fmt.Errorf("install of %q aborted at %s: %w", version, url, err)
		}
		if err := staging.Put(store.Key{Method: "GET", URL: url}, entry); err != nil {
			m.abortInstall(version)
			return fmt.Errorf("install of %q aborted at %s: %w", version, url, err)
		}
		total += int64(len(entry.Body))
	}

	m.logger.Info("installed asset store",
		"version", version,
		"assets", len(manifest),
		"size", humanize.Bytes(uint64(total)),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// abortInstall removes a partially populated staging store. Only the
// staging name is ever touched, so a failed install never degrades
// serving, no matter which generations exist.
func (m *Manager) abortInstall(version string) {
	if err := m.reg.Remove(stagingName(version)); err != nil {
		m.logger.Error("failed to remove staging store", "version", version, "err", err)
	}
}

// Finalize promotes version's staging store if one exists, deletes
// every store whose name differs from version, makes version the
// current generation, and notifies subscribers so open clients switch
// to the new routing logic without a reload. After Finalize returns
// nil, exactly one store exists, named version.
func (m *Manager) Finalize(ctx context.Context, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names, err := m.reg.Names()
	if err != nil {
		return fmt.Errorf("failed to enumerate stores: %w", err)
	}

	for _, name := range names {
		if name == stagingName(version) {
			if err := m.reg.Rename(name, version); err != nil {
				return fmt.Errorf("failed to promote staging store: %w", err)
			}
			m.logger.Debug("promoted staging store", "version", version)
		}
	}

	names, err = m.reg.Names()
	if err != nil {
		return fmt.Errorf("failed to enumerate stores: %w", err)
	}

	for _, name := range names {
		if name == version {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.reg.Remove(name); err != nil {
			// Not fatal: the name is retried at the next Finalize since
			// deletion always works by enumerate-and-diff.
			m.logger.Warn("failed to delete stale store", "name", name, "err", err)
			continue
		}
		m.logger.Debug("deleted stale store", "name", name)
	}

	st, err := m.reg.Open(version)
	if err != nil {
		return fmt.Errorf("failed to open store %q: %w", version, err)
	}

	m.mu.Lock()
	m.current = st
	subs := make([]chan string, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- version:
		default:
			// Subscriber is not draining; skip rather than block activation.
		}
	}

	m.logger.Info("activated asset store", "version", version, "assets", st.Len())
	return nil
}

// Adopt makes the sole persisted generation current without refetching
// anything, so a restarted process keeps serving offline before its
// first install. Staging leftovers from interrupted installs are not
// candidates. It returns the adopted version name, or "" when there is
// no unambiguous generation to adopt.
func (m *Manager) Adopt() (string, error) {
	names, err := m.reg.Names()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate stores: %w", err)
	}

	var candidates []string
	for _, name := range names {
		if !isStaging(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) != 1 {
		return "", nil
	}

	version := candidates[0]
	st, err := m.reg.Open(version)
	if err != nil {
		return "", fmt.Errorf("failed to open store %q: %w", version, err)
	}

	m.mu.Lock()
	m.current = st
	m.mu.Unlock()

	m.logger.Info("adopted persisted asset store", "version", version, "assets", st.Len())
	return version, nil
}

// Current returns the active store, or nil when no generation has been
// finalized yet. Callers treat nil as "fetch live".
func (m *Manager) Current() store.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel that receives the version name each time
// a generation is activated.
func (m *Manager) Subscribe() <-chan string {
	ch := make(chan string, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
