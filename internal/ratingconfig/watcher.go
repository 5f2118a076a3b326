package ratingconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Cache holds the configuration active now and refreshes it when the rates
// directory changes or the cached version expires.
type Cache struct {
	store *Store

	// refreshMu orders refreshes so an older resolution never replaces a
	// newer one.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	active *Version

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCache creates a cache over store. Call Refresh or Watch to populate it.
func NewCache(store *Store) *Cache {
	return &Cache{
		store:  store,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Active returns the configuration in force now.
func (c *Cache) Active(ctx context.Context) (*Version, error) {
	now := c.store.Now().Unix()

	c.mu.RLock()
	v := c.active
	c.mu.RUnlock()
	if v != nil && now >= v.ValidFrom && now < v.ValidTo {
		return v, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil, fmt.Errorf("%w: no version active at %d", ErrNotFound, now)
	}
	return c.active, nil
}

// Refresh resolves the active configuration from disk.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	v, err := c.store.ResolveActive(ctx, c.store.Now().Unix())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	c.mu.Lock()
	c.active = v
	c.mu.Unlock()

	if c.watcher != nil {
		c.watchVersions(ctx)
	}
	return nil
}

// Watch starts watching the rates directory and its version directories.
func (c *Cache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rates directory: %w", err)
	}
	c.watcher = watcher

	if err := c.Refresh(ctx); err != nil {
		c.store.logger.Error("initial configuration load failed", "error", err)
	}

	go c.watchLoop(ctx)

	c.store.logger.Info("watching rates directory for changes", "dir", c.store.Dir())
	return nil
}

// Stop stops watching for changes.
func (c *Cache) Stop() {
	if c.watcher == nil {
		return
	}
	close(c.stopCh)
	c.watcher.Close()
	<-c.doneCh
}

// watchVersions adds a watch on every version directory so document
// rewrites inside them are noticed. Adding an existing watch is a no-op.
func (c *Cache) watchVersions(ctx context.Context) {
	versions, err := c.store.List(ctx)
	if err != nil {
		return
	}
	for _, ts := range versions {
		if err := c.watcher.Add(c.store.versionDir(ts)); err != nil {
			c.store.logger.Debug("watch version directory", "version", ts, "error", err)
		}
	}
}

func (c *Cache) watchLoop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.store.logger.Debug("rates directory changed", "event", event.Op.String(), "file", event.Name)
			if err := c.Refresh(ctx); err != nil {
				c.store.logger.Error("configuration refresh failed", "error", err)
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.store.logger.Error("file watcher error", "error", err)

		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
