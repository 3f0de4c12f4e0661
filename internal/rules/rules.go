// Package rules holds the rule catalog: rule definitions read from a TOML
// file, reloaded when the file changes, and consulted before the database
// when an issue's rule is resolved.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

// File is the layout of a rules file:
//
//	[[rules]]
//	key = "go:S1144"
//	name = "Unused private functions should be removed"
//	type = "CODE_SMELL"
//	severity = "MAJOR"
//	clean_code_attribute = "CLEAR"
//	[rules.impacts]
//	MAINTAINABILITY = "MEDIUM"
type File struct {
	Rules []*types.Rule `toml:"rules"`
}

// Parse decodes and validates a rules file. Rules without a UUID get one
// derived from their key, so reloading a file keeps UUIDs stable.
func Parse(data []byte) ([]*types.Rule, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse rules: %v", types.ErrInvalidArgument, err)
	}
	seen := make(map[types.RuleKey]bool, len(f.Rules))
	for i, r := range f.Rules {
		if r.Key.IsZero() {
			return nil, fmt.Errorf("%w: rule #%d has no key", types.ErrInvalidArgument, i+1)
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("%w: duplicate rule %s", types.ErrInvalidArgument, r.Key)
		}
		seen[r.Key] = true
		if !r.Type.IsValid() {
			return nil, fmt.Errorf("%w: rule %s has invalid type %q", types.ErrInvalidArgument, r.Key, r.Type)
		}
		if r.Severity != "" && !r.Severity.IsValid() {
			return nil, fmt.Errorf("%w: rule %s has invalid severity %q", types.ErrInvalidArgument, r.Key, r.Severity)
		}
		if r.CleanCodeAttribute != "" && !r.CleanCodeAttribute.IsValid() {
			return nil, fmt.Errorf("%w: rule %s has invalid clean code attribute %q", types.ErrInvalidArgument, r.Key, r.CleanCodeAttribute)
		}
		for q, sev := range r.DefaultImpacts {
			if !q.IsValid() || !sev.IsValid() {
				return nil, fmt.Errorf("%w: rule %s has invalid impact %s:%s", types.ErrInvalidArgument, r.Key, q, sev)
			}
		}
		if r.UUID == "" {
			r.UUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rule:"+r.Key.String())).String()
		}
	}
	return f.Rules, nil
}

// Catalog is the set of rules of a rules file. It is safe for concurrent
// use and may be reloaded while read.
type Catalog struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[types.RuleKey]*types.Rule
}

// Open loads the catalog at path. A missing file yields an empty catalog
// that fills up once the file is created.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: path, logger: logger, rules: map[types.RuleKey]*types.Rule{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the file. On error the previous rules stay in place.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path) // #nosec G304 - path comes from configuration
	if errors.Is(err, os.ErrNotExist) {
		c.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", c.path, err)
	}
	c.replace(parsed)
	return nil
}

func (c *Catalog) replace(list []*types.Rule) {
	rules := make(map[types.RuleKey]*types.Rule, len(list))
	for _, r := range list {
		rules[r.Key] = r
	}
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
}

// Get returns the rule with key.
func (c *Catalog) Get(key types.RuleKey) (*types.Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[key]
	return r, ok
}

// All returns the rules sorted by key.
func (c *Catalog) All() []*types.Rule {
	c.mu.RLock()
	out := make([]*types.Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Sync stores every catalog rule in the rules table of sess.
func (c *Catalog) Sync(ctx context.Context, sess storage.Session) error {
	all := c.All()
	if len(all) == 0 {
		return nil
	}
	if err := sess.UpsertRules(ctx, all); err != nil {
		return fmt.Errorf("sync rules: %w", err)
	}
	return nil
}

// debounceDelay groups the bursts of events editors emit on save.
const debounceDelay = 200 * time.Millisecond

// Watch reloads the catalog whenever its file is written, until ctx is
// done. The parent directory is watched so replacing the file by rename
// is seen too. reloaded, when not nil, is called after every reload.
func (c *Catalog) Watch(ctx context.Context, reloaded func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(c.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				err := c.Reload()
				if err != nil {
					c.logger.Warn("rules reload failed", "path", c.path, "err", err)
				} else {
					c.logger.Debug("rules reloaded", "path", c.path)
				}
				if reloaded != nil {
					reloaded(err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("rules watcher error", "err", err)
		}
	}
}

// Finder resolves rules from the catalog first and the database second.
// It implements issuestore.RuleFinder.
type Finder struct {
	Catalog *Catalog
}

// FindRule returns the catalog rule with key, or the one stored through q.
func (f Finder) FindRule(ctx context.Context, q storage.Queries, key types.RuleKey) (*types.Rule, error) {
	if f.Catalog != nil {
		if r, ok := f.Catalog.Get(key); ok {
			return r, nil
		}
	}
	return q.SelectRuleByKey(ctx, key)
}
