package ratingconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	metricsFile = "metrics.yaml"
	rulesFile   = "rules.yaml"
	lostFound   = "lost+found"
)

// MetricsRecorder is an optional interface for recording store activity.
type MetricsRecorder interface {
	IncStaleLockRemoved()
	IncConfigWrite(op string)
}

// Store keeps rating configurations on disk, one directory per version
// named after its epoch-second timestamp.
type Store struct {
	dir            string
	lockDelay      time.Duration
	lockStaleAfter time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        MetricsRecorder
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, lockDelay, lockStaleAfter time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rates directory: %w", err)
	}
	return &Store{
		dir:            dir,
		lockDelay:      lockDelay,
		lockStaleAfter: lockStaleAfter,
		now:            time.Now,
		logger:         slog.Default().With("component", "ratingconfig"),
	}, nil
}

// SetMetrics sets the optional metrics recorder.
func (s *Store) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.now()
}

type metricsDoc struct {
	Metrics map[string]MetricDef `yaml:"metrics"`
}

type rulesDoc struct {
	Rules []RuleGroup `yaml:"rules"`
}

func (s *Store) versionDir(ts int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(ts, 10))
}

// Create writes a new configuration version. The version becomes visible
// only once both documents are on disk.
func (s *Store) Create(ctx context.Context, cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	root, err := s.acquireLock(ctx, s.dir)
	if err != nil {
		return err
	}
	defer root.release()

	final := s.versionDir(cfg.Timestamp)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %d", ErrAlreadyExists, cfg.Timestamp)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspecting configuration %d: %w", cfg.Timestamp, err)
	}

	staging, err := os.MkdirTemp(s.dir, ".staging-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	if err := writeDocs(staging, cfg.Metrics, cfg.Rules); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("setting configuration permissions: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("publishing configuration %d: %w", cfg.Timestamp, err)
	}

	s.logger.Info("configuration created", "version", cfg.Timestamp)
	s.recordWrite("create")
	return nil
}

// lockVersion takes the lock of an existing version. The root lock only
// guards the creation of versions, so writers to different versions do not
// wait on each other. A version deleted while waiting reports ErrNotFound.
func (s *Store) lockVersion(ctx context.Context, ts int64) (*dirLock, error) {
	dir := s.versionDir(ts)
	if !isDir(dir) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, ts)
	}
	return s.acquireLock(ctx, dir)
}

// Update replaces the documents present in patch for an existing version.
func (s *Store) Update(ctx context.Context, ts int64, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	dir := s.versionDir(ts)
	lock, err := s.lockVersion(ctx, ts)
	if err != nil {
		return err
	}
	defer lock.release()

	if err := writeDocs(dir, patch.Metrics, patch.Rules); err != nil {
		return err
	}

	s.logger.Info("configuration updated", "version", ts,
		"metrics", patch.Metrics != nil, "rules", patch.Rules != nil)
	s.recordWrite("update")
	return nil
}

// Delete removes a configuration version.
func (s *Store) Delete(ctx context.Context, ts int64) error {
	dir := s.versionDir(ts)
	lock, err := s.lockVersion(ctx, ts)
	if err != nil {
		return err
	}
	defer lock.release()

	trash := filepath.Join(s.dir, fmt.Sprintf(".deleted-%d-%d", ts, s.now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("removing configuration %d: %w", ts, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		s.logger.Error("cleaning up deleted configuration", "version", ts, "error", err)
	}

	s.logger.Info("configuration deleted", "version", ts)
	s.recordWrite("delete")
	return nil
}

// List returns the version timestamps in ascending order.
func (s *Store) List(ctx context.Context) ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading rates directory: %w", err)
	}

	versions := make([]int64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == lostFound || strings.HasPrefix(name, ".") {
			continue
		}
		ts, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			s.logger.Debug("ignoring non-version entry", "name", name)
			continue
		}
		versions = append(versions, ts)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// Get reads one configuration version.
func (s *Store) Get(ctx context.Context, ts int64) (*Configuration, error) {
	dir := s.versionDir(ts)
	if !isDir(dir) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, ts)
	}
	lock, err := s.acquireLock(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	cfg := &Configuration{Timestamp: ts}

	var m metricsDoc
	if err := readYAML(filepath.Join(dir, metricsFile), &m); err != nil {
		return nil, fmt.Errorf("reading metrics of configuration %d: %w", ts, err)
	}
	var r rulesDoc
	if err := readYAML(filepath.Join(dir, rulesFile), &r); err != nil {
		return nil, fmt.Errorf("reading rules of configuration %d: %w", ts, err)
	}
	cfg.Metrics = m.Metrics
	cfg.Rules = r.Rules
	return cfg, nil
}

// ResolveActive returns the configuration in force at the given epoch
// second: the latest version whose timestamp is not after it.
func (s *Store) ResolveActive(ctx context.Context, at int64) (*Version, error) {
	versions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	idx := sort.Search(len(versions), func(i int) bool { return versions[i] > at }) - 1
	if idx < 0 {
		return nil, fmt.Errorf("%w: no version active at %d", ErrNotFound, at)
	}

	cfg, err := s.Get(ctx, versions[idx])
	if err != nil {
		return nil, err
	}
	validTo := FarFuture
	if idx+1 < len(versions) {
		validTo = versions[idx+1]
	}
	return &Version{Configuration: *cfg, ValidFrom: versions[idx], ValidTo: validTo}, nil
}

// All returns every version with its validity interval.
func (s *Store) All(ctx context.Context) ([]Version, error) {
	root, err := s.acquireLock(ctx, s.dir)
	if err != nil {
		return nil, err
	}
	defer root.release()

	versions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Version, 0, len(versions))
	for i, ts := range versions {
		cfg, err := s.Get(ctx, ts)
		if err != nil {
			return nil, err
		}
		validTo := FarFuture
		if i+1 < len(versions) {
			validTo = versions[i+1]
		}
		out = append(out, Version{Configuration: *cfg, ValidFrom: ts, ValidTo: validTo})
	}
	return out, nil
}

func (s *Store) recordWrite(op string) {
	if s.metrics != nil {
		s.metrics.IncConfigWrite(op)
	}
}

// writeDocs writes the non-nil documents into dir, each through a temporary
// file renamed into place.
func writeDocs(dir string, metrics map[string]MetricDef, rules []RuleGroup) error {
	if metrics != nil {
		if err := writeYAML(dir, metricsFile, metricsDoc{Metrics: metrics}); err != nil {
			return err
		}
	}
	if rules != nil {
		if err := writeYAML(dir, rulesFile, rulesDoc{Rules: rules}); err != nil {
			return err
		}
	}
	return nil
}

func writeYAML(dir, name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+"-")
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("setting permissions on %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
