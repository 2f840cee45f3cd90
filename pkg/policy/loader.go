package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Loader reads .rego policy files from files and directories.
type Loader struct {
	logger *telemetry.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Loader{logger: logger.NewComponentLogger("policy-loader")}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads all .rego files from a directory recursively.
func (l *Loader) loadFromDirectory(_ context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.WithError(err).Warnf("skipping unreadable policy file %s", path)
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	policy := &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Source:      path,
	}
	l.logger.WithField("policy", name).Debugf("loaded policy from %s", path)
	return policy, nil
}

// extractDescription takes the first comment line of a rego file as the
// policy description.
func extractDescription(rego string) string {
	for _, line := range strings.Split(rego, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		}
		return ""
	}
	return ""
}

// Watch monitors policy directories and invokes onChange whenever a .rego
// file is created, modified or removed. It blocks until the context is done.
func (l *Loader) Watch(ctx context.Context, paths []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.logger.WithField("file", event.Name).Debug("policy file changed")
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.WithError(err).Warn("policy watcher error")
		}
	}
}
