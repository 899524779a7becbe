package tool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"

	"github.com/petal-labs/petaltask/core"
	"github.com/petal-labs/petaltask/runtime"
)

const defaultWatchDebounce = 200 * time.Millisecond

// EventWatchRerun is emitted by the watch adapter after each re-run.
const EventWatchRerun runtime.EventKind = "watch.rerun"

// skippedWatchDirs are never descended into when registering watches.
var skippedWatchDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// watchAction re-runs tasks whenever a file matching its patterns changes.
// It runs until the context is canceled.
type watchAction struct {
	env  Env
	name string
}

func newWatchAction(env Env, def core.ToolDef) (core.Action, error) {
	return &watchAction{env: env.withDefaults(), name: def.Name}, nil
}

type watchSpec struct {
	include []string // slash-separated, relative to the project dir
	exclude []string
	tasks   []string
	wait    time.Duration
	atBegin bool
}

func (a *watchAction) spec(opts core.OptionSet) (watchSpec, error) {
	var spec watchSpec
	for _, pattern := range opts.Strings("files") {
		pattern = filepath.ToSlash(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if exclude, ok := strings.CutPrefix(pattern, "!"); ok {
			spec.exclude = append(spec.exclude, exclude)
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return spec, invalidOption(a.name, "invalid file pattern %q", pattern)
		}
		spec.include = append(spec.include, pattern)
	}
	if len(spec.include) == 0 {
		return spec, invalidOption(a.name, "files must list at least one pattern")
	}
	spec.tasks = opts.Strings("tasks")
	if len(spec.tasks) == 0 {
		return spec, invalidOption(a.name, "tasks must name at least one task to run")
	}
	wait, err := opts.Duration("debounce", defaultWatchDebounce)
	if err != nil {
		return spec, invalidOption(a.name, "%v", err)
	}
	spec.wait = wait
	spec.atBegin = opts.Bool("atBegin", false)
	return spec, nil
}

// Execute blocks watching files. Failures of the re-run tasks are logged and
// watching continues. Cancellation ends the watch without error.
func (a *watchAction) Execute(ctx context.Context, opts core.OptionSet) (core.Result, error) {
	result := core.Result{Tool: a.name}
	spec, err := a.spec(opts)
	if err != nil {
		return result, err
	}
	if a.env.Rerun == nil {
		return result, invalidOption(a.name, "watch needs a task runner to re-run %v", spec.tasks)
	}

	dir, err := filepath.Abs(a.env.Dir)
	if err != nil {
		return result, fmt.Errorf("resolving project dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return result, core.NewToolFailure(a.name, 0, "creating file watcher", err)
	}
	defer func() { _ = watcher.Close() }()

	log := a.env.logger(ctx).With("tool", a.name)
	watched := make(map[string]bool)
	for _, pattern := range spec.include {
		base, _ := doublestar.SplitPattern(pattern)
		addTree(log, watcher, watched, existingAncestor(filepath.Join(dir, filepath.FromSlash(base))))
	}

	log.Info("watching for changes", "patterns", spec.include, "directories", len(watched), "tasks", spec.tasks)

	start := time.Now()
	runs := 0
	emit := runtime.EmitterFromContext(ctx)
	runID, task := runtime.RunIDFromContext(ctx), runtime.TaskFromContext(ctx)
	rerun := func() {
		runs++
		rerunStart := time.Now()
		err := a.env.Rerun(ctx, spec.tasks)
		event := runtime.NewEvent(EventWatchRerun, runID).
			WithTask(task, a.name).
			WithElapsed(time.Since(rerunStart)).
			WithPayload("tasks", spec.tasks).
			WithPayload("rerun", runs)
		if err != nil && ctx.Err() == nil {
			log.Error("re-run failed", "tasks", spec.tasks, "error", err)
			event = event.WithPayload("error", err.Error())
		}
		emit(event)
	}
	if spec.atBegin {
		rerun()
	}

	pending := make(chan struct{}, 1)
	trigger, cancelTrigger := debounce.New(spec.wait, func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	})
	defer cancelTrigger()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped", "reruns", runs)
			result.Duration = time.Since(start)
			result.Meta = map[string]any{"reruns": runs}
			return result, nil
		case event, ok := <-watcher.Events:
			if !ok {
				return result, core.NewToolFailure(a.name, 0, "file watcher closed", nil)
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					addTree(log, watcher, watched, event.Name)
				}
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}
			rel, err := filepath.Rel(dir, event.Name)
			if err != nil || !spec.matches(filepath.ToSlash(rel)) {
				continue
			}
			log.Debug("file changed", "file", rel, "op", event.Op.String())
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return result, core.NewToolFailure(a.name, 0, "file watcher closed", nil)
			}
			log.Warn("watcher error", "error", err)
		case <-pending:
			log.Info("change detected, re-running", "tasks", spec.tasks)
			rerun()
		}
	}
}

func (s watchSpec) matches(rel string) bool {
	hit := false
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	return true
}

// addTree watches root and every directory below it.
func addTree(log *slog.Logger, watcher *fsnotify.Watcher, watched map[string]bool, root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedWatchDirs[d.Name()] {
			return filepath.SkipDir
		}
		if watched[path] {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			log.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		watched[path] = true
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to walk directory", "path", root, "error", err)
	}
}

// existingAncestor returns path or the closest parent directory that exists.
func existingAncestor(path string) string {
	for {
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				return path
			}
			return filepath.Dir(path)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
