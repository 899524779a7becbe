package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/petal-labs/petaltask/core"
)

const (
	defaultVersionFile   = "VERSION"
	defaultTagName       = "v{{ .Version }}"
	defaultCommitMessage = "Release {{ .Version }}"
	defaultReleaseAuthor = "petaltask"
)

// ReleaseData is the template data for tagName and commitMessage.
type ReleaseData struct {
	Version  string
	Previous string
}

// releaseAction bumps the version file, commits it and creates an annotated
// tag on the new commit. Pushing is left to the user.
type releaseAction struct {
	env  Env
	name string
	now  func() time.Time
}

func newReleaseAction(env Env, def core.ToolDef) (core.Action, error) {
	return &releaseAction{env: env.withDefaults(), name: def.Name, now: time.Now}, nil
}

func (a *releaseAction) Execute(ctx context.Context, opts core.OptionSet) (core.Result, error) {
	result := core.Result{Tool: a.name}
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	versionFile := opts.String("versionFile", defaultVersionFile)
	path := versionFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.env.Dir, path)
	}

	previous, err := readVersion(path)
	if err != nil {
		return result, invalidOption(a.name, "%v", err)
	}
	next, err := nextVersion(previous, opts)
	if err != nil {
		return result, invalidOption(a.name, "%v", err)
	}

	data := ReleaseData{Version: next.String(), Previous: previous.String()}
	tag, err := renderTemplate(a.name+".tagName", opts.String("tagName", defaultTagName), data)
	if err != nil {
		return result, invalidOption(a.name, "rendering tagName: %v", err)
	}
	message, err := renderTemplate(a.name+".commitMessage", opts.String("commitMessage", defaultCommitMessage), data)
	if err != nil {
		return result, invalidOption(a.name, "rendering commitMessage: %v", err)
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return result, invalidOption(a.name, "tagName rendered empty")
	}

	result.Files = []string{versionFile}
	result.Meta = map[string]any{
		"previous": data.Previous,
		"version":  data.Version,
		"tag":      tag,
		"message":  message,
	}
	log := a.env.logger(ctx).With("tool", a.name)

	if opts.Bool("dryRun", false) {
		log.Info("dry run, nothing written", "previous", data.Previous, "version", data.Version, "tag", tag)
		result.Meta["dryRun"] = true
		result.Duration = time.Since(start)
		return result, nil
	}

	repo, err := git.PlainOpenWithOptions(a.env.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return result, core.NewToolFailure(a.name, 0, "opening git repository", err)
	}
	if _, err := repo.Tag(tag); err == nil {
		return result, core.NewToolFailure(a.name, 0, fmt.Sprintf("tag %q already exists", tag), git.ErrTagExists)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return result, core.NewToolFailure(a.name, 0, "opening worktree", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return result, fmt.Errorf("resolving %s: %w", path, err)
	}
	rel, err := filepath.Rel(wt.Filesystem.Root(), absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return result, core.NewToolFailure(a.name, 0, "version file is outside the repository", err)
	}
	rel = filepath.ToSlash(rel)

	original, err := os.ReadFile(path) // #nosec G304 -- path from tool options
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, core.NewToolFailure(a.name, 0, "reading version file", err)
	}
	if err := os.WriteFile(path, []byte(data.Version+"\n"), 0o644); err != nil { // #nosec G306 -- version file is a tracked source file
		return result, core.NewToolFailure(a.name, 0, "writing version file", err)
	}
	if _, err := wt.Add(rel); err != nil {
		restoreVersionFile(log, wt, rel, path, original, existed)
		return result, core.NewToolFailure(a.name, 0, "staging version file", err)
	}

	sig := a.signature(repo, opts)
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		restoreVersionFile(log, wt, rel, path, original, existed)
		return result, core.NewToolFailure(a.name, 0, "committing release", err)
	}
	if _, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{Tagger: sig, Message: message}); err != nil {
		return result, core.NewToolFailure(a.name, 0, fmt.Sprintf("creating tag %q", tag), err)
	}

	result.Meta["commit"] = hash.String()
	result.Duration = time.Since(start)
	log.Info("release tagged", "version", data.Version, "tag", tag, "commit", hash.String()[:7])
	return result, nil
}

// restoreVersionFile puts the version file and its index entry back the way
// they were before a failed release. A file that did not exist is removed.
func restoreVersionFile(log *slog.Logger, wt *git.Worktree, rel, path string, original []byte, existed bool) {
	var err error
	if existed {
		if err = os.WriteFile(path, original, 0o644); err == nil { // #nosec G306 -- restoring a tracked source file
			_, err = wt.Add(rel)
		}
	} else {
		_, err = wt.Remove(rel)
		if err != nil {
			err = os.Remove(path)
		}
	}
	if err != nil {
		log.Warn("could not restore version file", "path", path, "error", err)
	}
}

// signature prefers the author/email options, then the user's global git
// config, then a fixed fallback.
func (a *releaseAction) signature(repo *git.Repository, opts core.OptionSet) *object.Signature {
	name := opts.String("author", "")
	email := opts.String("email", "")
	if name == "" || email == "" {
		if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
			if name == "" {
				name = cfg.User.Name
			}
			if email == "" {
				email = cfg.User.Email
			}
		}
	}
	if name == "" {
		name = defaultReleaseAuthor
	}
	return &object.Signature{Name: name, Email: email, When: a.now()}
}

// readVersion parses the version file. A missing file starts at 0.0.0.
func readVersion(path string) (*semver.Version, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from tool options
	if errors.Is(err, os.ErrNotExist) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading version file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("version file %s holds %q: %w", path, raw, err)
	}
	return v, nil
}

// nextVersion applies the explicit version option, or the bump kind, and an
// optional prerelease suffix.
func nextVersion(previous *semver.Version, opts core.OptionSet) (*semver.Version, error) {
	var next semver.Version
	if explicit := strings.TrimSpace(opts.String("version", "")); explicit != "" {
		v, err := semver.NewVersion(explicit)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", explicit, err)
		}
		next = *v
	} else {
		switch bump := opts.String("bump", "patch"); bump {
		case "patch":
			next = previous.IncPatch()
		case "minor":
			next = previous.IncMinor()
		case "major":
			next = previous.IncMajor()
		default:
			return nil, fmt.Errorf("bump must be patch, minor or major, got %q", bump)
		}
	}
	if pre := strings.TrimSpace(opts.String("prerelease", "")); pre != "" {
		v, err := next.SetPrerelease(pre)
		if err != nil {
			return nil, fmt.Errorf("invalid prerelease %q: %w", pre, err)
		}
		next = v
	}
	if !next.GreaterThan(previous) {
		return nil, fmt.Errorf("next version %s is not greater than %s", next.String(), previous.String())
	}
	return &next, nil
}
