package tool

import (
	"os"
	"path/filepath"

	"github.com/petal-labs/petaltask/core"
)

// newLintAction runs a coffeelint-style linter.
func newLintAction(env Env, def core.ToolDef) (core.Action, error) {
	return &execAction{
		env:      env.withDefaults(),
		name:     def.Name,
		defaults: map[string]any{"command": "coffeelint"},
		flags:    lintFlags,
	}, nil
}

// lintFlags passes configFile as -f. A configured file that does not exist
// is a configuration error rather than a lint failure.
func lintFlags(env Env, tool string, opts core.OptionSet) ([]string, error) {
	var flags []string
	if configFile := opts.String("configFile", ""); configFile != "" {
		path := configFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(env.Dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, invalidOption(tool, "config file %q: %v", configFile, err)
		}
		flags = append(flags, "-f", configFile)
	}
	if opts.Bool("quiet", false) {
		flags = append(flags, "-q")
	}
	return flags, nil
}
