package loader

import "github.com/petal-labs/petaltask/core"

// Default returns the built-in configuration used when a project has no
// petaltask file: a mocha test suite and coffeelint over src/ and test/,
// a watcher that re-runs the tests, and a release tagger.
func Default() core.Config {
	sources := []any{"src/**/*.coffee", "test/**/*.coffee"}

	tools := map[string]core.ToolDef{
		"mocha": {
			Adapter: "test",
			Options: core.NewOptionSet(map[string]any{
				"command":  "mocha",
				"reporter": "spec",
				"require":  "coffee-script",
				"src":      []any{"test/**/*.coffee"},
			}),
		},
		"coffeelint": {
			Adapter: "lint",
			Options: core.NewOptionSet(map[string]any{
				"command":    "coffeelint",
				"configFile": "coffeelint.json",
				"src":        sources,
			}),
		},
		"watch": {
			Adapter: "watch",
			Options: core.NewOptionSet(map[string]any{
				"files": append([]any{"petaltask.yaml"}, sources...),
				"tasks": []any{"test"},
			}),
		},
		"release": {
			Adapter: "release",
			Options: core.NewOptionSet(map[string]any{
				"versionFile":   "VERSION",
				"bump":          "patch",
				"tagName":       "v{{ .Version }}",
				"commitMessage": "Prepared to release {{ .Version }}.",
			}),
		},
	}

	tasks := map[string]core.TaskDef{
		"run-tests":       {Tool: "mocha", Description: "Run the mocha test suite"},
		"run-lint":        {Tool: "coffeelint", Description: "Lint sources and tests"},
		"watch-and-rerun": {Tool: "watch", Description: "Re-run tests when files change"},
		"release":         {Tool: "release", Description: "Bump the version, commit and tag"},
		"test":            {Tasks: []string{"run-tests"}, Description: "Run the tests"},
		"lint":            {Tasks: []string{"run-lint"}, Description: "Run static style checks"},
		"test:watch":      {Tasks: []string{"watch-and-rerun"}, Description: "Watch files and re-run the tests"},
		"default":         {Tasks: []string{"test", "lint"}, Description: "Run the tests, then lint"},
	}

	return core.NewConfig(CurrentVersion, core.DefaultTaskName, tools, tasks)
}
