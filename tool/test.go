package tool

import "github.com/petal-labs/petaltask/core"

// newTestAction runs a mocha-style test runner.
func newTestAction(env Env, def core.ToolDef) (core.Action, error) {
	return &execAction{
		env:      env.withDefaults(),
		name:     def.Name,
		defaults: map[string]any{"command": "mocha"},
		flags:    testFlags,
	}, nil
}

func testFlags(_ Env, _ string, opts core.OptionSet) ([]string, error) {
	var flags []string
	if reporter := opts.String("reporter", ""); reporter != "" {
		flags = append(flags, "--reporter", reporter)
	}
	if ui := opts.String("ui", ""); ui != "" {
		flags = append(flags, "--ui", ui)
	}
	for _, req := range opts.Strings("require") {
		flags = append(flags, "--require", req)
	}
	if grep := opts.String("grep", ""); grep != "" {
		flags = append(flags, "--grep", grep)
	}
	if opts.Bool("bail", false) {
		flags = append(flags, "--bail")
	}
	return flags, nil
}
