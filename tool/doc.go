// Package tool implements the built-in tool adapters that leaf tasks run.
//
// Each adapter kind is a Factory in the static list returned by Adapters:
//   - exec: run an arbitrary command
//   - test: run a test runner (mocha-style flags)
//   - lint: run a linter against a config file
//   - watch: re-run tasks when matching files change
//   - release: bump a version file, commit it and tag the commit
//
// Factories turn a core.ToolDef into a core.Action. Options are read at
// Execute time so the registry's option store stays authoritative.
package tool
