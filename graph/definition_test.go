package graph

import (
	"strings"
	"testing"

	"github.com/petal-labs/petaltask/core"
)

func validConfig() core.Config {
	return core.NewConfig("1", "", map[string]core.ToolDef{
		"mocha":      {Adapter: "test"},
		"coffeelint": {Adapter: "lint"},
	}, map[string]core.TaskDef{
		"run-tests": {Tool: "mocha"},
		"run-lint":  {Tool: "coffeelint"},
		"test":      {Tasks: []string{"run-tests"}},
		"lint":      {Tasks: []string{"run-lint"}},
		"default":   {Tasks: []string{"test", "lint"}},
	})
}

func codes(diags []Diagnostic) map[string]int {
	out := make(map[string]int)
	for _, d := range diags {
		out[d.Code]++
	}
	return out
}

func TestValidate_ValidConfig(t *testing.T) {
	diags := Validate(validConfig())
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %+v", diags)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		tools    map[string]core.ToolDef
		tasks    map[string]core.TaskDef
		wantCode string
		wantSev  string
	}{
		{
			name:     "TK-001 unknown sub-task",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"leaf": {Tool: "t"}, "default": {Tasks: []string{"leaf", "ghost"}}},
			wantCode: "TK-001",
			wantSev:  SeverityError,
		},
		{
			name:  "TK-002 cycle",
			tools: map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks: map[string]core.TaskDef{
				"leaf":    {Tool: "t"},
				"default": {Tasks: []string{"a"}},
				"a":       {Tasks: []string{"b", "leaf"}},
				"b":       {Tasks: []string{"a"}},
			},
			wantCode: "TK-002",
			wantSev:  SeverityError,
		},
		{
			name:     "TK-003 unknown tool",
			tasks:    map[string]core.TaskDef{"default": {Tool: "mocha"}},
			wantCode: "TK-003",
			wantSev:  SeverityError,
		},
		{
			name:     "TK-005 both tool and tasks",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"x": {Tool: "t"}, "default": {Tool: "t", Tasks: []string{"x"}}},
			wantCode: "TK-005",
			wantSev:  SeverityError,
		},
		{
			name:     "TK-005 neither",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"x": {Tool: "t"}, "default": {}},
			wantCode: "TK-005",
			wantSev:  SeverityError,
		},
		{
			name:     "TK-006 default missing",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"build": {Tool: "t"}},
			wantCode: "TK-006",
			wantSev:  SeverityError,
		},
		{
			name:     "TK-007 unused tool",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}, "spare": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"default": {Tool: "t"}},
			wantCode: "TK-007",
			wantSev:  SeverityWarning,
		},
		{
			name:     "TK-008 empty composite",
			tools:    map[string]core.ToolDef{"t": {Adapter: "exec"}},
			tasks:    map[string]core.TaskDef{"x": {Tool: "t"}, "default": {Tasks: []string{}}},
			wantCode: "TK-008",
			wantSev:  SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := Validate(core.NewConfig("1", "", tt.tools, tt.tasks))
			var found *Diagnostic
			for i := range diags {
				if diags[i].Code == tt.wantCode {
					found = &diags[i]
					break
				}
			}
			if found == nil {
				t.Fatalf("expected %s, got %+v", tt.wantCode, diags)
			}
			if found.Severity != tt.wantSev {
				t.Errorf("%s severity = %q, want %q", tt.wantCode, found.Severity, tt.wantSev)
			}
		})
	}
}

func TestValidate_CycleMessageNamesTasks(t *testing.T) {
	cfg := core.NewConfig("1", "", nil, map[string]core.TaskDef{
		"default": {Tasks: []string{"default"}},
	})
	diags := Validate(cfg)
	errs := Errors(diags)
	if len(errs) != 1 || errs[0].Code != "TK-002" {
		t.Fatalf("Errors = %+v, want single TK-002", errs)
	}
	if !strings.Contains(errs[0].Message, "default") {
		t.Errorf("Message = %q, want task name", errs[0].Message)
	}
}

func TestValidate_UnknownRefDoesNotFakeCycle(t *testing.T) {
	cfg := core.NewConfig("1", "", map[string]core.ToolDef{"t": {Adapter: "exec"}}, map[string]core.TaskDef{
		"leaf":    {Tool: "t"},
		"default": {Tasks: []string{"leaf", "missing"}},
	})
	c := codes(Validate(cfg))
	if c["TK-002"] != 0 {
		t.Error("unknown reference must not be reported as a cycle")
	}
	if c["TK-001"] != 1 {
		t.Errorf("TK-001 count = %d, want 1", c["TK-001"])
	}
}

func TestValidateWithAdapters(t *testing.T) {
	cfg := core.NewConfig("1", "", map[string]core.ToolDef{
		"grunt": {Adapter: "grunt-plugin"},
	}, map[string]core.TaskDef{
		"default": {Tool: "grunt"},
	})
	known := map[string]bool{"exec": true}

	diags := ValidateWithAdapters(cfg, func(name string) bool { return known[name] })
	if codes(diags)["TK-004"] != 1 {
		t.Errorf("expected TK-004, got %+v", diags)
	}

	if HasErrors(ValidateWithAdapters(cfg, nil)) {
		t.Error("nil adapter check should skip TK-004")
	}
}

func TestDiagnosticFilters(t *testing.T) {
	diags := []Diagnostic{
		{Code: "A", Severity: SeverityError},
		{Code: "B", Severity: SeverityWarning},
		{Code: "C", Severity: SeverityWarning},
	}
	if !HasErrors(diags) {
		t.Error("HasErrors = false")
	}
	if len(Errors(diags)) != 1 {
		t.Errorf("Errors = %d, want 1", len(Errors(diags)))
	}
	if len(Warnings(diags)) != 2 {
		t.Errorf("Warnings = %d, want 2", len(Warnings(diags)))
	}
	if HasErrors(Warnings(diags)) {
		t.Error("HasErrors(warnings) = true")
	}
}
