package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"charachat/pkg/domain"
)

func TestSandboxExecute(t *testing.T) {
	s := NewSandbox(time.Second)
	script := `
function run(args)
  return "weather in " .. args.city .. ": sunny, " .. tostring(args.temp) .. "C"
end
`
	got, err := s.Execute(context.Background(), script, map[string]any{
		"city": "Oslo",
		"temp": float64(21),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "weather in Oslo: sunny, 21C" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestSandboxNestedArgs(t *testing.T) {
	s := NewSandbox(time.Second)
	script := `
function run(args)
  return args.user.name .. " has " .. tostring(#args.items) .. " items"
end
`
	got, err := s.Execute(context.Background(), script, map[string]any{
		"user":  map[string]any{"name": "mira"},
		"items": []any{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "mira has 3 items" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestSandboxTimeout(t *testing.T) {
	s := NewSandbox(50 * time.Millisecond)
	script := `
function run(args)
  while true do end
end
`
	start := time.Now()
	_, err := s.Execute(context.Background(), script, nil)
	if !errors.Is(err, domain.ErrPluginTimeout) {
		t.Fatalf("expected ErrPluginTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestSandboxRuntimeError(t *testing.T) {
	s := NewSandbox(time.Second)
	script := `
function run(args)
  error("boom")
end
`
	_, err := s.Execute(context.Background(), script, nil)
	if !errors.Is(err, domain.ErrPluginExecution) {
		t.Fatalf("expected ErrPluginExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error should carry script message: %v", err)
	}
}

func TestSandboxMissingRun(t *testing.T) {
	s := NewSandbox(time.Second)
	_, err := s.Execute(context.Background(), `local x = 1`, nil)
	if !errors.Is(err, domain.ErrPluginExecution) {
		t.Fatalf("expected ErrPluginExecution, got %v", err)
	}
}

func TestSandboxNoEscapeHatches(t *testing.T) {
	s := NewSandbox(time.Second)
	for _, script := range []string{
		`function run(args) return type(os) end`,
		`function run(args) return type(io) end`,
		`function run(args) return type(require) end`,
		`function run(args) return type(loadstring) end`,
	} {
		got, err := s.Execute(context.Background(), script, nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got != "nil" {
			t.Fatalf("expected nil global, got %q for %s", got, script)
		}
	}
}

func TestSandboxFreshStatePerCall(t *testing.T) {
	s := NewSandbox(time.Second)
	set := `
function run(args)
  leaked = "secret"
  return "ok"
end
`
	if _, err := s.Execute(context.Background(), set, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	read := `
function run(args)
  return type(leaked)
end
`
	got, err := s.Execute(context.Background(), read, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "nil" {
		t.Fatalf("state leaked between calls: %q", got)
	}
}
