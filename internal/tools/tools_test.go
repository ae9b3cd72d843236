package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func newRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its arguments",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

// decodeError asserts the result is the structured failure payload and
// returns the error message.
func decodeError(t *testing.T, result string) string {
	t.Helper()

	var payload struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("result is not valid JSON: %v (%q)", err, result)
	}
	if payload.Success {
		t.Fatalf("result = %q, want failure payload", result)
	}
	return payload.Error
}

func TestRegisterAndGet(t *testing.T) {
	r := newRegistry()
	r.Register(echoTool("echo"))

	if got := r.Get("echo"); got == nil || got.Name != "echo" {
		t.Errorf("Get(echo) = %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := newRegistry()
	r.Register(echoTool("echo"))
	r.Register(&Tool{
		Name: "echo",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return `{"replaced":true}`, nil
		},
	})

	if got := r.Execute(context.Background(), "echo", nil); got != `{"replaced":true}` {
		t.Errorf("Execute = %q, want replacement handler output", got)
	}
	if n := len(r.Names()); n != 1 {
		t.Errorf("Names() has %d entries, want 1", n)
	}
}

func TestListSortedByName(t *testing.T) {
	r := newRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(echoTool(name))
	}

	defs := r.List()
	if len(defs) != 3 {
		t.Fatalf("len(defs) = %d", len(defs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range defs {
		if d.Type != "function" {
			t.Errorf("defs[%d].Type = %q", i, d.Type)
		}
		if d.Function.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, d.Function.Name, want[i])
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newRegistry()

	msg := decodeError(t, r.Execute(context.Background(), "nope", nil))
	if msg != "unknown tool: nope" {
		t.Errorf("error = %q", msg)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	r := newRegistry()
	r.Register(&Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", context.DeadlineExceeded
		},
	})

	msg := decodeError(t, r.Execute(context.Background(), "broken", nil))
	if msg != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q", msg)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := newRegistry()
	r.Register(&Tool{
		Name: "explosive",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("boom")
		},
	})

	msg := decodeError(t, r.Execute(context.Background(), "explosive", nil))
	if msg != "tool explosive panicked: boom" {
		t.Errorf("error = %q", msg)
	}
}
