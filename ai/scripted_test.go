package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScriptedProviderQueues(t *testing.T) {
	p := NewScriptedProvider().
		On("discovery", "first", "second").
		OnError("selection", errors.New("boom"))
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		resp, err := p.Complete(ctx, NewRequest("discovery", "", "q"))
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if resp.Content != want {
			t.Errorf("expected %q, got %q", want, resp.Content)
		}
	}
	if _, err := p.Complete(ctx, NewRequest("selection", "", "q")); err == nil || err.Error() != "boom" {
		t.Errorf("expected scripted error, got %v", err)
	}
	if _, err := p.Complete(ctx, NewRequest("unknown", "", "q")); !errors.Is(err, ErrNoScriptedResponse) {
		t.Errorf("expected ErrNoScriptedResponse, got %v", err)
	}
	if p.CallCount("discovery") != 3 || len(p.Calls()) != 5 {
		t.Errorf("unexpected call accounting: %d discovery, %d total", p.CallCount("discovery"), len(p.Calls()))
	}
}

func TestScriptedProviderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScriptedProvider().On("s", "x").Complete(ctx, NewRequest("s", "", ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	content := "discovery:\n  - '{\"found\": false}'\nselection:\n  - a\n  - b\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	resp, err := p.Complete(context.Background(), NewRequest("discovery", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"found": false}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Default(); err == nil {
		t.Error("expected error from empty registry")
	}
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil provider")
	}
	scripted := NewScriptedProvider()
	if err := r.Register(scripted); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&countingProvider{}); err != nil {
		t.Fatal(err)
	}
	def, err := r.Default()
	if err != nil || def.Name() != "scripted" {
		t.Fatalf("expected scripted default, got %v %v", def, err)
	}
	if err := r.SetDefault("counting"); err != nil {
		t.Fatal(err)
	}
	if def, _ := r.Default(); def.Name() != "counting" {
		t.Errorf("expected counting default, got %s", def.Name())
	}
	if err := r.SetDefault("missing"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "counting" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestRateLimitedProvider(t *testing.T) {
	upstream := &countingProvider{}
	p := NewRateLimitedProvider(upstream, 1, 1)
	ctx := context.Background()
	if _, err := p.Complete(ctx, NewRequest("s", "", "a")); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(short, NewRequest("s", "", "b")); err == nil {
		t.Fatal("expected the second call to exceed the deadline while waiting")
	}
	if upstream.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", upstream.calls.Load())
	}

	unlimited := NewRateLimitedProvider(upstream, 0, 0)
	for i := 0; i < 5; i++ {
		if _, err := unlimited.Complete(ctx, NewRequest("s", "", "c")); err != nil {
			t.Fatal(err)
		}
	}
}
