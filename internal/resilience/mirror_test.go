package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/ttshub/pkg/artifact"
	artifactmock "github.com/MrWong99/ttshub/pkg/artifact/mock"
)

var modelRef = artifact.Ref{Collection: "csukuangfj/vits-ljs", Filename: "vits-ljs.onnx"}

func TestMirrorFetcher_PrimaryServes(t *testing.T) {
	hub := &artifactmock.Fetcher{Root: "/hub"}
	mirror := &artifactmock.Fetcher{Root: "/mirror"}
	m := NewMirrorFetcher(hub, "hub", CircuitBreakerConfig{})
	m.AddMirror("mirror", mirror)

	path, err := m.Fetch(context.Background(), modelRef)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/hub/csukuangfj/vits-ljs/vits-ljs.onnx" {
		t.Errorf("path = %q", path)
	}
	if mirror.Count() != 0 {
		t.Errorf("mirror consulted %d times", mirror.Count())
	}
}

func TestMirrorFetcher_FailsOverOnTransient(t *testing.T) {
	hub := &artifactmock.Fetcher{Root: "/hub", Err: artifact.ErrTransient}
	mirror := &artifactmock.Fetcher{Root: "/mirror"}
	m := NewMirrorFetcher(hub, "hub", CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	m.AddMirror("mirror", mirror)

	for range 3 {
		path, err := m.Fetch(context.Background(), modelRef)
		if err != nil {
			t.Fatal(err)
		}
		if path != "/mirror/csukuangfj/vits-ljs/vits-ljs.onnx" {
			t.Errorf("path = %q", path)
		}
	}
	if hub.Count() != 2 {
		t.Errorf("hub tried %d times, want 2 before its breaker opened", hub.Count())
	}
	if m.States()["hub"] != StateOpen {
		t.Errorf("hub breaker = %v, want open", m.States()["hub"])
	}
}

func TestMirrorFetcher_NotFoundIsAuthoritative(t *testing.T) {
	hub := &artifactmock.Fetcher{Missing: map[string]bool{modelRef.String(): true}}
	mirror := &artifactmock.Fetcher{}
	m := NewMirrorFetcher(hub, "hub", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	m.AddMirror("mirror", mirror)

	for range 2 {
		_, err := m.Fetch(context.Background(), modelRef)
		if !errors.Is(err, artifact.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if errors.Is(err, artifact.ErrTransient) {
			t.Fatalf("not found reported as transient: %v", err)
		}
	}
	if mirror.Count() != 0 {
		t.Errorf("mirror consulted after authoritative not found")
	}
	if m.States()["hub"] != StateClosed {
		t.Errorf("not found tripped the breaker")
	}
}

func TestMirrorFetcher_AllSourcesDown(t *testing.T) {
	boom := errors.New("connection refused")
	m := NewMirrorFetcher(&artifactmock.Fetcher{Err: boom}, "hub", CircuitBreakerConfig{})
	m.AddMirror("mirror", &artifactmock.Fetcher{Err: boom})

	_, err := m.Fetch(context.Background(), modelRef)
	if !errors.Is(err, artifact.ErrTransient) || !errors.Is(err, ErrAllFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrTransient wrapping ErrAllFailed and the cause", err)
	}
	if got := m.Sources(); len(got) != 2 || got[1] != "mirror" {
		t.Errorf("Sources = %v", got)
	}
}
