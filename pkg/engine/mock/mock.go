// Package mock provides test doubles for the engine.Engine and engine.Factory
// interfaces.
//
// Example:
//
//	f := &mock.Factory{Audio: engine.Audio{Samples: make([]float32, 160), SampleRate: 16000}}
//	e, _ := f.New(cfg)
//	audio, _ := e.Generate(ctx, "hello", 0, 1)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ttshub/pkg/engine"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Text    string
	Speaker int
	Speed   float64
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// Config is the configuration the engine was created from.
	Config engine.Config

	// Audio is returned by every Generate call.
	Audio engine.Audio

	// GenerateErr, if non-nil, is returned by Generate.
	GenerateErr error

	// Speakers is returned by NumSpeakers.
	Speakers int

	// Safe is returned by ConcurrentSafe.
	Safe bool

	// GenerateHook, if set, runs inside Generate before it returns.
	GenerateHook func(ctx context.Context)

	// GenerateCalls records every Generate call in order.
	GenerateCalls []GenerateCall

	closed     bool
	closeCalls int
}

// Generate records the call and returns a copy of Audio.
func (e *Engine) Generate(ctx context.Context, text string, speaker int, speed float64) (engine.Audio, error) {
	e.mu.Lock()
	e.GenerateCalls = append(e.GenerateCalls, GenerateCall{Text: text, Speaker: speaker, Speed: speed})
	hook := e.GenerateHook
	audio := engine.Audio{SampleRate: e.Audio.SampleRate}
	if e.Audio.Samples != nil {
		audio.Samples = make([]float32, len(e.Audio.Samples))
		copy(audio.Samples, e.Audio.Samples)
	}
	err := e.GenerateErr
	e.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return engine.Audio{}, err
	}
	return audio, nil
}

// NumSpeakers returns Speakers.
func (e *Engine) NumSpeakers() int { return e.Speakers }

// ConcurrentSafe returns Safe.
func (e *Engine) ConcurrentSafe() bool { return e.Safe }

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.closeCalls++
	return nil
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// CloseCalls returns how many times Close has been called.
func (e *Engine) CloseCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCalls
}

// Calls returns a copy of the recorded Generate calls.
func (e *Engine) Calls() []GenerateCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]GenerateCall, len(e.GenerateCalls))
	copy(out, e.GenerateCalls)
	return out
}

// Factory is a mock implementation of engine.Factory. Every New call returns
// a fresh *Engine configured with Audio and Speakers.
type Factory struct {
	mu sync.Mutex

	// Audio is handed to every engine created by New.
	Audio engine.Audio

	// Speakers overrides NumSpeakers of created engines. When zero the
	// engine reports cfg.NumSpeakers.
	Speakers int

	// NewErr, if non-nil, is returned by New.
	NewErr error

	// Configs records the configuration of every New call.
	Configs []engine.Config

	// Engines records every engine created.
	Engines []*Engine
}

// New records cfg and returns a new *Engine.
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Configs = append(f.Configs, cfg)
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	speakers := f.Speakers
	if speakers == 0 {
		speakers = cfg.NumSpeakers
	}
	e := &Engine{Config: cfg, Audio: f.Audio, Speakers: speakers}
	f.Engines = append(f.Engines, e)
	return e, nil
}

// Created returns how many engines New has created.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Engines)
}

// Ensure the mocks implement the engine interfaces at compile time.
var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.ConcurrentSafe = (*Engine)(nil)
	_ engine.Factory        = (*Factory)(nil)
)
