package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// table is one provider kind's factories.
type table[T any] struct {
	kind      string
	factories map[string]Factory[T]
}

func newTable[T any](kind string) table[T] {
	return table[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func (t table[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	f, ok := t.factories[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, t.kind, entry.Name)
	}
	return f(entry)
}

func (t table[T]) names(mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(t.factories))
	for n := range t.factories {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	stt         table[stt.Provider]
	transcriber table[stt.Transcriber]
	tts         table[tts.Provider]
	llm         table[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:         newTable[stt.Provider]("stt"),
		transcriber: newTable[stt.Transcriber]("transcriber"),
		tts:         newTable[tts.Provider]("tts"),
		llm:         newTable[llm.Provider]("llm"),
	}
}

// RegisterSTT registers a streaming STT factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.factories[name] = f
}

// RegisterTranscriber registers a segment transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, f Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber.factories[name] = f
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.factories[name] = f
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.factories[name] = f
}

// CreateSTT instantiates a streaming STT provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if there
// is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateTranscriber instantiates a transcriber.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	return r.transcriber.create(&r.mu, entry)
}

// CreateTTS instantiates a TTS provider.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreateLLM instantiates an LLM provider.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// Names returns the registered provider names of kind ("stt",
// "transcriber", "tts" or "llm"), sorted.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "stt":
		return r.stt.names(&r.mu)
	case "transcriber":
		return r.transcriber.names(&r.mu)
	case "tts":
		return r.tts.names(&r.mu)
	case "llm":
		return r.llm.names(&r.mu)
	}
	return nil
}
