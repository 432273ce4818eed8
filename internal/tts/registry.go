package tts

import (
	"fmt"
	"sync"
)

// Provider names accepted by the registry and stored on synthesis jobs.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderAzure      = "azure"
)

// Credentials holds the per-provider secrets the registry needs to build
// clients. A provider with empty credentials is considered unconfigured and
// requesting it fails fast instead of failing on the first network call.
type Credentials struct {
	ElevenLabsAPIKey string
	AzureAPIKey      string
	AzureRegion      string
}

// Registry builds and caches one client per provider for the lifetime of
// the process. Clients are shared across all in-flight chapters; Invalidate
// drops a cached client so the next Get rebuilds it, e.g. after credential
// rotation.
type Registry struct {
	creds Credentials

	mu      sync.Mutex
	clients map[string]Provider
}

// NewRegistry creates a registry over the given credentials.
func NewRegistry(creds Credentials) *Registry {
	return &Registry{
		creds:   creds,
		clients: make(map[string]Provider),
	}
}

// Get returns the cached client for name, building it on first use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.clients[name]; ok {
		return p, nil
	}

	p, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.clients[name] = p
	return p, nil
}

// Invalidate drops the cached client for name, if any.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
}

func (r *Registry) build(name string) (Provider, error) {
	switch name {
	case ProviderElevenLabs:
		if r.creds.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("provider %s: %w", name, ErrMissingCredentials)
		}
		return NewElevenLabsClient(ElevenLabsConfig{
			APIKey:     r.creds.ElevenLabsAPIKey,
			Stability:  -1,
			Similarity: -1,
		}), nil
	case ProviderAzure:
		if r.creds.AzureAPIKey == "" || r.creds.AzureRegion == "" {
			return nil, fmt.Errorf("provider %s: %w", name, ErrMissingCredentials)
		}
		return NewAzureClient(AzureConfig{
			APIKey: r.creds.AzureAPIKey,
			Region: r.creds.AzureRegion,
		}), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", name)
	}
}
