package assessment

import (
	"sync"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
)

// ModelLoader loads a model checkpoint from disk.
type ModelLoader func(path string) (Model, error)

// ModelProvider hands out models according to the configured load policy:
// config.ModelPolicyReload loads the checkpoint on every Acquire,
// config.ModelPolicyCache loads it once and shares it.
type ModelProvider struct {
	path   string
	policy string
	load   ModelLoader

	mu     sync.Mutex
	cached Model
}

// NewModelProvider creates a provider. Unknown policies behave like reload.
func NewModelProvider(path, policy string, load ModelLoader) *ModelProvider {
	if policy != config.ModelPolicyCache {
		policy = config.ModelPolicyReload
	}
	return &ModelProvider{path: path, policy: policy, load: load}
}

// Policy returns the effective load policy.
func (p *ModelProvider) Policy() string {
	return p.policy
}

// Acquire returns a model and the function that gives it back.
func (p *ModelProvider) Acquire() (Model, func() error, error) {
	if p.policy == config.ModelPolicyReload {
		model, err := p.loadModel()
		if err != nil {
			return nil, nil, err
		}
		return model, model.Close, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		model, err := p.loadModel()
		if err != nil {
			return nil, nil, err
		}
		p.cached = model
	}
	return p.cached, func() error { return nil }, nil
}

// Close releases a cached model, if any.
func (p *ModelProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		return nil
	}
	err := p.cached.Close()
	p.cached = nil
	return err
}

func (p *ModelProvider) loadModel() (Model, error) {
	model, err := p.load(p.path)
	if err != nil {
		return nil, apperr.New(apperr.ModelLoadFailure, "load model "+p.path, err)
	}
	return model, nil
}
