// Package vision implements the Vision Adapter: provider resolution,
// prompt composition, an OpenAI-compatible round-robin client pool, and
// one-shot cross-provider fallback on failure.
package vision

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tiangong-mineru/orchestrator/pkg/metrics"
)

// ProviderSpec describes one configured vision provider.
type ProviderSpec struct {
	Name         string
	Models       []string
	DefaultModel string
	HasCreds     func() bool
	BaseURLs     []string
	APIKey       string
}

// Registry holds the configured provider specs in declaration order and
// resolves provider/model selection per the adapter's priority rules.
type Registry struct {
	mu        sync.Mutex
	specs     []ProviderSpec
	byName    map[string]*ProviderSpec
	envDefault string
	pools     map[string]*clientPool
}

// NewRegistry builds a registry from specs in declaration (allow-list) order.
func NewRegistry(envDefault string, specs []ProviderSpec) *Registry {
	r := &Registry{envDefault: envDefault, byName: map[string]*ProviderSpec{}, pools: map[string]*clientPool{}}
	for i := range specs {
		s := specs[i]
		r.specs = append(r.specs, s)
		r.byName[s.Name] = &r.specs[len(r.specs)-1]
		if len(s.BaseURLs) > 0 {
			r.pools[s.Name] = &clientPool{urls: s.BaseURLs}
		}
	}
	return r
}

// ResolveProvider applies: explicit argument > environment default > first
// credentialed provider > first provider in the allow-list.
func (r *Registry) ResolveProvider(explicit string) (*ProviderSpec, error) {
	if explicit != "" {
		if p, ok := r.byName[explicit]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("vision: unknown provider %q", explicit)
	}
	if r.envDefault != "" {
		if p, ok := r.byName[r.envDefault]; ok {
			return p, nil
		}
	}
	for i := range r.specs {
		if r.specs[i].HasCreds != nil && r.specs[i].HasCreds() {
			return &r.specs[i], nil
		}
	}
	if len(r.specs) > 0 {
		return &r.specs[0], nil
	}
	return nil, fmt.Errorf("vision: no providers configured")
}

// ResolveModel validates that model belongs to provider, or returns the
// provider's default model when model is empty.
func (p *ProviderSpec) ResolveModel(model string) (string, error) {
	if model == "" {
		return p.DefaultModel, nil
	}
	for _, m := range p.Models {
		if m == model {
			return model, nil
		}
	}
	return "", fmt.Errorf("vision: model %q is not valid for provider %q", model, p.Name)
}

// ProviderFromModel finds the provider that declares model, used when a
// caller supplies a model without a provider.
func (r *Registry) ProviderFromModel(model string) (*ProviderSpec, error) {
	for i := range r.specs {
		for _, m := range r.specs[i].Models {
			if m == model {
				return &r.specs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("vision: no provider declares model %q", model)
}

// clientPool round-robins over a provider's base URLs under a single mutex.
type clientPool struct {
	mu   sync.Mutex
	urls []string
	next int
}

func (c *clientPool) next_() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := c.urls[c.next%len(c.urls)]
	c.next++
	return url
}

// NextBaseURL returns the next base URL in provider's round-robin cycle.
func (r *Registry) NextBaseURL(provider string) (string, error) {
	pool, ok := r.pools[provider]
	if !ok || len(pool.urls) == 0 {
		return "", fmt.Errorf("vision: provider %q has no base URLs configured", provider)
	}
	return pool.next_(), nil
}

var markerRe = regexp.MustCompile(`\[Page \d+\]|\[ChunkType=[^\]]*\]`)
var imageDescPrefixRe = regexp.MustCompile(`(?i)^\s*image description:\s*`)

// SanitizeVisionText strips internal [Page N] / [ChunkType=...] markers and
// a leading "Image Description:" echo from a model's raw output.
func SanitizeVisionText(text string) string {
	text = markerRe.ReplaceAllString(text, "")
	text = imageDescPrefixRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

const canonicalPrompt = "Describe the visual content of this image. Prefer what you see over any conflicting surrounding text; do not repeat internal page or chunk markers; do not add meta-commentary about the task."

// ComposePrompt builds the final prompt sent to the model: promptOverride
// verbatim with context appended under a labeled block when non-empty,
// otherwise the canonical instruction prompt plus context.
func ComposePrompt(promptOverride, context string) string {
	base := canonicalPrompt
	if strings.TrimSpace(promptOverride) != "" {
		base = promptOverride
	}
	if strings.TrimSpace(context) == "" {
		return base
	}
	return base + "\n\nContext:\n" + context
}

// Completer performs one vision call against a concrete provider backend.
// Production wiring supplies an OpenAI-compatible HTTP client; tests supply
// a stub.
type Completer func(ctx context.Context, provider, model, baseURL, apiKey, imagePath, prompt string) (string, error)

// Adapter ties a Registry to a Completer implementation.
type Adapter struct {
	Registry  *Registry
	Completer Completer
}

// Complete resolves provider/model, composes the prompt, calls the
// completer, and on failure tries each other credentialed provider once in
// declaration order before giving up.
func (a *Adapter) Complete(ctx context.Context, imagePath, contextPayload, promptOverride, explicitProvider, explicitModel string) (string, error) {
	spec, err := a.Registry.ResolveProvider(explicitProvider)
	if err != nil {
		return "", err
	}
	if explicitProvider == "" && explicitModel != "" {
		if byModel, err := a.Registry.ProviderFromModel(explicitModel); err == nil {
			spec = byModel
		}
	}

	model, err := spec.ResolveModel(explicitModel)
	if err != nil {
		return "", err
	}

	prompt := ComposePrompt(promptOverride, contextPayload)

	text, err := a.callProvider(ctx, spec, model, imagePath, prompt)
	if err == nil {
		return SanitizeVisionText(text), nil
	}

	var lastErr = err
	for i := range a.Registry.specs {
		candidate := &a.Registry.specs[i]
		if candidate.Name == spec.Name {
			continue
		}
		if candidate.HasCreds == nil || !candidate.HasCreds() {
			continue
		}
		fallbackModel, modelErr := candidate.ResolveModel("")
		if modelErr != nil {
			continue
		}
		text, err := a.callProvider(ctx, candidate, fallbackModel, imagePath, prompt)
		if err == nil {
			return SanitizeVisionText(text), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("vision: all providers failed, last error: %w", lastErr)
}

func (a *Adapter) callProvider(ctx context.Context, spec *ProviderSpec, model, imagePath, prompt string) (string, error) {
	start := time.Now()
	baseURL := ""
	if url, err := a.Registry.NextBaseURL(spec.Name); err == nil {
		baseURL = url
	}
	text, err := a.Completer(ctx, spec.Name, model, baseURL, spec.APIKey, imagePath, prompt)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.VisionCallDuration.WithLabelValues(spec.Name, outcome).Observe(time.Since(start).Seconds())
	return text, err
}
