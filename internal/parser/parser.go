// Package parser implements the Parser Adapter: a validating, load-balancing
// front for whatever out-of-process MinerU-style parser backend is
// configured. It does the actual parse in-process here; the GPU Scheduler
// is the layer responsible for isolating each call in a supervised child
// process and enforcing the hard timeout.
package parser

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

// Backend is a recognized parser backend name.
type Backend string

const (
	BackendPipeline          Backend = "pipeline"
	BackendVLMTransformers   Backend = "vlm-transformers"
	BackendVLMVLLMEngine     Backend = "vlm-vllm-engine"
	BackendVLMLMDeployEngine Backend = "vlm-lmdeploy-engine"
	BackendVLMHTTPClient     Backend = "vlm-http-client"
	BackendVLMMLXEngine      Backend = "vlm-mlx-engine"
	BackendHybridAutoEngine  Backend = "hybrid-auto-engine"
	BackendHybridHTTPClient  Backend = "hybrid-http-client"
)

var supportedBackends = map[Backend]bool{
	BackendPipeline:          true,
	BackendVLMTransformers:   true,
	BackendVLMVLLMEngine:     true,
	BackendVLMLMDeployEngine: true,
	BackendVLMHTTPClient:     true,
	BackendVLMMLXEngine:      true,
	BackendHybridAutoEngine:  true,
	BackendHybridHTTPClient:  true,
}

// hybridFallbacks maps the two hybrid aliases onto their deterministic vlm-* target.
var hybridFallbacks = map[Backend]Backend{
	BackendHybridAutoEngine: BackendVLMVLLMEngine,
	BackendHybridHTTPClient: BackendVLMHTTPClient,
}

// ResolveBackend validates name and resolves hybrid aliases to their
// concrete vlm-* backend. An unrecognized name is a validation error.
func ResolveBackend(name string) (Backend, error) {
	b := Backend(name)
	if !supportedBackends[b] {
		return "", fmt.Errorf("parser: unsupported backend %q", name)
	}
	if target, ok := hybridFallbacks[b]; ok {
		return target, nil
	}
	return b, nil
}

func isRemoteVLM(b Backend) bool {
	switch b {
	case BackendVLMVLLMEngine, BackendVLMHTTPClient:
		return true
	}
	return false
}

// Options carries per-call parse overrides.
type Options struct {
	Lang              string
	Method            string
	StartPage         int // 0 means "from the beginning"
	EndPage           int // 0 means "through the end"
	ServerURLs        []string
	APIKey            string
	AuthHeader        string
	ResolvedServerURL string
}

// Result is what a single parse call returns.
type Result struct {
	Items     []parseitem.Item
	OutputDir string
	Markdown  string
}

// Backend errors are wrapped with enough context (path, file size) for
// callers to separate configuration problems from content problems.
type ParseError struct {
	Path     string
	FileSize int64
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: parse %s (size=%d bytes): %v", e.Path, e.FileSize, e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

// serverPool round-robins over a list of VLM server URLs, process-wide,
// guarded by a single mutex. It rebuilds when the configured URL list
// changes, per the adapter's server-selection contract.
type serverPool struct {
	mu   sync.Mutex
	urls []string
	next int
}

var globalPool serverPool

// NextServerURL returns the next URL in the round-robin cycle for the given
// URL list, rebuilding the cycle if the list has changed since the last call.
func NextServerURL(urls []string) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("parser: no VLM server URLs configured")
	}
	globalPool.mu.Lock()
	defer globalPool.mu.Unlock()

	if !sameURLs(globalPool.urls, urls) {
		globalPool.urls = append([]string(nil), urls...)
		globalPool.next = 0
	}
	url := globalPool.urls[globalPool.next%len(globalPool.urls)]
	globalPool.next++
	return url, nil
}

func sameURLs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AuthHeader composes an Authorization header value from an explicit bearer
// token or a raw header string, preferring the raw header when both are set.
func AuthHeader(apiKey, rawHeader string) string {
	if rawHeader != "" {
		return rawHeader
	}
	if apiKey != "" {
		return "Bearer " + apiKey
	}
	return ""
}

// Implementation is the pluggable hook a concrete parser implementation provides;
// production wiring sets this to a real MinerU client, tests set it to a
// stub. It's process-wide because the child-supervisor process (spawned by
// the GPU Scheduler) re-execs the same binary and needs the same wiring.
var Implementation func(ctx context.Context, req Request) (Result, error)

// Request is the full set of inputs to a single Parse call.
type Request struct {
	FilePath  string
	Backend   Backend
	Pipeline  string
	Options   Options
	OutputDir string
}

// Parse validates the backend, resolves server selection for remote VLM
// backends, and invokes the wired Implementation; the page window in
// Options is passed through for the Implementation to apply. A nil
// Implementation is an error, and an implementation returning zero items
// is a fatal "empty result" error, never silently swallowed.
func Parse(ctx context.Context, req Request) (Result, error) {
	backend, err := ResolveBackend(string(req.Backend))
	if err != nil {
		return Result{}, err
	}
	req.Backend = backend

	if isRemoteVLM(backend) && len(req.Options.ServerURLs) > 0 {
		url, err := NextServerURL(req.Options.ServerURLs)
		if err != nil {
			return Result{}, err
		}
		req.Options.ResolvedServerURL = url
		req.Options.AuthHeader = firstNonEmpty(req.Options.AuthHeader, AuthHeader(req.Options.APIKey, ""))
	}

	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("parser: create output dir: %w", err)
		}
	}

	if Implementation == nil {
		return Result{}, fmt.Errorf("parser: no backend implementation wired")
	}

	res, err := Implementation(ctx, req)
	if err != nil {
		size := fileSize(req.FilePath)
		return Result{}, &ParseError{Path: req.FilePath, FileSize: size, Err: err}
	}
	if len(res.Items) == 0 {
		size := fileSize(req.FilePath)
		return Result{}, &ParseError{Path: req.FilePath, FileSize: size, Err: fmt.Errorf("parser returned no content")}
	}
	return res, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
