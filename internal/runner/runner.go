// Package runner implements the Single-Stage Runner: the broker-worker
// algorithm executed for a submitted task, with every failure path
// explicit per the eight-step contract.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/gpu"
	"github.com/tiangong-mineru/orchestrator/internal/markdown"
	"github.com/tiangong-mineru/orchestrator/internal/normalize"
	"github.com/tiangong-mineru/orchestrator/internal/objectstore"
	"github.com/tiangong-mineru/orchestrator/internal/officeconvert"
	"github.com/tiangong-mineru/orchestrator/internal/parser"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// ValidationError marks a pre-dispatch failure (bad extension, missing
// credentials, blank prefix): the task is never enqueued to the scheduler.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Request is the full input for a single-stage run.
type Request struct {
	SourcePath       string
	OriginalFilename string
	Backend          string
	Pipeline         string
	ChunkType        bool
	ReturnTxt        bool

	SaveToMinio      bool
	ObjectStoreCreds objectstore.Credentials
	Bucket           string
	Prefix           string
	Meta             string
	UploadDPI        int

	ParserOptions parser.Options

	WorkspaceDir string
}

// Payload is the canonical result returned to the caller.
type Payload struct {
	Result      []chunk.Chunk           `json:"result"`
	Txt         *string                 `json:"txt"`
	MinioAssets *objectstore.AssetRecord `json:"minio_assets"`
}

// Deps bundles the collaborators the runner drives; production wiring
// injects the real GPU scheduler, tests inject stand-ins.
type Deps struct {
	Scheduler           *gpu.Scheduler
	SupportedExtensions []string
}

// Run executes the eight-step single-stage algorithm. Any step returning an
// error aborts with that error; the cleanup set is always drained before
// returning, even on the success path.
func Run(ctx context.Context, deps Deps, req Request) (*Payload, error) {
	cleanup := newCleanupSet()
	defer cleanup.run()

	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))

	// Step 1: validate extension.
	if err := validateExtension(ext, deps.SupportedExtensions); err != nil {
		return nil, err
	}

	// Step 2: markdown fast path.
	if officeconvert.IsMarkdown(ext) {
		return runMarkdownFastPath(req)
	}

	currentPath := req.SourcePath

	// Step 3: office conversion.
	if officeconvert.IsConvertible(ext) {
		outDir := filepath.Join(req.WorkspaceDir, "office-convert")
		pdfPath, extra, err := officeconvert.Convert(ctx, currentPath, outDir)
		if err != nil {
			return nil, err
		}
		cleanup.add(extra...)
		cleanup.add(pdfPath)
		currentPath = pdfPath
	}

	// Step 4: object-store prep.
	var store *objectstore.Store
	var bucket, prefix string
	if req.SaveToMinio {
		if strings.ToLower(filepath.Ext(currentPath)) != ".pdf" {
			return nil, validationErrorf("runner: save_to_minio requires a PDF input, got %s", currentPath)
		}
		s, err := objectstore.New(req.ObjectStoreCreds)
		if err != nil {
			return nil, validationErrorf("%v", err)
		}
		if err := s.EnsureBucket(ctx, req.Bucket); err != nil {
			return nil, fmt.Errorf("runner: ensure bucket: %w", err)
		}
		bucket = req.Bucket
		prefix = objectstore.BuildPrefix(req.OriginalFilename, req.Prefix)
		if prefix == "" {
			return nil, validationErrorf("runner: resolved an empty object-store prefix")
		}
		store = s
	}

	// Step 5: submit to GPU scheduler, await the future.
	future := deps.Scheduler.Submit(gpu.SubmitRequest{
		FilePath: currentPath,
		Backend:  req.Backend,
		Pipeline: req.Pipeline,
		Options:  req.ParserOptions,
	})
	parseResult, err := future.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: parse: %w", err)
	}

	// Step 6: normalize, build plain text.
	chunks := normalize.Normalize(parseResult.Items, normalize.Options{ChunkType: req.ChunkType})
	payload := &Payload{Result: chunks}
	if req.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		payload.Txt = &txt
	}

	// Step 7: upload bundle if a store context is active.
	if store != nil {
		if err := store.ClearPrefix(ctx, bucket, prefix); err != nil {
			return nil, fmt.Errorf("runner: clear prefix: %w", err)
		}
		assets, err := store.UploadBundle(ctx, bucket, prefix, currentPath, chunks, req.UploadDPI, req.WorkspaceDir)
		if err != nil {
			return nil, fmt.Errorf("runner: upload bundle: %w", err)
		}
		if req.Meta != "" {
			metaObject, err := store.UploadText(ctx, bucket, prefix, "meta.txt", req.Meta)
			if err != nil {
				return nil, fmt.Errorf("runner: upload meta: %w", err)
			}
			assets.MetaObject = &metaObject
		}
		payload.MinioAssets = assets
	}

	return payload, nil
}

func runMarkdownFastPath(req Request) (*Payload, error) {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("runner: read markdown source: %w", err)
	}
	items := markdown.Parse(string(data))
	chunks := normalize.Normalize(items, normalize.Options{ChunkType: req.ChunkType})

	payload := &Payload{Result: chunks}
	if req.ReturnTxt {
		txt := chunk.BuildPlainText(chunks)
		payload.Txt = &txt
	}
	return payload, nil
}

func validateExtension(ext string, supported []string) error {
	if officeconvert.IsMarkdown(ext) || officeconvert.IsConvertible(ext) {
		return nil
	}
	for _, s := range supported {
		if strings.EqualFold(s, ext) {
			return nil
		}
	}
	return validationErrorf("runner: unsupported file extension %q", ext)
}

// cleanupSet tracks paths to delete on every exit path, tolerating
// already-missing files and duplicate runs of the same cleanup.
type cleanupSet struct {
	paths []string
}

func newCleanupSet() *cleanupSet { return &cleanupSet{} }

func (c *cleanupSet) add(paths ...string) {
	for _, p := range paths {
		if p != "" {
			c.paths = append(c.paths, p)
		}
	}
}

func (c *cleanupSet) run() {
	for _, p := range c.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warnf("runner: cleanup failed for %s: %v", p, err)
		}
	}
}
