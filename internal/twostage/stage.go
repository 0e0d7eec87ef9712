// Package twostage implements the Two-Stage Pipeline: parse, a
// non-blocking dispatch that fans out per-image vision calls, and a merge
// that re-assembles the document by image seq. The fan-out/fan-in is built
// directly on Redis (completion counters, per-job result hashes) the same
// way Celery's own chord implementation tracks completion over a Redis
// broker — asynq's task queue carries the work, Redis carries the
// synchronization the chord needs.
package twostage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tiangong-mineru/orchestrator/internal/gpu"
	"github.com/tiangong-mineru/orchestrator/internal/objectstore"
	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// ParseStageRequest is the stage-1 input payload.
type ParseStageRequest struct {
	SourcePath    string
	Backend       string
	ChunkType     bool
	ReturnTxt     bool
	Workspace     string
	CleanupSource bool
	ExtraCleanup  []string
	ContextWindow int

	SaveToMinio      bool
	ObjectStoreCreds objectstore.Credentials
	Bucket           string
	Prefix           string
	Meta             string
	UploadDPI        int
	OriginalFilename string
}

// Stage1Result is handed from parse to dispatch to merge.
type Stage1Result struct {
	Workspace    string           `json:"workspace"`
	ContentList  []parseitem.Item `json:"content_list"`
	ImageJobs    []ImageJob       `json:"image_jobs"`
	ChunkType    bool             `json:"chunk_type"`
	ReturnTxt    bool             `json:"return_txt"`
	ExtraCleanup []string         `json:"extra_cleanup"`

	SourcePath       string                  `json:"source_path"`
	SaveToMinio      bool                    `json:"save_to_minio"`
	ObjectStoreCreds objectstore.Credentials `json:"object_store_creds,omitempty"`
	Bucket           string                  `json:"bucket,omitempty"`
	Prefix           string                  `json:"prefix,omitempty"`
	Meta             string                  `json:"meta,omitempty"`
	UploadDPI        int                     `json:"upload_dpi,omitempty"`
}

// RunParseStage ensures the workspace exists, copies the source into it if
// needed, runs it through the GPU scheduler, builds the image-job list, and
// returns the stage-1 result. Parsed artifacts are left on disk for stage 3.
func RunParseStage(ctx context.Context, scheduler *gpu.Scheduler, req ParseStageRequest) (*Stage1Result, error) {
	if err := os.MkdirAll(req.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("twostage: create workspace: %w", err)
	}

	sourceInWorkspace := req.SourcePath
	if filepath.Dir(req.SourcePath) != req.Workspace {
		dst := filepath.Join(req.Workspace, filepath.Base(req.SourcePath))
		if err := copyFile(req.SourcePath, dst); err != nil {
			return nil, fmt.Errorf("twostage: copy source into workspace: %w", err)
		}
		sourceInWorkspace = dst
		if req.CleanupSource {
			if err := os.Remove(req.SourcePath); err != nil && !os.IsNotExist(err) {
				logger.Warnf("twostage: failed to unlink original source %s: %v", req.SourcePath, err)
			}
		}
	}

	future := scheduler.Submit(gpu.SubmitRequest{
		FilePath:  sourceInWorkspace,
		Backend:   req.Backend,
		Pipeline:  "images",
		OutputDir: req.Workspace,
	})
	res, err := future.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("twostage: parse stage: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, fmt.Errorf("twostage: parse stage returned no content")
	}

	items := res.Items
	jobs := BuildImageJobs(items, req.ContextWindow)

	return &Stage1Result{
		Workspace:        req.Workspace,
		ContentList:      items,
		ImageJobs:        jobs,
		ChunkType:        req.ChunkType,
		ReturnTxt:        req.ReturnTxt,
		ExtraCleanup:     req.ExtraCleanup,
		SourcePath:       sourceInWorkspace,
		SaveToMinio:      req.SaveToMinio,
		ObjectStoreCreds: req.ObjectStoreCreds,
		Bucket:           req.Bucket,
		Prefix:           req.Prefix,
		Meta:             req.Meta,
		UploadDPI:        req.UploadDPI,
	}, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
