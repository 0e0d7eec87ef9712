// Package worker registers the asynq task handlers that back the Task
// Queue: a single-stage run handler, and the two-stage pipeline's
// parse/vision/merge handlers, each writing its terminal payload back onto
// the task's result so the Task Queue's status() call can return it.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tiangong-mineru/orchestrator/internal/audit"
	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/config"
	"github.com/tiangong-mineru/orchestrator/internal/gpu"
	"github.com/tiangong-mineru/orchestrator/internal/objectstore"
	"github.com/tiangong-mineru/orchestrator/internal/runner"
	"github.com/tiangong-mineru/orchestrator/internal/taskqueue"
	"github.com/tiangong-mineru/orchestrator/internal/twostage"
	"github.com/tiangong-mineru/orchestrator/internal/vision"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// Task kind names registered on the asynq mux.
const (
	KindSingleStageRun  = "mineru:run"
	KindTwoStageParse   = "twostage:parse"
	KindTwoStageVision  = "twostage:vision"
	KindTwoStageMerge   = "twostage:merge"
)

// RunTaskPayload is the single-stage task body.
type RunTaskPayload struct {
	Request runner.Request `json:"request"`
	TaskID  string         `json:"task_id"`
}

// ParseTaskPayload is the two-stage parse-stage task body; a coordinator
// bound to this job's resolved queue names dispatches from inside the
// handler once stage 1 completes.
type ParseTaskPayload struct {
	Request       twostage.ParseStageRequest `json:"request"`
	VisionRequest twostage.VisionTaskPayload `json:"vision_request"`
	JobID         string                     `json:"job_id"`
	TaskID        string                     `json:"task_id"`
}

// Deps bundles every collaborator a handler needs.
type Deps struct {
	Scheduler     *gpu.Scheduler
	Queue         *taskqueue.Queue
	Redis         *redis.Client
	VisionAdapter *vision.Adapter
	SupportedExt  []string
	MongoURI      string
	MongoDatabase string
	Cfg           *config.Config
}

// NewMux builds the asynq.ServeMux wiring every task kind to its handler.
func NewMux(deps Deps) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(KindSingleStageRun, handleSingleStage(deps))
	mux.HandleFunc(KindTwoStageParse, handleParseStage(deps))
	mux.HandleFunc(KindTwoStageVision, handleVisionTask(deps))
	mux.HandleFunc(KindTwoStageMerge, handleMergeTask(deps))
	return mux
}

func handleSingleStage(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RunTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("worker: decode run payload: %w", err)
		}

		now := time.Now()
		rec := &audit.Record{TaskID: payload.TaskID, Kind: "single-stage", State: "STARTED", CreatedAt: now, UpdatedAt: now}
		_ = audit.Save(ctx, deps.MongoURI, deps.MongoDatabase, rec)

		result, err := runner.Run(ctx, runner.Deps{Scheduler: deps.Scheduler, SupportedExtensions: deps.SupportedExt}, payload.Request)
		if err != nil {
			rec.State, rec.Error, rec.UpdatedAt = "FAILURE", err.Error(), time.Now()
			_ = audit.Save(ctx, deps.MongoURI, deps.MongoDatabase, rec)
			return err
		}

		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("worker: encode run result: %w", err)
		}
		rec.State, rec.UpdatedAt = "SUCCESS", time.Now()
		if result.MinioAssets != nil {
			rec.MinioBucket, rec.MinioPrefix = result.MinioAssets.Bucket, result.MinioAssets.Prefix
		}
		_ = audit.Save(ctx, deps.MongoURI, deps.MongoDatabase, rec)

		if _, err := t.ResultWriter().Write(body); err != nil {
			logger.Warnf("worker: write result for %s: %v", payload.TaskID, err)
		}
		return nil
	}
}

func handleParseStage(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ParseTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("worker: decode parse-stage payload: %w", err)
		}

		stage1, err := twostage.RunParseStage(ctx, deps.Scheduler, payload.Request)
		if err != nil {
			return fmt.Errorf("worker: parse stage: %w", err)
		}

		priority := taskqueue.ResolvePriority(payload.VisionRequest.Priority)
		names := twostage.ResolveQueueNames(deps.Cfg.Queue, priority)
		coord := twostage.NewCoordinator(deps.Redis, deps.Queue, names)
		if err := coord.Dispatch(ctx, payload.JobID, *stage1, payload.VisionRequest); err != nil {
			return fmt.Errorf("worker: dispatch: %w", err)
		}
		return nil
	}
}

func handleVisionTask(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload twostage.VisionTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("worker: decode vision payload: %w", err)
		}

		result := twostage.RunVisionTask(ctx, deps.VisionAdapter, payload)

		priority := taskqueue.ResolvePriority(payload.Priority)
		names := twostage.ResolveQueueNames(deps.Cfg.Queue, priority)
		coord := twostage.NewCoordinator(deps.Redis, deps.Queue, names)
		if err := coord.RecordVisionResult(ctx, payload.JobID, payload.Priority, result); err != nil {
			return fmt.Errorf("worker: record vision result: %w", err)
		}
		return nil
	}
}

func handleMergeTask(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload twostage.MergeTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("worker: decode merge payload: %w", err)
		}

		priority := taskqueue.ResolvePriority(payload.Priority)
		names := twostage.ResolveQueueNames(deps.Cfg.Queue, priority)
		coord := twostage.NewCoordinator(deps.Redis, deps.Queue, names)

		stage1, err := coord.LoadStage1Result(ctx, payload.JobID)
		if err != nil {
			return fmt.Errorf("worker: load stage1 result: %w", err)
		}
		visionResults, err := coord.LoadVisionResults(ctx, payload.JobID)
		if err != nil {
			return fmt.Errorf("worker: load vision results: %w", err)
		}

		merged := twostage.Merge(*stage1, visionResults)

		// stage1.SourcePath and its rendered pages are still on disk at
		// this point; the upload reuses the same vision-merged chunks
		// returned to the caller, not a fresh pass over the raw content
		// list, so the uploaded parsed.json matches the reported result.
		// The workspace is only torn down once that upload is done.
		var assets *objectstore.AssetRecord
		if stage1.SaveToMinio {
			var err error
			assets, err = uploadTwoStageBundle(ctx, *stage1, merged.Result)
			if err != nil {
				logger.Warnf("worker: two-stage object-store upload failed for job %s: %v", payload.JobID, err)
			}
		}
		twostage.CleanupWorkspace(*stage1)
		coord.CleanupJob(ctx, payload.JobID)

		out := struct {
			twostage.MergePayload
			MinioAssets *objectstore.AssetRecord `json:"minio_assets"`
		}{MergePayload: merged, MinioAssets: assets}
		body, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("worker: encode merge result: %w", err)
		}

		if _, err := t.ResultWriter().Write(body); err != nil {
			logger.Warnf("worker: write merge result for job %s: %v", payload.JobID, err)
		}
		return nil
	}
}

// uploadTwoStageBundle mirrors the single-stage runner's upload step:
// clear the prefix, upload source/parsed/pages, and a meta sidecar if
// requested. chunks is the already-merged result twostage.Merge produced,
// so the uploaded parsed.json matches what the caller gets back, not a
// re-normalized pass over the pre-vision content list.
func uploadTwoStageBundle(ctx context.Context, stage1 twostage.Stage1Result, chunks []chunk.Chunk) (*objectstore.AssetRecord, error) {
	store, err := objectstore.New(stage1.ObjectStoreCreds)
	if err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}
	if err := store.EnsureBucket(ctx, stage1.Bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	if err := store.ClearPrefix(ctx, stage1.Bucket, stage1.Prefix); err != nil {
		return nil, fmt.Errorf("clear prefix: %w", err)
	}

	assets, err := store.UploadBundle(ctx, stage1.Bucket, stage1.Prefix, stage1.SourcePath, chunks, stage1.UploadDPI, stage1.Workspace)
	if err != nil {
		return nil, fmt.Errorf("upload bundle: %w", err)
	}
	if stage1.Meta != "" {
		metaObject, err := store.UploadText(ctx, stage1.Bucket, stage1.Prefix, "meta.txt", stage1.Meta)
		if err != nil {
			return nil, fmt.Errorf("upload meta: %w", err)
		}
		assets.MetaObject = &metaObject
	}
	return assets, nil
}
