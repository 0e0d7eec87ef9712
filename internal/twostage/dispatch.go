package twostage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiangong-mineru/orchestrator/internal/taskqueue"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// VisionResult is one vision task's outcome.
type VisionResult struct {
	Seq        int    `json:"seq"`
	VisionText string `json:"vision_text"`
	Error      string `json:"error,omitempty"`
}

// VisionTaskPayload is the per-image-job vision task input.
type VisionTaskPayload struct {
	JobID          string   `json:"job_id"`
	Priority       string   `json:"priority,omitempty"`
	ImageJob       ImageJob `json:"image_job"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	PromptOverride string   `json:"prompt_override,omitempty"`
}

// MergeTaskPayload is the merge task input once every vision result (or the
// dry direct-to-merge path) is ready.
type MergeTaskPayload struct {
	JobID    string `json:"job_id"`
	Priority string `json:"priority,omitempty"`
}

const jobTTL = 24 * time.Hour

func stage1Key(jobID string) string    { return "mineru:twostage:" + jobID + ":stage1" }
func remainingKey(jobID string) string { return "mineru:twostage:" + jobID + ":remaining" }
func resultsKey(jobID string) string   { return "mineru:twostage:" + jobID + ":results" }

// Coordinator drives the dispatch/vision/merge fan-out using Redis for the
// chord's completion bookkeeping and the Task Queue for routing the actual
// work.
type Coordinator struct {
	redis *redis.Client
	queue *taskqueue.Queue
	names QueueNames
}

// NewCoordinator builds a Coordinator bound to a specific job's resolved queue names.
func NewCoordinator(redisClient *redis.Client, queue *taskqueue.Queue, names QueueNames) *Coordinator {
	return &Coordinator{redis: redisClient, queue: queue, names: names}
}

// Dispatch is the non-blocking orchestration step. It persists the stage-1
// result; with no image jobs it then chains directly to merge, otherwise it
// seeds the completion counter and enqueues one vision task per image job.
// It never blocks waiting for those tasks to finish.
func (c *Coordinator) Dispatch(ctx context.Context, jobID string, stage1 Stage1Result, visionReq VisionTaskPayload) error {
	payload, err := json.Marshal(stage1)
	if err != nil {
		return fmt.Errorf("twostage: marshal stage1 result: %w", err)
	}
	if err := c.redis.Set(ctx, stage1Key(jobID), payload, jobTTL).Err(); err != nil {
		return fmt.Errorf("twostage: persist stage1 result: %w", err)
	}

	if len(stage1.ImageJobs) == 0 {
		return c.enqueueMerge(ctx, jobID, visionReq.Priority)
	}

	if err := c.redis.Set(ctx, remainingKey(jobID), len(stage1.ImageJobs), jobTTL).Err(); err != nil {
		return fmt.Errorf("twostage: seed completion counter: %w", err)
	}

	for _, job := range stage1.ImageJobs {
		task := visionReq
		task.JobID = jobID
		task.ImageJob = job
		body, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("twostage: marshal vision task: %w", err)
		}
		if _, err := c.queue.SubmitToQueue(ctx, "twostage:vision", c.names.Vision, body); err != nil {
			return fmt.Errorf("twostage: enqueue vision task: %w", err)
		}
	}
	return nil
}

// RecordVisionResult stores one vision task's outcome and, once every
// image job for the document has reported in, enqueues the merge task.
// This is the chord's completion signal: a Redis DECR guarded by the
// counter Dispatch seeded, so the last task to finish — regardless of
// completion order — is the one that triggers merge.
func (c *Coordinator) RecordVisionResult(ctx context.Context, jobID, priority string, result VisionResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("twostage: marshal vision result: %w", err)
	}
	if err := c.redis.HSet(ctx, resultsKey(jobID), fmt.Sprintf("%d", result.Seq), body).Err(); err != nil {
		return fmt.Errorf("twostage: store vision result: %w", err)
	}
	c.redis.Expire(ctx, resultsKey(jobID), jobTTL)

	remaining, err := c.redis.Decr(ctx, remainingKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("twostage: decrement completion counter: %w", err)
	}
	if remaining <= 0 {
		logger.Debugf("twostage: all vision results in for job %s, enqueueing merge", jobID)
		return c.enqueueMerge(ctx, jobID, priority)
	}
	return nil
}

func (c *Coordinator) enqueueMerge(ctx context.Context, jobID, priority string) error {
	body, err := json.Marshal(MergeTaskPayload{JobID: jobID, Priority: priority})
	if err != nil {
		return fmt.Errorf("twostage: marshal merge task: %w", err)
	}
	_, err = c.queue.SubmitToQueue(ctx, "twostage:merge", c.names.Merge, body)
	return err
}

// LoadStage1Result fetches the stage-1 result persisted by Dispatch.
func (c *Coordinator) LoadStage1Result(ctx context.Context, jobID string) (*Stage1Result, error) {
	raw, err := c.redis.Get(ctx, stage1Key(jobID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("twostage: load stage1 result: %w", err)
	}
	var res Stage1Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("twostage: unmarshal stage1 result: %w", err)
	}
	return &res, nil
}

// LoadVisionResults fetches every recorded vision result for jobID, indexed by seq.
func (c *Coordinator) LoadVisionResults(ctx context.Context, jobID string) (map[int]VisionResult, error) {
	raw, err := c.redis.HGetAll(ctx, resultsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("twostage: load vision results: %w", err)
	}
	out := make(map[int]VisionResult, len(raw))
	for _, v := range raw {
		var vr VisionResult
		if err := json.Unmarshal([]byte(v), &vr); err != nil {
			continue
		}
		out[vr.Seq] = vr
	}
	return out, nil
}

// CleanupJob removes the Redis bookkeeping keys for jobID once merge has run.
func (c *Coordinator) CleanupJob(ctx context.Context, jobID string) {
	c.redis.Del(ctx, stage1Key(jobID), remainingKey(jobID), resultsKey(jobID))
}
