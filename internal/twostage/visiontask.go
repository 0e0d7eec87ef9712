package twostage

import (
	"context"

	"github.com/tiangong-mineru/orchestrator/internal/vision"
)

// RunVisionTask calls the Vision Adapter for one image job. On success it
// returns {seq, vision_text}; on any failure it degrades to
// {seq, vision_text: base_text, error} rather than aborting the document —
// vision failure never fails the overall task.
func RunVisionTask(ctx context.Context, adapter *vision.Adapter, payload VisionTaskPayload) VisionResult {
	text, err := adapter.Complete(ctx, payload.ImageJob.ImagePath, payload.ImageJob.ContextPayload,
		payload.PromptOverride, payload.Provider, payload.Model)
	if err != nil {
		return VisionResult{Seq: payload.ImageJob.Seq, VisionText: payload.ImageJob.BaseText, Error: err.Error()}
	}
	return VisionResult{Seq: payload.ImageJob.Seq, VisionText: text}
}
