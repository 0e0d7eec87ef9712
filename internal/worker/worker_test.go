package worker

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/tiangong-mineru/orchestrator/internal/twostage"
)

func TestUploadTwoStageBundle_MissingCredentialsIsError(t *testing.T) {
	_, err := uploadTwoStageBundle(context.Background(), twostage.Stage1Result{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "new store")
}

func TestNewMux_RegistersAllFourTaskKinds(t *testing.T) {
	mux := NewMux(Deps{})
	require.NotNil(t, mux)
	for _, kind := range []string{KindSingleStageRun, KindTwoStageParse, KindTwoStageVision, KindTwoStageMerge} {
		_, pattern := mux.Handler(asynq.NewTask(kind, nil))
		require.Equal(t, kind, pattern)
	}
}
