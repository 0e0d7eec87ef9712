package taskqueue

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestResolvePriority_OnlyUrgentStringRoutesUrgent(t *testing.T) {
	require.Equal(t, PriorityUrgent, ResolvePriority("urgent"))
	require.Equal(t, PriorityNormal, ResolvePriority("normal"))
	require.Equal(t, PriorityNormal, ResolvePriority(""))
	require.Equal(t, PriorityNormal, ResolvePriority("URGENT"))
}

func TestMapState_CoversEveryAsynqState(t *testing.T) {
	cases := map[asynq.TaskState]State{
		asynq.TaskStatePending:     StatePending,
		asynq.TaskStateScheduled:   StatePending,
		asynq.TaskStateActive:      StateStarted,
		asynq.TaskStateRetry:       StateStarted,
		asynq.TaskStateAggregating: StateStarted,
		asynq.TaskStateCompleted:   StateSuccess,
		asynq.TaskStateArchived:    StateFailure,
	}
	for in, want := range cases {
		require.Equal(t, want, mapState(in), "state %v", in)
	}
}

func TestRegisterQueue_DoesNotDuplicate(t *testing.T) {
	q := &Queue{allQueues: []string{"normal", "urgent"}}
	q.RegisterQueue("normal")
	q.RegisterQueue("parse")
	require.Equal(t, []string{"normal", "urgent", "parse"}, q.allQueues)
}
