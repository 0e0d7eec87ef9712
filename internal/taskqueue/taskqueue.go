// Package taskqueue implements the Task Queue: a durable façade over
// asynq/Redis exposing submit/status with priority routing between a
// normal and an urgent queue. Grounded on the pack's Celery/Redis
// task-queue sample for the asynq client/inspector wiring idiom.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tiangong-mineru/orchestrator/pkg/logger"
	"github.com/tiangong-mineru/orchestrator/pkg/metrics"
)

// Priority selects which of the two routed queues a task lands on.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// ResolvePriority maps any non-"urgent" value to normal, per the routing
// contract: "urgent" routes to urgent, all other values route to normal.
func ResolvePriority(v string) Priority {
	if Priority(v) == PriorityUrgent {
		return PriorityUrgent
	}
	return PriorityNormal
}

// State is one of the five task lifecycle states callers observe.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRevoked State = "REVOKED"
)

// Status is the result of a status() call.
type Status struct {
	State  State
	Result []byte
	Error  string
}

// ErrUnreachable is returned when the broker cannot be reached; callers map
// this to a 503.
var ErrUnreachable = errors.New("taskqueue: broker unreachable")

// ErrNotFound is returned when no task with the given id is known on any
// configured queue.
var ErrNotFound = errors.New("taskqueue: task not found")

// Queue is the task queue façade.
type Queue struct {
	client     *asynq.Client
	inspector  *asynq.Inspector
	queueNames map[Priority]string
	allQueues  []string
	resultTTL  time.Duration
}

// New builds a Queue from a redis connection option and a normal/urgent
// queue name pair. Additional known queue names (e.g. the two-stage
// pipeline's parse/vision/dispatch/merge queues) are registered via
// RegisterQueue so Status can search them. resultTTL controls how long a
// completed task's state and result bytes stay fetchable after it finishes.
func New(redisOpt asynq.RedisConnOpt, normalQueue, urgentQueue string, resultTTL time.Duration) *Queue {
	q := &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queueNames: map[Priority]string{
			PriorityNormal: normalQueue,
			PriorityUrgent: urgentQueue,
		},
		resultTTL: resultTTL,
	}
	q.allQueues = []string{normalQueue, urgentQueue}
	return q
}

// RegisterQueue adds an additional queue name that Status should search,
// used for the two-stage pipeline's parse/vision/dispatch/merge routes.
func (q *Queue) RegisterQueue(name string) {
	for _, existing := range q.allQueues {
		if existing == name {
			return
		}
	}
	q.allQueues = append(q.allQueues, name)
}

// Close releases the underlying client/inspector connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// Submit enqueues a task of taskKind carrying payload, routed by priority.
// It returns the broker-assigned task id.
func (q *Queue) Submit(ctx context.Context, taskKind string, payload []byte, priority Priority) (string, error) {
	queueName := q.queueNames[priority]
	t := asynq.NewTask(taskKind, payload)
	info, err := q.client.EnqueueContext(ctx, t, asynq.Queue(queueName), asynq.Retention(q.resultTTL), asynq.MaxRetry(0))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	metrics.TaskStateTransitions.WithLabelValues(string(StatePending), queueName).Inc()
	logger.Debugf("taskqueue: submitted %s id=%s queue=%s", taskKind, info.ID, queueName)
	return info.ID, nil
}

// SubmitToQueue enqueues directly onto a named queue, used by the
// two-stage pipeline's per-stage routing where the queue name is resolved
// ahead of time rather than via Priority.
func (q *Queue) SubmitToQueue(ctx context.Context, taskKind, queueName string, payload []byte) (string, error) {
	t := asynq.NewTask(taskKind, payload)
	info, err := q.client.EnqueueContext(ctx, t, asynq.Queue(queueName), asynq.Retention(q.resultTTL), asynq.MaxRetry(0))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	metrics.TaskStateTransitions.WithLabelValues(string(StatePending), queueName).Inc()
	return info.ID, nil
}

// Status looks up taskID across every known queue and maps asynq's task
// state onto the five-state lifecycle. It never blocks longer than a
// broker round-trip.
func (q *Queue) Status(taskID string) (Status, error) {
	for _, queueName := range q.allQueues {
		info, err := q.inspector.GetTaskInfo(queueName, taskID)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) || errors.Is(err, asynq.ErrTaskNotFound) {
				continue
			}
			return Status{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return Status{State: mapState(info.State), Result: info.Result, Error: info.LastErr}, nil
	}
	return Status{}, ErrNotFound
}

func mapState(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		return StatePending
	case asynq.TaskStateActive, asynq.TaskStateRetry, asynq.TaskStateAggregating:
		return StateStarted
	case asynq.TaskStateCompleted:
		return StateSuccess
	case asynq.TaskStateArchived:
		return StateFailure
	}
	return StatePending
}
