package twostage

import (
	"github.com/tiangong-mineru/orchestrator/internal/config"
	"github.com/tiangong-mineru/orchestrator/internal/taskqueue"
)

// QueueNames is the four routes the two-stage pipeline resolves per job.
type QueueNames struct {
	Parse    string
	Vision   string
	Dispatch string
	Merge    string
}

// ResolveQueueNames picks the urgent variant of each of the four routes
// when priority is urgent, otherwise the normal variant.
func ResolveQueueNames(q config.QueueConfig, priority taskqueue.Priority) QueueNames {
	if priority == taskqueue.PriorityUrgent {
		return QueueNames{
			Parse:    q.ParseUrgentQueue,
			Vision:   q.VisionUrgentQueue,
			Dispatch: q.DispatchUrgentQueue,
			Merge:    q.MergeUrgentQueue,
		}
	}
	return QueueNames{
		Parse:    q.ParseQueue,
		Vision:   q.VisionQueue,
		Dispatch: q.DispatchQueue,
		Merge:    q.MergeQueue,
	}
}
