// Package bus holds the external replay drivers that fill session queues.
package bus

import (
	"github.com/hongjun500/echo-dtm/internal/queue"
)

// Queues is the producer side of the registry.
type Queues interface {
	QueueFor(remote uint64) *queue.Queue
}
