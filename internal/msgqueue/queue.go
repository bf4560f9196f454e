package msgqueue

import (
	"context"
	"math/rand"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultPartitions is the partition count used when none is configured,
// matching the original's MessageQueue(count=5).
const DefaultPartitions = 5

// queueSize mirrors the original's `ct_queue_size` gauge, labeled by
// partition index.
var queueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ct_queue_size",
	Help: "Size of the message queue",
}, []string{"index"})

func init() {
	prometheus.MustRegister(queueSize)
}

// Queue is a process-singleton bounded multi-partition FIFO of cover-traffic
// Descriptors. Each partition is an independently-ordered channel; Put
// without an explicit partition selects one uniformly at random, enabling
// consumer fan-out without head-of-line blocking across partitions.
type Queue struct {
	partitions []chan *Descriptor
}

// New creates a Queue with count partitions, each able to hold up to
// capacity pending Descriptors before Put blocks.
func New(count, capacity int) *Queue {
	if count <= 0 {
		count = DefaultPartitions
	}
	q := &Queue{partitions: make([]chan *Descriptor, count)}
	for i := range q.partitions {
		q.partitions[i] = make(chan *Descriptor, capacity)
	}
	return q
}

// Count returns the number of partitions.
func (q *Queue) Count() int { return len(q.partitions) }

// Put enqueues msg onto partition (mod Count()). Blocks until the
// partition has room or ctx is done.
func (q *Queue) Put(ctx context.Context, msg *Descriptor, partition int) error {
	idx := partition % len(q.partitions)
	select {
	case q.partitions[idx] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutRandom enqueues msg on a uniformly-selected partition.
func (q *Queue) PutRandom(ctx context.Context, msg *Descriptor) error {
	return q.Put(ctx, msg, rand.Intn(len(q.partitions)))
}

// Get blocks until a Descriptor is available on the given partition (mod
// Count()) or ctx is done. It records the observed depth on the
// ct_queue_size gauge before returning, matching the original's behavior of
// sampling size() on every get.
func (q *Queue) Get(ctx context.Context, partition int) (*Descriptor, error) {
	idx := partition % len(q.partitions)
	queueSize.WithLabelValues(strconv.Itoa(idx)).Set(float64(q.Size(idx)))
	select {
	case msg := <-q.partitions[idx]:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the observed depth of the given partition.
func (q *Queue) Size(partition int) int {
	idx := partition % len(q.partitions)
	return len(q.partitions[idx])
}
