package transport

import (
	"bytes"
	"sync/atomic"

	"github.com/arloliu/go-radiacode/logger"
)

// notifyQueue buffers BLE notifications between the stack's callback and Exchange.
//
// A chunk that does not fit is dropped, counted and reported on overflow, since the response
// it belonged to can no longer be reassembled.
type notifyQueue struct {
	ch       chan []byte
	overflow chan struct{}
	dropped  atomic.Uint64
	log      logger.Logger
}

func newNotifyQueue(size int, log logger.Logger) *notifyQueue {
	return &notifyQueue{
		ch:       make(chan []byte, size),
		overflow: make(chan struct{}, 1),
		log:      log,
	}
}

// push copies buf into the queue. It never blocks the BLE stack.
func (q *notifyQueue) push(buf []byte) {
	select {
	case q.ch <- bytes.Clone(buf):
		return
	default:
	}

	n := q.dropped.Add(1)
	q.log.Debug("notification queue full, chunk dropped", "size", len(buf), "dropped", n)

	select {
	case q.overflow <- struct{}{}:
	default:
	}
}

// reset discards queued chunks and a pending overflow.
func (q *notifyQueue) reset() {
	for {
		select {
		case <-q.ch:
		case <-q.overflow:
		default:
			return
		}
	}
}

func (q *notifyQueue) Dropped() uint64 { return q.dropped.Load() }
