package registry

import "github.com/sessiontrace/backend/internal/tailer"

// unboundedBatchQueue decouples tailer goroutines (producers) from the
// registry's single ingestion consumer with no fixed capacity. Producers
// never block on a full buffer; the backing slice grows as needed.
type unboundedBatchQueue struct {
	in  chan tailer.Batch
	out chan tailer.Batch
}

func newUnboundedBatchQueue() *unboundedBatchQueue {
	q := &unboundedBatchQueue{
		in:  make(chan tailer.Batch),
		out: make(chan tailer.Batch),
	}
	go q.pump()
	return q
}

func (q *unboundedBatchQueue) pump() {
	var buf []tailer.Batch
	for {
		if len(buf) == 0 {
			item, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, item)
			continue
		}

		select {
		case item, ok := <-q.in:
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, item)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}
