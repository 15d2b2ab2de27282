package logusage

import (
	"sync"
	"sync/atomic"
	"time"
)

// asyncBatcher decouples a Sink's writes from the request hot path: records
// are pushed onto a buffered channel and flushed in batches by a background
// goroutine. A full channel drops the record and counts it, rather than
// blocking the caller.
const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

type asyncBatcher struct {
	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	flush func(batch []Record)
}

func newAsyncBatcher(flush func(batch []Record)) *asyncBatcher {
	b := &asyncBatcher{
		ch:    make(chan Record, channelBuffer),
		done:  make(chan struct{}),
		flush: flush,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *asyncBatcher) enqueue(rec Record) {
	select {
	case b.ch <- rec:
	default:
		atomic.AddInt64(&b.dropped, 1)
	}
}

func (b *asyncBatcher) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

func (b *asyncBatcher) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

func (b *asyncBatcher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, batchSize)

	flushNow := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-b.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flushNow()
			}

		case <-ticker.C:
			flushNow()

		case <-b.done:
			for {
				select {
				case rec := <-b.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						flushNow()
					}
				default:
					flushNow()
					return
				}
			}
		}
	}
}
