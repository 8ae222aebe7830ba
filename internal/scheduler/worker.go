package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

// Worker owns a host->commands map for one polling interval and ticks it,
// collecting and emitting a worker_stats point every cycle. The lock
// guarding hostCmds is held across the snapshot, collect and stats
// section of a tick, so an addHost/reset from AddHosts waits for the
// tick in progress to finish; it is always released before the interval
// sleep.
type Worker struct {
	Name     string
	Interval time.Duration

	collector Collector
	sink      point.Sink

	mu       sync.Mutex
	hostCmds map[string][]string
}

func newWorker(interval time.Duration, collector Collector, sink point.Sink) *Worker {
	return &Worker{
		Interval:  interval,
		collector: collector,
		sink:      sink,
		hostCmds:  make(map[string][]string),
	}
}

func (w *Worker) addHost(host string, cmds []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hostCmds[host] = append(w.hostCmds[host], cmds...)
}

// reset clears the assignment map ahead of a reassignment pass; it does
// not touch the worker's identity or interval.
func (w *Worker) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hostCmds = make(map[string][]string)
}

// snapshot copies the assignment map; callers must hold w.mu.
func (w *Worker) snapshot() map[string][]string {
	out := make(map[string][]string, len(w.hostCmds))
	for host, cmds := range w.hostCmds {
		copied := make([]string, len(cmds))
		copy(copied, cmds)
		out[host] = copied
	}
	return out
}

// run ticks the worker at Interval until ctx is cancelled. Each tick:
// take the lock, snapshot the assignment map, collect, emit
// worker_stats, release the lock, then sleep.
func (w *Worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		w.mu.Lock()
		hostCmds := w.snapshot()
		log.WithField("worker", w.Name).WithField("hosts", len(hostCmds)).Info("starting collection")

		start := time.Now()
		if len(hostCmds) > 0 {
			if err := w.collector.Collect(ctx, w.Name, hostCmds); err != nil {
				log.WithField("worker", w.Name).WithError(err).Error("collection pass failed")
			}
		}
		elapsed := time.Since(start)

		w.emitStats(ctx, elapsed, len(hostCmds))
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

func (w *Worker) emitStats(ctx context.Context, elapsed time.Duration, nbrDevices int) {
	if w.sink == nil {
		return
	}
	pt := point.New(measurementPrefix + "_worker_stats")
	pt.Timestamp = time.Now()
	pt.SetTag("worker_name", w.Name)
	pt.MergeTags(point.EnvTags())
	pt.SetField("execution_time_sec", elapsed.Seconds())
	pt.SetField("nbr_devices", nbrDevices)
	pt.SetField("nbr_threads", nbrDevices)

	if err := w.sink.Write(ctx, []point.Point{pt}); err != nil {
		log.WithField("worker", w.Name).WithError(err).Error("writing worker stats failed")
	}
}
