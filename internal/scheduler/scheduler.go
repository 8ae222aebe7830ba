// Package scheduler assigns hosts to interval-bucketed worker pools and
// ticks each worker at its own interval, independent of the others.
package scheduler

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/door7302/jts-collector/internal/hostmgr"
	"github.com/door7302/jts-collector/internal/point"
)

const defaultWorkerName = "Default-120sec"
const defaultInterval = 120 * time.Second
const measurementPrefix = "metric_collector"

var log = logrus.WithField("component", "scheduler")

// Hosts is the subset of *hostmgr.Manager the scheduler needs to resolve
// host tags into interval-bucketed command lists.
type Hosts interface {
	UpdateHosts(hosts map[string]hostmgr.Host) error
	GetTargetHosts(tags []string) []string
	GetTargetCommands(host string, tags []string) ([]hostmgr.CommandGroup, error)
}

// Collector runs one poll pass for a worker's assigned host/command map.
type Collector interface {
	Collect(ctx context.Context, workerName string, hostCmds map[string][]string) error
}

// Scheduler owns a pool of Workers per polling interval and round-robins
// newly discovered interval buckets onto them once MaxWorkersPerInterval
// is reached.
type Scheduler struct {
	Hosts     Hosts
	Collector Collector
	Sink      point.Sink

	MaxWorkersPerInterval int

	mu       sync.Mutex
	workers  map[time.Duration][]*Worker
	cursor   map[time.Duration]int
	working  map[*Worker]struct{}
	started  map[*Worker]struct{}
	runCtx   context.Context
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

// New returns a Scheduler with sane single-worker-per-interval defaults.
func New(hosts Hosts, collector Collector, sink point.Sink) *Scheduler {
	return &Scheduler{
		Hosts:                 hosts,
		Collector:             collector,
		Sink:                  sink,
		MaxWorkersPerInterval: 1,
		workers:               make(map[time.Duration][]*Worker),
		cursor:                make(map[time.Duration]int),
		working:               make(map[*Worker]struct{}),
		started:               make(map[*Worker]struct{}),
	}
}

// getWorker returns a worker for interval, creating a new one while the
// pool for that interval is below MaxWorkersPerInterval, otherwise
// round-robining across the existing pool via a persistent cursor.
func (s *Scheduler) getWorker(interval time.Duration) *Worker {
	pool := s.workers[interval]
	if len(pool) < s.MaxWorkersPerInterval {
		w := newWorker(interval, s.Collector, s.Sink)
		w.Name = workerName(interval, len(pool)+1)
		pool = append(pool, w)
		s.workers[interval] = pool
		return w
	}
	idx := s.cursor[interval] % len(pool)
	s.cursor[interval] = idx + 1
	return pool[idx]
}

func workerName(interval time.Duration, index int) string {
	return "Worker-" + interval.String() + "-" + strconv.Itoa(index)
}

// AddHosts refreshes the host catalog, resolves the matching hosts'
// interval-bucketed commands, and assigns each (host, interval) pair to
// a worker. Pass refresh=true on every call after the first one: it
// clears prior worker assignments (but not worker identity) before
// reassigning, the way a live inventory reload must.
func (s *Scheduler) AddHosts(hostsConf map[string]hostmgr.Host, hostTags, cmdTags []string, refresh bool) error {
	if len(hostsConf) == 0 {
		log.Warn("scheduler: no hosts to schedule")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh {
		for w := range s.working {
			w.reset()
		}
	}

	if err := s.Hosts.UpdateHosts(hostsConf); err != nil {
		return err
	}

	if len(hostTags) == 0 {
		hostTags = []string{".*"}
	}
	hosts := s.Hosts.GetTargetHosts(hostTags)
	log.WithField("hosts", hosts).Debug("hosts selected for scheduling")

	if len(cmdTags) == 0 {
		cmdTags = []string{".*"}
	}

	type bucket struct {
		interval time.Duration
		commands []string
	}
	hostBuckets := make(map[string][]bucket)
	for _, host := range hosts {
		groups, err := s.Hosts.GetTargetCommands(host, cmdTags)
		if err != nil {
			log.WithField("host", host).WithError(err).Warn("unable to resolve commands, skipping")
			continue
		}
		byInterval := make(map[time.Duration][]string)
		for _, g := range groups {
			byInterval[g.Interval] = append(byInterval[g.Interval], g.Commands...)
		}
		var intervals []time.Duration
		for interval := range byInterval {
			intervals = append(intervals, interval)
		}
		sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
		for _, interval := range intervals {
			hostBuckets[host] = append(hostBuckets[host], bucket{interval: interval, commands: byInterval[interval]})
		}
	}

	if len(hostBuckets) == 0 {
		log.Warn("scheduler: no commands found to collect")
		return nil
	}

	for host, buckets := range hostBuckets {
		for _, b := range buckets {
			w := s.getWorker(b.interval)
			w.addHost(host, b.commands)
			s.working[w] = struct{}{}
		}
	}

	if refresh {
		// Spawn any worker created by this reassignment pass that wasn't
		// already running, so a live inventory reload picks up new
		// interval buckets without waiting for a restart.
		s.spawnNewLocked()
	}
	return nil
}

// Start launches every assigned worker's tick loop in its own goroutine
// and blocks until Stop cancels them. If no hosts were ever assigned, a
// single default 120-second liveness worker is started instead so the
// agent still emits worker_stats. A later AddHosts(refresh=true) call
// spawns any newly created worker directly into this same run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if len(s.working) == 0 {
		w := newWorker(defaultInterval, s.Collector, s.Sink)
		w.Name = defaultWorkerName
		s.working[w] = struct{}{}
	}
	ctx, s.cancelFn = context.WithCancel(ctx)
	s.runCtx = ctx
	s.spawnNewLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// spawnNewLocked starts a goroutine for every worker in s.working that
// isn't already started; callers must hold s.mu. It is a no-op before
// Start has set s.runCtx.
func (s *Scheduler) spawnNewLocked() {
	if s.runCtx == nil {
		return
	}
	for w := range s.working {
		if _, ok := s.started[w]; ok {
			continue
		}
		s.started[w] = struct{}{}
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(s.runCtx)
		}()
	}
}

// Stop cancels every running worker and clears the pool so a subsequent
// AddHosts/Start starts from a clean slate.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.workers = make(map[time.Duration][]*Worker)
	s.cursor = make(map[time.Duration]int)
	s.working = make(map[*Worker]struct{})
	s.started = make(map[*Worker]struct{})
	s.runCtx = nil
	s.mu.Unlock()
}
