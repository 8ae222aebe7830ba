// Package collector drives one poll pass over a set of hosts: connect,
// gather facts, execute each assigned command through the parser
// registry, and emit the resulting points plus a per-host stats point to
// a sink.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/door7302/jts-collector/internal/hostmgr"
	"github.com/door7302/jts-collector/internal/point"
	"github.com/door7302/jts-collector/internal/session"
)

const measurementPrefix = "metric_collector"

var log = logrus.WithField("component", "collector")

// Hosts resolves host/credential/command catalog lookups; satisfied by
// *hostmgr.Manager.
type Hosts interface {
	GetTargetCommands(host string, tags []string) ([]hostmgr.CommandGroup, error)
	GetCredentials(host string) (hostmgr.Credential, bool)
	GetAddress(host string) (string, bool)
	GetContext(host string) []map[string]string
	GetDeviceType(host string) string
}

// Parsers parses a command's raw reply into points; satisfied by
// *parser.Registry.
type Parsers interface {
	Parse(command string, raw []byte) ([]point.Point, error)
}

// Postprocessor runs an optional shaping stage (filtering, derived
// fields, tag enrichment) over a pass's points before they reach the
// sink; satisfied by *postprocess.Pipeline.
type Postprocessor interface {
	Apply(points []point.Point) []point.Point
}

// Collector wires the host catalog and parser registry to a device
// session per host, per poll pass.
type Collector struct {
	Hosts        Hosts
	Parsers      Parsers
	Sink         point.Sink
	Postprocess  Postprocessor
	CollectFacts bool
	Retry        int
	RetryWait    time.Duration

	// MaxConcurrentHosts bounds how many hosts are collected in parallel
	// during a single pass; at most this many sessions are open at once.
	MaxConcurrentHosts int

	// NewSession constructs the device session for a host; overridable in
	// tests, defaults to session.New.
	NewSession func(cfg session.Config) (session.Session, error)
}

// New returns a Collector with NewSession defaulted to session.New.
func New(hosts Hosts, parsers Parsers, sink point.Sink) *Collector {
	return &Collector{
		Hosts:              hosts,
		Parsers:            parsers,
		Sink:               sink,
		CollectFacts:       true,
		MaxConcurrentHosts: 10,
		NewSession:         session.New,
	}
}

// Collect runs one pass over hostCmds (host -> assigned commands), with
// up to MaxConcurrentHosts hosts collected concurrently, then writes
// every point it produced (plus one host_collector_stats point per
// host) to the sink in a single batch. It never returns an error for a
// single unreachable host or failed command: those degrade into stats
// fields.
func (c *Collector) Collect(ctx context.Context, workerName string, hostCmds map[string][]string) error {
	if len(hostCmds) == 0 {
		return fmt.Errorf("collector: nothing to collect")
	}

	limit := c.MaxConcurrentHosts
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var mu sync.Mutex
	var all []point.Point
	var wg sync.WaitGroup

	for host, commands := range hostCmds {
		host, commands := host, commands
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			pts := c.collectHost(ctx, workerName, host, commands)
			mu.Lock()
			all = append(all, pts...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if c.Postprocess != nil {
		all = c.Postprocess.Apply(all)
	}

	if c.Sink != nil {
		if err := c.Sink.Write(ctx, all); err != nil {
			log.WithField("worker", workerName).WithError(err).Error("writing points failed")
		}
	}
	return nil
}

// CollectByTags resolves each host's command list from its tag-matched
// command groups before running Collect, mirroring the hosts-only entry
// point of the original agent.
func (c *Collector) CollectByTags(ctx context.Context, workerName string, hosts []string, cmdTags []string) error {
	if len(cmdTags) == 0 {
		cmdTags = []string{".*"}
	}
	hostCmds := make(map[string][]string, len(hosts))
	for _, host := range hosts {
		groups, err := c.Hosts.GetTargetCommands(host, cmdTags)
		if err != nil {
			log.WithField("host", host).WithError(err).Warn("unable to resolve commands, skipping")
			continue
		}
		var cmds []string
		for _, g := range groups {
			cmds = append(cmds, g.Commands...)
		}
		hostCmds[host] = cmds
	}
	return c.Collect(ctx, workerName, hostCmds)
}

func (c *Collector) collectHost(ctx context.Context, workerName, host string, commands []string) []point.Point {
	var points []point.Point
	reachable := false
	var cmdOK, cmdErr int
	var elapsed time.Duration

	cred, _ := c.Hosts.GetCredentials(host)
	address, _ := c.Hosts.GetAddress(host)
	hostContext := c.Hosts.GetContext(host)
	deviceType := c.Hosts.GetDeviceType(host)

	sess, err := c.NewSession(session.Config{
		Host:       host,
		Address:    address,
		DeviceType: deviceType,
		Credential: cred,
		Context:    hostContext,
		Retry:      c.Retry,
		RetryWait:  c.RetryWait,
	})
	if err != nil {
		log.WithField("host", host).WithError(err).Error("unable to build session")
		return []point.Point{c.statsPoint(host, workerName, hostContext, false, 0, 0, 0)}
	}

	if err := sess.Connect(ctx); err != nil {
		log.WithField("host", host).WithError(err).Error("unable to connect, skipping")
	} else if sess.IsConnected() {
		reachable = true
		if c.CollectFacts {
			if err := sess.CollectFacts(ctx); err != nil {
				log.WithField("host", host).WithError(err).Warn("unable to collect facts")
			}
		}
	}

	if reachable {
		start := time.Now()
		for _, command := range commands {
			log.WithField("host", host).WithField("command", command).Info("collecting")
			raw, err := sess.Execute(ctx, command)
			if err != nil {
				cmdErr++
				log.WithField("host", host).WithField("command", command).WithError(err).Error("collection failed")
				continue
			}
			pts, err := c.Parsers.Parse(command, raw)
			if err != nil {
				cmdErr++
				log.WithField("host", host).WithField("command", command).WithError(err).Error("parsing failed")
				continue
			}
			cmdOK++
			now := time.Now()
			for i := range pts {
				pts[i].Timestamp = now
				stampContext(&pts[i], hostContext, sess.Facts())
			}
			points = append(points, pts...)
		}
		elapsed = time.Since(start)
		sess.Close()
	}

	hostname := sess.Facts().Hostname
	if hostname == "" {
		hostname = host
	}
	stats := c.statsPoint(hostname, workerName, hostContext, reachable, elapsed, cmdOK, cmdErr)
	points = append(points, stats)
	return points
}

func stampContext(pt *point.Point, hostContext []map[string]string, facts session.Facts) {
	pt.MergeTags(hostmgr.FlattenContext(hostContext))
	pt.SetTag("device", facts.Hostname)
}

// statsPoint's device tag uses hostname (the session's resolved facts
// hostname, falling back to the catalog key when no session was ever
// built) rather than the raw catalog key, so this stats point and every
// data point collected in the same pass agree on device identity even
// when NETCONF hostname substitution (Config.UseHostname) fires.
func (c *Collector) statsPoint(hostname, workerName string, hostContext []map[string]string, reachable bool, elapsed time.Duration, cmdOK, cmdErr int) point.Point {
	pt := point.New(measurementPrefix + "_host_collector_stats")
	pt.Timestamp = time.Now()
	pt.SetTag("device", hostname)
	pt.SetTag("worker_name", workerName)
	pt.MergeTags(hostmgr.FlattenContext(hostContext))
	pt.MergeTags(point.EnvTags())

	pt.SetField("execution_time_sec", elapsed.Seconds())
	pt.SetField("nbr_commands", cmdOK+cmdErr)
	pt.SetField("nbr_successful_commands", cmdOK)
	pt.SetField("nbr_error_commands", cmdErr)
	if reachable {
		pt.SetField("reacheable", 1)
		pt.SetField("unreacheable", 0)
	} else {
		pt.SetField("reacheable", 0)
		pt.SetField("unreacheable", 1)
	}
	return pt
}
