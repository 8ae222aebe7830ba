// Command jts-collector polls a fleet of network devices on a schedule
// (or once, ad hoc) and writes line-protocol points to stdout or an
// HTTP sink.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/door7302/jts-collector/internal/collector"
	"github.com/door7302/jts-collector/internal/hostmgr"
	"github.com/door7302/jts-collector/internal/inventory"
	"github.com/door7302/jts-collector/internal/parser"
	"github.com/door7302/jts-collector/internal/point"
	"github.com/door7302/jts-collector/internal/postprocess"
	"github.com/door7302/jts-collector/internal/scheduler"
)

var log = logrus.WithField("component", "main")

type options struct {
	hostTags       []string
	cmdTags        []string
	console        bool
	start          bool
	inputDir       string
	logLevel       string
	sharding       string
	shardingOffset bool
	parserDir      string
	credsFile      string
	cmdsFile       string
	hostsFile      string
	outputType     string
	outputAddr     string
	refreshSec     int
	maxWorkers     int
	threadsPerWork int
	collectFacts   bool
	reduceKeys     bool
	enrichFile     string
	enrichTagKey   string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "jts-collector",
		Short: "Poll network devices for metrics and emit line-protocol points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringSliceVar(&opts.hostTags, "tag", nil, "collect data from hosts that match the tag")
	flags.StringSliceVar(&opts.cmdTags, "cmd-tag", nil, "collect data from commands that match the tag")
	flags.BoolVarP(&opts.console, "console", "c", false, "enable console logs")
	flags.BoolVarP(&opts.start, "start", "s", false, "run the scheduler instead of a single collection pass")
	flags.StringVarP(&opts.inputDir, "input", "i", ".", "directory where to find input files")
	flags.StringVar(&opts.logLevel, "loglvl", "info", "log verbosity")
	flags.StringVar(&opts.sharding, "sharding", "", "shard_id/shard_size for this agent instance")
	flags.BoolVar(&opts.shardingOffset, "sharding-offset", true, "apply a +1 offset to shard_id")
	flags.StringVar(&opts.parserDir, "parserdir", "parsers", "directory where to find parsers")
	flags.StringVar(&opts.credsFile, "credentials", "credentials.yaml", "credentials catalog file")
	flags.StringVar(&opts.cmdsFile, "commands", "commands.yaml", "command group catalog file")
	flags.StringVar(&opts.hostsFile, "hosts", "hosts.yaml", "inventory file or dynamic inventory script")
	flags.StringVar(&opts.outputType, "output", "stdout", "sink type: stdout or http")
	flags.StringVar(&opts.outputAddr, "output-addr", "", "sink address, required when --output=http")
	flags.IntVar(&opts.refreshSec, "refresh-interval", 300, "seconds between inventory reloads")
	flags.IntVar(&opts.maxWorkers, "max-worker-threads", 1, "maximum worker goroutines per polling interval")
	flags.IntVar(&opts.threadsPerWork, "threads-per-worker", 10, "concurrent hosts collected per worker tick")
	flags.BoolVar(&opts.collectFacts, "collect-facts", true, "collect device facts (hostname/model/version) before polling")
	flags.BoolVar(&opts.reduceKeys, "reduce-xpath-keys", true, "shorten XPath-shaped tag/field keys to their last element")
	flags.StringVar(&opts.enrichFile, "enrich-file", "", "JSON file of tag-key -> extra tags to merge onto every point")
	flags.StringVar(&opts.enrichTagKey, "enrich-tag-key", "device", "tag used to look up entries in --enrich-file")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("jts-collector exited with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	if lvl, err := logrus.ParseLevel(opts.logLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	if !opts.console {
		logrus.SetOutput(os.Stderr)
	}

	sink, err := buildSink(opts)
	if err != nil {
		return err
	}

	creds, err := loadCredentials(filepath.Join(opts.inputDir, opts.credsFile))
	if err != nil {
		return err
	}
	cmds, err := loadCommands(filepath.Join(opts.inputDir, opts.cmdsFile))
	if err != nil {
		return err
	}

	hosts, err := hostmgr.New(creds, cmds)
	if err != nil {
		return fmt.Errorf("building host catalog: %w", err)
	}

	parsers, err := parser.Load(filepath.Join(opts.inputDir, opts.parserDir))
	if err != nil {
		return fmt.Errorf("loading parsers: %w", err)
	}

	coll := collector.New(hosts, parsers, sink)
	coll.CollectFacts = opts.collectFacts
	coll.MaxConcurrentHosts = opts.threadsPerWork
	coll.Postprocess = buildPostprocess(opts)

	shardID, shardSize := parseSharding(opts.sharding, opts.shardingOffset)

	if opts.start {
		sched := scheduler.New(hosts, coll, sink)
		sched.MaxWorkersPerInterval = opts.maxWorkers

		refresher := &inventory.Refresher{
			Path:      filepath.Join(opts.inputDir, opts.hostsFile),
			Retries:   3,
			RetryWait: 5 * time.Second,
			ShardID:   shardID,
			ShardSize: shardSize,
			HostTags:  opts.hostTags,
			CmdTags:   opts.cmdTags,
			Interval:  time.Duration(opts.refreshSec) * time.Second,
			Scheduler: sched,
		}
		go func() {
			if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("inventory refresher stopped")
			}
		}()

		sched.Start(ctx)
		return nil
	}

	return runOnce(ctx, opts, hosts, coll, sink, shardID, shardSize)
}

// runOnce resolves the inventory exactly once and runs a single
// collection pass across every selected host, on its own goroutine per
// host, then emits one agent-level stats point summarizing the pass.
func runOnce(ctx context.Context, opts *options, hosts *hostmgr.Manager, coll *collector.Collector, sink point.Sink, shardID, shardSize int) error {
	start := time.Now()

	loaded, err := inventory.Load(ctx, filepath.Join(opts.inputDir, opts.hostsFile), 3, 5*time.Second)
	if err != nil {
		return err
	}
	if shardSize > 0 {
		loaded = inventory.Shard(loaded, shardID, shardSize)
	}
	if err := hosts.UpdateHosts(loaded); err != nil {
		return err
	}

	hostTags := opts.hostTags
	if len(hostTags) == 0 {
		hostTags = []string{".*"}
	}
	targets := hosts.GetTargetHosts(hostTags)

	if err := coll.CollectByTags(ctx, "one-shot", targets, opts.cmdTags); err != nil {
		return err
	}

	pt := point.New("metric_collector_stats_agent")
	pt.Timestamp = time.Now()
	pt.MergeTags(point.EnvTags())
	pt.SetField("execution_time_sec", time.Since(start).Seconds())
	pt.SetField("nbr_hosts", len(targets))
	return sink.Write(ctx, []point.Point{pt})
}

// buildPostprocess assembles the optional point-shaping pipeline from the
// flags the operator enabled; it returns a *postprocess.Pipeline even
// when every stage is disabled, since an empty pipeline is a no-op.
func buildPostprocess(opts *options) *postprocess.Pipeline {
	var stages []postprocess.Processor
	if opts.reduceKeys {
		stages = append(stages, &postprocess.XReducer{
			Tags:   []postprocess.XReduceKey{{Key: "all"}},
			Fields: []postprocess.XReduceKey{{Key: "all"}},
		})
	}
	if opts.enrichFile != "" {
		stages = append(stages, &postprocess.Enrichment{
			FilePath:      opts.enrichFile,
			Level1TagKey:  opts.enrichTagKey,
			RefreshPeriod: time.Hour,
		})
	}
	return postprocess.New(stages...)
}

func buildSink(opts *options) (point.Sink, error) {
	switch opts.outputType {
	case "", "stdout":
		return point.NewStdoutSink(), nil
	case "http":
		if opts.outputAddr == "" {
			return nil, fmt.Errorf("--output-addr is required when --output=http")
		}
		return point.NewHTTPSink(opts.outputAddr), nil
	default:
		return nil, fmt.Errorf("unknown output type %q", opts.outputType)
	}
}

func loadCredentials(path string) (map[string]hostmgr.Credential, error) {
	var raw map[string]struct {
		Tags     interface{} `yaml:"tags"`
		Username string      `yaml:"username"`
		Method   string      `yaml:"method"`
		Password string      `yaml:"password"`
		KeyFile  string      `yaml:"key-file"`
		Port     int         `yaml:"port"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}

	out := make(map[string]hostmgr.Credential, len(raw))
	for name, c := range raw {
		tags, _ := hostmgr.ParseTags(c.Tags)
		out[name] = hostmgr.Credential{
			Tags:     tags,
			Username: c.Username,
			Method:   hostmgr.AuthMethod(c.Method),
			Password: c.Password,
			KeyFile:  c.KeyFile,
			Port:     c.Port,
		}
	}
	return out, nil
}

func loadCommands(path string) (map[string]hostmgr.CommandGroup, error) {
	var raw map[string]struct {
		Tags     interface{} `yaml:"tags"`
		Commands []string    `yaml:"commands"`
		Interval int         `yaml:"interval-secs"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading commands file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing commands file %s: %w", path, err)
	}

	out := make(map[string]hostmgr.CommandGroup, len(raw))
	for name, c := range raw {
		tags, _ := hostmgr.ParseTags(c.Tags)
		interval := time.Duration(c.Interval) * time.Second
		out[name] = hostmgr.CommandGroup{
			Tags:     tags,
			Commands: c.Commands,
			Interval: interval,
		}
	}
	return out, nil
}

// parseSharding splits a "shard_id/shard_size" flag value, applying the
// +1 offset the original agent defaults to so shard ids can be supplied
// zero-based by an orchestrator (e.g. a Nomad NOMAD_ALLOC_INDEX).
func parseSharding(sharding string, offset bool) (shardID, shardSize int) {
	if sharding == "" {
		return 0, 0
	}
	var id, size int
	if _, err := fmt.Sscanf(sharding, "%d/%d", &id, &size); err != nil {
		log.WithField("sharding", sharding).WithError(err).Error("invalid sharding parameter, ignoring")
		return 0, 0
	}
	if offset {
		id++
	}
	return id, size
}
