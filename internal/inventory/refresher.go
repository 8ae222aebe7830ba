package inventory

import (
	"context"
	"time"

	"github.com/door7302/jts-collector/internal/hostmgr"
)

// Scheduler is the subset of *scheduler.Scheduler the refresher drives on
// every reload.
type Scheduler interface {
	AddHosts(hosts map[string]hostmgr.Host, hostTags, cmdTags []string, refresh bool) error
}

// Refresher periodically reloads the inventory file/script and pushes
// the (optionally sharded) result into a Scheduler, mirroring the
// original agent's self-rescheduling timer.
type Refresher struct {
	Path      string
	Retries   int
	RetryWait time.Duration
	ShardID   int
	ShardSize int
	HostTags  []string
	CmdTags   []string
	Interval  time.Duration
	Scheduler Scheduler
}

// Run loads the inventory once immediately, pushes it to the Scheduler,
// then repeats on Interval until ctx is cancelled. The very first load
// is pushed with refresh=false; every subsequent one with refresh=true.
func (r *Refresher) Run(ctx context.Context) error {
	first := true
	for {
		hosts, err := Load(ctx, r.Path, r.Retries, r.RetryWait)
		if err != nil {
			log.WithError(err).Error("inventory refresh failed, keeping previous assignment")
		} else {
			if r.ShardSize > 0 {
				hosts = Shard(hosts, r.ShardID, r.ShardSize)
			}
			if err := r.Scheduler.AddHosts(hosts, r.HostTags, r.CmdTags, !first); err != nil {
				log.WithError(err).Error("unable to push refreshed inventory to scheduler")
			}
			first = false
		}

		if r.Interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Interval):
		}
	}
}
