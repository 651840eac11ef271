// Package pool implements the download pool: a fixed number of downloader
// slots, a deduplicating job queue feeding them, and a scheduler goroutine
// that ticks to reassign idle slots.
package pool

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bcdn-project/bcdn/internal/cache"
	"github.com/bcdn-project/bcdn/internal/digest"
	"github.com/bcdn-project/bcdn/internal/downloader"
	"github.com/bcdn-project/bcdn/internal/job"
	"github.com/bcdn-project/bcdn/internal/jobqueue"
	"github.com/bcdn-project/bcdn/internal/rpc"
)

// tickInterval is how often the scheduler polls worker status and drains
// the job queue.
const tickInterval = 100 * time.Millisecond

// State is the state of a requested download as seen from outside the pool.
type State int

const (
	// StateNotStarted means the job has not yet been assigned a slot.
	StateNotStarted State = iota
	// StateInWork means a slot is actively streaming it.
	StateInWork
	// StateDone means the file is on disk and verified (or the job was
	// dropped after a failed attempt, per the configured retry policy).
	StateDone
)

// DownloadState reports a job's lifecycle state as the scheduler sees it.
// The pool does not fill in Downloaded or Size: they are zero in every
// DownloadState it returns, so byte-level progress is not reported.
type DownloadState struct {
	State      State
	Downloaded int64
	Size       int64
}

// Percentage derives a 0-100 completion estimate from Downloaded/Size. It
// returns 100 for StateDone and 0 when Size is not yet known.
func (d DownloadState) Percentage() int {
	switch d.State {
	case StateDone:
		return 100
	case StateInWork:
		if d.Size > 0 {
			return int(100 * d.Downloaded / d.Size)
		}
	}
	return 0
}

type enqueueReq struct {
	key    job.Key
	target job.Target
}

type queryReq struct {
	key job.Key
}

type command struct {
	enqueue *enqueueReq
	query   *queryReq
	quit    bool
}

type reply struct {
	state DownloadState
}

// Pool owns a fixed set of downloader workers and the job queue that feeds
// them, and runs its own scheduler goroutine.
type Pool struct {
	handle rpc.Handle[command, reply]
}

// New starts a Pool with the given number of slots, backed by client for
// outbound requests. caches resolves a job's entry name to the Cache that
// should be promoted on completion. onFailure controls the job queue's
// retry policy.
func New(slots int, client *http.Client, caches map[string]*cache.Cache, onFailure jobqueue.OnFailure) *Pool {
	handle, recv := rpc.New[command, reply]()
	p := &Pool{handle: handle}

	queue := jobqueue.New[job.Key, job.Target](slots, onFailure)
	workers := make([]*downloader.Worker, slots)
	for i := range workers {
		i := i
		workers[i] = downloader.New(client, func(key job.Key, d digest.Digest) {
			if c, ok := caches[key.Entry]; ok {
				c.Promote(d)
			}
			queue.Complete(i)
		})
	}

	go runScheduler(recv, queue, workers)
	return p
}

// Enqueue pushes key into the job queue if it is not already known and
// returns its current state. An Enqueue for an already-known key, including
// one that is Done, does not create a new job.
func (p *Pool) Enqueue(key job.Key, target job.Target) DownloadState {
	r, err := p.handle.Call(command{enqueue: &enqueueReq{key: key, target: target}})
	if err != nil {
		return DownloadState{State: StateNotStarted}
	}
	return r.state
}

// Status reports key's current download state without enqueuing it.
func (p *Pool) Status(key job.Key) DownloadState {
	r, err := p.handle.Call(command{query: &queryReq{key: key}})
	if err != nil {
		return DownloadState{State: StateNotStarted}
	}
	return r.state
}

// Quit stops the scheduler and every worker goroutine.
func (p *Pool) Quit() {
	_, _ = p.handle.Call(command{quit: true})
}

func runScheduler(recv *rpc.Receiver[command, reply], queue *jobqueue.Queue[job.Key, job.Target], workers []*downloader.Worker) {
	defer recv.Close()
	defer func() {
		for _, w := range workers {
			w.Quit()
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		quit := false
		for drained := false; !drained; {
			err := recv.TryReplyOnce(func(c command) reply {
				switch {
				case c.enqueue != nil:
					return reply{state: enqueueLocked(queue, workers, c.enqueue.key, c.enqueue.target)}
				case c.query != nil:
					return reply{state: stateOf(queue, c.query.key)}
				case c.quit:
					quit = true
					return reply{}
				}
				return reply{}
			})
			if err != nil {
				drained = true
			}
		}
		if quit {
			return
		}

		assignIdleSlots(queue, workers)
		pollWorkers(queue, workers)

		<-ticker.C
	}
}

func enqueueLocked(queue *jobqueue.Queue[job.Key, job.Target], workers []*downloader.Worker, key job.Key, target job.Target) DownloadState {
	queue.Push(key, target)
	assignIdleSlots(queue, workers)
	return stateOf(queue, key)
}

func stateOf(queue *jobqueue.Queue[job.Key, job.Target], key job.Key) DownloadState {
	st, known := queue.StateOf(key)
	if !known {
		return DownloadState{State: StateNotStarted}
	}
	switch st {
	case jobqueue.Pending:
		return DownloadState{State: StateNotStarted}
	case jobqueue.Done:
		return DownloadState{State: StateDone}
	default:
		return DownloadState{State: StateInWork}
	}
}

func assignIdleSlots(queue *jobqueue.Queue[job.Key, job.Target], workers []*downloader.Worker) {
	for slot, w := range workers {
		if w.Status().Status != downloader.StatusIdle {
			continue
		}
		key, target, ok := queue.Pop(slot)
		if !ok {
			continue
		}
		if err := w.Start(key, target.URL, target.Path); err != nil {
			log.Error().Err(err).Str("key", key.String()).Msg("pool: failed to start worker")
			queue.Reset(slot)
		}
	}
}

// pollWorkers concurrently queries every worker's status and resets the job
// queue's view of any slot that has gone idle without the worker itself
// reporting completion (a failed download).
func pollWorkers(queue *jobqueue.Queue[job.Key, job.Target], workers []*downloader.Worker) {
	var g errgroup.Group
	statuses := make([]downloader.Report, len(workers))
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			statuses[i] = w.Status()
			return nil
		})
	}
	_ = g.Wait()

	for slot, st := range statuses {
		if st.Status != downloader.StatusIdle {
			continue
		}
		if _, ok := queue.SlotKey(slot); ok {
			queue.Reset(slot)
		}
	}
}
