package recording

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// Dispatcher defaults.
const (
	DefaultWorkers        = 2
	DefaultQueueSize      = 32
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = time.Minute
)

// Job is a recording written to disk and awaiting delivery.
type Job struct {
	SessionID string
	Path      string
	Name      string
	Metadata  types.Metadata
	StartedAt time.Time
	Duration  time.Duration
	Size      int64
	Attempts  int
}

// Outcome classifies a dispatcher result.
type Outcome string

const (
	// OutcomeDelivered means the server accepted the call.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRetrying means an attempt failed transiently and another follows.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means delivery was abandoned; the file is kept.
	OutcomeFailed Outcome = "failed"
	// OutcomeDropped means the queue overflowed; the file is kept without an upload attempt.
	OutcomeDropped Outcome = "dropped"
	// OutcomeDiscarded means there was nothing to encode.
	OutcomeDiscarded Outcome = "discarded"
)

// Result reports what happened to a session.
type Result struct {
	Job      Job
	Outcome  Outcome
	Err      error
	Retained bool // Artifact left on disk
	Archived bool // Copy stored in the S3 archive
}

// Settings are read by the dispatcher each time it handles a session.
type Settings struct {
	Target         Target
	Dir            string
	MaxAttempts    int
	Normalize      bool
	KeepRecordings bool
	RetentionDays  int
	Archive        types.S3Config
}

// Options configures a Dispatcher. Zero values select the defaults.
type Options struct {
	Workers        int
	QueueSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Client         *Client
	// OnResult is called from worker goroutines for every result.
	OnResult func(Result)
	// OnCleanup is called after each retention pass with the number of
	// local files and archived objects removed.
	OnCleanup func(local, archived int)
}

// Dispatcher encodes finished sessions and uploads them on a worker pool.
// Submit never blocks on I/O. It is safe for concurrent use.
type Dispatcher struct {
	settings func() Settings
	opts     Options
	client   *Client
	archive  *Archiver

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*Session
	inFlight int
	closed   bool
	lastErr  string

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	spills  sync.WaitGroup

	cleanupStopCh chan struct{}
}

// NewDispatcher returns a dispatcher; call Start to launch its workers.
func NewDispatcher(settings func() Settings, opts Options) *Dispatcher {
	opts.Workers = cmp.Or(opts.Workers, DefaultWorkers)
	opts.QueueSize = cmp.Or(opts.QueueSize, DefaultQueueSize)
	opts.InitialBackoff = cmp.Or(opts.InitialBackoff, DefaultInitialBackoff)
	opts.MaxBackoff = cmp.Or(opts.MaxBackoff, DefaultMaxBackoff)

	client := opts.Client
	if client == nil {
		client = NewClient(DefaultUploadTimeout, "rdio-vox")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		settings:      settings,
		opts:          opts,
		client:        client,
		archive:       NewArchiver(),
		ctx:           ctx,
		cancel:        cancel,
		cleanupStopCh: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the worker pool and the daily retention cleanup.
func (d *Dispatcher) Start() {
	for range d.opts.Workers {
		d.workers.Add(1)
		go d.worker()
	}
	d.startCleanupScheduler()
	slog.Info("upload dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Submit queues a finished session for delivery.
// When the queue is full the oldest waiting session is written to disk without
// an upload attempt and reported as dropped.
func (d *Dispatcher) Submit(s *Session) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}

	var overflow *Session
	if len(d.pending) >= d.opts.QueueSize {
		overflow = d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.spills.Add(1)
	}
	d.pending = append(d.pending, s)
	d.cond.Signal()
	d.mu.Unlock()

	if overflow != nil {
		slog.Warn("upload queue full, dropping oldest recording from upload",
			"session", overflow.ID, "queue_size", d.opts.QueueSize)
		go d.spill(overflow)
	}
	return nil
}

// Close stops accepting sessions and waits for queued work to finish.
// When ctx ends first, in-flight uploads are cancelled and every remaining
// session is still written to disk before Close returns.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	close(d.cleanupStopCh)

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.spills.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("upload dispatcher shutdown timed out, cancelling uploads")
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns a snapshot of queue depth and delivery counters.
func (d *Dispatcher) Stats() types.UploadStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.UploadStats{
		Pending:   len(d.pending),
		InFlight:  d.inFlight,
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		LastError: d.lastErr,
	}
}

// TestConnection probes the configured server with a test call.
func (d *Dispatcher) TestConnection(ctx context.Context, meta types.Metadata) error {
	return d.client.Probe(ctx, d.settings().Target, meta)
}

// TestArchive checks that the configured S3 bucket accepts writes.
func (d *Dispatcher) TestArchive(ctx context.Context) error {
	return TestS3Connection(ctx, d.settings().Archive)
}

// worker processes sessions until the dispatcher is closed and drained.
func (d *Dispatcher) worker() {
	defer d.workers.Done()

	for {
		s, ok := d.next()
		if !ok {
			return
		}
		d.process(s)

		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}
}

// next blocks for the next session. It reports false once closed and empty.
func (d *Dispatcher) next() (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.pending) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.pending) == 0 {
		return nil, false
	}

	s := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	d.inFlight++
	return s, true
}

// process writes the session to disk and delivers it.
func (d *Dispatcher) process(s *Session) {
	set := d.settings()

	job, err := d.persist(s, set)
	if err != nil {
		d.reportPersistError(s, err)
		return
	}

	d.deliver(job)
}

// spill writes an overflowed session to disk without uploading it.
func (d *Dispatcher) spill(s *Session) {
	defer d.spills.Done()

	job, err := d.persist(s, d.settings())
	if err != nil {
		d.reportPersistError(s, err)
		return
	}

	d.dropped.Add(1)
	d.setLastError(fmt.Sprintf("upload queue full, kept %s", job.Name))
	d.report(Result{Job: job, Outcome: OutcomeDropped, Retained: true})
}

// persist encodes a session and writes it atomically into the recordings directory.
func (d *Dispatcher) persist(s *Session, set Settings) (Job, error) {
	job := Job{
		SessionID: s.ID,
		Name:      s.Filename(),
		Metadata:  s.Metadata,
		StartedAt: s.StartedAt,
		Duration:  s.Duration(),
	}

	data, err := EncodeSession(s, set.Normalize)
	if err != nil {
		return job, err
	}

	dir := cmp.Or(set.Dir, DefaultRecordingsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return job, util.WrapError("create recordings directory", err)
	}

	job.Path = filepath.Join(dir, job.Name)
	tmp := job.Path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return job, util.WrapError("write recording", err)
	}
	if err := os.Rename(tmp, job.Path); err != nil {
		_ = os.Remove(tmp)
		return job, util.WrapError("finalize recording", err)
	}
	job.Size = int64(len(data))

	slog.Info("recording written", "file", job.Name, "duration", job.Duration, "bytes", job.Size)
	return job, nil
}

// deliver uploads a job, retrying transient failures with exponential backoff.
func (d *Dispatcher) deliver(job Job) {
	backoff := util.NewBackoff(d.opts.InitialBackoff, d.opts.MaxBackoff)

	var err error
	for {
		set := d.settings()
		maxAttempts := max(set.MaxAttempts, 1)

		job.Attempts++
		err = d.client.Upload(d.ctx, set.Target, &job)
		if err == nil {
			d.onDelivered(job, set)
			return
		}

		if IsPermanent(err) || job.Attempts >= maxAttempts || d.ctx.Err() != nil {
			break
		}

		slog.Warn("upload attempt failed, retrying",
			"file", job.Name, "attempt", job.Attempts, "max_attempts", maxAttempts, "error", err)
		d.report(Result{Job: job, Outcome: OutcomeRetrying, Err: err, Retained: true})

		if werr := backoff.Wait(d.ctx); werr != nil {
			break
		}
	}

	d.failed.Add(1)
	d.setLastError(fmt.Sprintf("%s: %v", job.Name, err))
	slog.Error("upload failed, recording kept",
		"file", job.Name, "path", job.Path, "attempts", job.Attempts,
		"permanent", IsPermanent(err), "error", err)
	d.report(Result{Job: job, Outcome: OutcomeFailed, Err: err, Retained: true})
}

// onDelivered archives the file when configured and removes it unless kept.
func (d *Dispatcher) onDelivered(job Job, set Settings) {
	d.delivered.Add(1)
	result := Result{Job: job, Outcome: OutcomeDelivered}

	if set.Archive.IsConfigured() {
		ctx, cancel := context.WithTimeoutCause(d.ctx, 5*time.Minute, errors.New("archive upload timeout"))
		key, err := d.archive.Put(ctx, set.Archive, job)
		cancel()
		if err != nil {
			slog.Warn("archive upload failed", "file", job.Name, "error", err)
		} else {
			result.Archived = true
			slog.Debug("recording archived", "file", job.Name, "key", key)
		}
	}

	if set.KeepRecordings {
		result.Retained = true
	} else if err := os.Remove(job.Path); err != nil {
		slog.Warn("failed to delete recording after upload", "path", job.Path, "error", err)
		result.Retained = true
	}

	slog.Info("upload completed", "file", job.Name, "attempts", job.Attempts)
	d.report(result)
}

func (d *Dispatcher) reportPersistError(s *Session, err error) {
	job := Job{SessionID: s.ID, Name: s.Filename(), Metadata: s.Metadata, StartedAt: s.StartedAt}
	if errors.Is(err, ErrEmptyPayload) {
		slog.Warn("discarding empty recording", "session", s.ID)
		d.report(Result{Job: job, Outcome: OutcomeDiscarded, Err: err})
		return
	}

	d.failed.Add(1)
	d.setLastError(err.Error())
	slog.Error("failed to write recording", "session", s.ID, "error", err)
	d.report(Result{Job: job, Outcome: OutcomeFailed, Err: err})
}

func (d *Dispatcher) setLastError(msg string) {
	d.mu.Lock()
	d.lastErr = msg
	d.mu.Unlock()
}

func (d *Dispatcher) report(r Result) {
	if d.opts.OnResult != nil {
		d.opts.OnResult(r)
	}
}
