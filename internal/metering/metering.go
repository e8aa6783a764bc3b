// Package metering counts feature and property evaluations and periodically
// uploads aggregated usage to the service. Recording is a map increment
// behind a mutex; evaluation latency never includes network time.
package metering

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/velum-io/appconfig-go/internal/telemetry"
)

// Kind distinguishes feature from property usage records.
type Kind string

const (
	KindFeature  Kind = "feature"
	KindProperty Kind = "property"
)

// defaultSegment is the wire value for evaluations that used the default
// path instead of a targeting rule.
const defaultSegment = "default"

type usageKey struct {
	kind      Kind
	id        string
	segmentID string
}

type usageEntry struct {
	count int64
	last  time.Time
}

// Config carries the settings for an Aggregator.
type Config struct {
	Uploader      Uploader
	CollectionID  string
	EnvironmentID string
	// Interval between periodic flushes. Defaults to 10 minutes.
	Interval time.Duration
	// MaxTries bounds upload attempts per batch. Defaults to 3.
	MaxTries uint
	// RetryInitial is the first retry delay. Defaults to one second.
	RetryInitial time.Duration
	Logger       zerolog.Logger
	Metrics      *telemetry.Metrics
	// OnError observes batches dropped after retries were exhausted.
	OnError func(error)
}

// Aggregator accumulates usage counts keyed by flag and segment and flushes
// them as one batch per interval. A batch that cannot be uploaded after the
// configured retries is dropped and reported, never merged back.
type Aggregator struct {
	uploader      Uploader
	collectionID  string
	environmentID string
	interval      time.Duration
	maxTries      uint
	retryInitial  time.Duration
	log           zerolog.Logger
	metrics       *telemetry.Metrics
	onError       func(error)

	mu     sync.Mutex
	counts map[usageKey]*usageEntry

	stop   chan struct{}
	done   chan struct{}
	closed int32

	now func() time.Time
}

// New creates an aggregator. Call Start to begin periodic flushing.
func New(cfg Config) *Aggregator {
	interval := cfg.Interval
	if interval == 0 {
		interval = 10 * time.Minute
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}
	retryInitial := cfg.RetryInitial
	if retryInitial == 0 {
		retryInitial = time.Second
	}
	return &Aggregator{
		uploader:      cfg.Uploader,
		collectionID:  cfg.CollectionID,
		environmentID: cfg.EnvironmentID,
		interval:      interval,
		maxTries:      maxTries,
		retryInitial:  retryInitial,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		onError:       cfg.OnError,
		counts:        make(map[usageKey]*usageEntry),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start begins the periodic flush loop.
func (a *Aggregator) Start() {
	go a.loop()
}

// Record counts one evaluation. segmentID is empty when the default path
// decided the outcome. Safe for concurrent use.
func (a *Aggregator) Record(kind Kind, id, segmentID string) {
	k := usageKey{kind: kind, id: id, segmentID: segmentID}
	now := a.now()

	a.mu.Lock()
	e, ok := a.counts[k]
	if !ok {
		e = &usageEntry{}
		a.counts[k] = e
	}
	e.count++
	e.last = now
	a.mu.Unlock()
}

// Flush uploads everything recorded so far as one batch. Records arriving
// during the upload land in the next batch. A batch that still fails after
// the configured retries is dropped and reported through OnError.
func (a *Aggregator) Flush(ctx context.Context) error {
	batch := a.collect()
	if len(batch.Usages) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryInitial
	b.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.uploader.UploadUsage(ctx, batch)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(a.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.log.Warn().Err(err).Dur("retry_in", wait).Msg("usage upload failed")
		}),
	)
	if err != nil {
		dropped := 0
		for _, u := range batch.Usages {
			dropped += int(u.Count)
		}
		a.metrics.RecordMeteringFlush(false)
		a.metrics.RecordMeteringDropped(dropped)
		a.log.Error().Err(err).Int("records", len(batch.Usages)).Int("evaluations", dropped).
			Msg("usage batch dropped after retries")
		if a.onError != nil {
			a.onError(err)
		}
		return err
	}

	a.metrics.RecordMeteringFlush(true)
	a.log.Debug().Int("records", len(batch.Usages)).Msg("usage batch uploaded")
	return nil
}

// Close stops the flush loop and uploads everything still pending. Safe to
// call multiple times.
func (a *Aggregator) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}
	close(a.stop)
	<-a.done
	return a.Flush(ctx)
}

func (a *Aggregator) loop() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = a.Flush(context.Background())
		case <-a.stop:
			return
		}
	}
}

// collect swaps the accumulation map for a fresh one and converts the old
// counts into a wire batch. Usages are sorted for deterministic payloads.
func (a *Aggregator) collect() Batch {
	a.mu.Lock()
	counts := a.counts
	a.counts = make(map[usageKey]*usageEntry)
	a.mu.Unlock()

	usages := make([]Usage, 0, len(counts))
	for k, e := range counts {
		u := Usage{
			EntityType:     string(k.kind),
			SegmentID:      k.segmentID,
			Count:          e.count,
			EvaluationTime: e.last.UTC().Format(time.RFC3339),
		}
		if u.SegmentID == "" {
			u.SegmentID = defaultSegment
		}
		switch k.kind {
		case KindFeature:
			u.FeatureID = k.id
		case KindProperty:
			u.PropertyID = k.id
		}
		usages = append(usages, u)
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].FeatureID != usages[j].FeatureID {
			return usages[i].FeatureID < usages[j].FeatureID
		}
		if usages[i].PropertyID != usages[j].PropertyID {
			return usages[i].PropertyID < usages[j].PropertyID
		}
		return usages[i].SegmentID < usages[j].SegmentID
	})

	return Batch{
		CollectionID:  a.collectionID,
		EnvironmentID: a.environmentID,
		Usages:        usages,
	}
}
