package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pricewise/models"
	"pricewise/scraper"

	"github.com/google/uuid"
)

// Policy bounds one fan-out. It is passed per call so concurrent searches can differ.
type Policy struct {
	Budget         time.Duration
	AttemptTimeout time.Duration // 0 lets an attempt use the whole remaining budget
	Grace          time.Duration
	MaxInFlight    int
	RetryCeiling   int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Budget <= 0 {
		p.Budget = 30 * time.Second
	}
	if p.MaxInFlight <= 0 {
		p.MaxInFlight = 4
	}
	if p.RetryCeiling < 0 {
		p.RetryCeiling = 0
	}
	if p.Grace < 0 {
		p.Grace = 0
	}
	return p
}

// RunRecorder receives one record per adapter invocation. The run id passed to
// RunStarted is the ID of the ScrapeRun later given to RecordRun. Implementations
// must be safe for concurrent use and must not block.
type RunRecorder interface {
	RunStarted(runID, siteID, siteName string, at time.Time)
	RecordRun(run models.ScrapeRun)
}

type noopRecorder struct{}

func (noopRecorder) RunStarted(string, string, string, time.Time) {}
func (noopRecorder) RecordRun(models.ScrapeRun)                   {}

// Result is whatever the adapters produced, in adapter order
type Result struct {
	Listings []models.RawListing
	Statuses []models.AdapterStatus
}

// Succeeded counts adapters that returned without error
func (r Result) Succeeded() int {
	n := 0
	for _, s := range r.Statuses {
		if s.State == models.JobSucceeded {
			n++
		}
	}
	return n
}

// FailedSources lists adapters that failed or timed out
func (r Result) FailedSources() []string {
	var ids []string
	for _, s := range r.Statuses {
		if s.State != models.JobSucceeded {
			ids = append(ids, s.SiteID)
		}
	}
	return ids
}

// Orchestrator runs site adapters concurrently
type Orchestrator struct {
	recorder RunRecorder
	jitter   func() float64
	now      func() time.Time
}

// New creates an orchestrator; recorder may be nil
func New(recorder RunRecorder) *Orchestrator {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Orchestrator{recorder: recorder, now: time.Now}
}

type outcome struct {
	index    int
	job      *models.ScrapeJob
	listings []models.RawListing
}

// Fetch runs every adapter for query and returns once all of them are terminal or
// the budget plus grace has elapsed. It never fails: errors are reported per adapter.
func (o *Orchestrator) Fetch(ctx context.Context, query, region string, adapters []scraper.Adapter, policy Policy) Result {
	policy = policy.withDefaults()
	start := o.now()

	ctx, cancel := context.WithTimeout(ctx, policy.Budget)
	defer cancel()

	sem := make(chan struct{}, policy.MaxInFlight)
	// one slot per adapter so late finishers never block
	results := make(chan outcome, len(adapters))
	runIDs := make([]string, len(adapters))
	for i, a := range adapters {
		runIDs[i] = uuid.NewString()
		i, a := i, a
		go func() {
			results <- o.run(ctx, i, runIDs[i], a, query, region, policy, sem)
		}()
	}

	slots := make([]*outcome, len(adapters))
	remaining := len(adapters)
	remaining = collect(ctx.Done(), results, slots, remaining)
	if remaining > 0 && policy.Grace > 0 {
		grace, cancelGrace := context.WithTimeout(context.Background(), policy.Grace)
		remaining = collect(grace.Done(), results, slots, remaining)
		cancelGrace()
	}

	res := Result{Statuses: make([]models.AdapterStatus, 0, len(adapters))}
	for i, a := range adapters {
		out := slots[i]
		if out == nil {
			out = &outcome{index: i, job: abandoned(a, query, region, policy, start)}
		}
		job := out.job

		res.Listings = append(res.Listings, out.listings...)
		res.Statuses = append(res.Statuses, models.AdapterStatus{
			SiteID:   a.ID(),
			SiteName: a.Name(),
			State:    job.State,
			Attempts: job.Attempts,
			Listings: len(out.listings),
			Duration: job.Duration().Seconds(),
			Error:    job.ErrorMessage(),
		})
		o.recorder.RecordRun(o.runRecord(runIDs[i], a, job, len(out.listings), start))

		if job.State != models.JobSucceeded {
			log.Printf("❌ %s %s after %d attempt(s): %s", a.ID(), job.State, job.Attempts, job.ErrorMessage())
		}
	}

	log.Printf("🔍 %q (%s): %d listings from %d/%d sources in %v",
		query, regionLabel(region), len(res.Listings), res.Succeeded(), len(adapters), o.now().Sub(start).Round(time.Millisecond))
	return res
}

func collect(done <-chan struct{}, results <-chan outcome, slots []*outcome, remaining int) int {
	for remaining > 0 {
		select {
		case out := <-results:
			slots[out.index] = &out
			remaining--
		case <-done:
			return remaining
		}
	}
	return remaining
}

// run drives one adapter through its job state machine
func (o *Orchestrator) run(ctx context.Context, index int, runID string, a scraper.Adapter, query, region string, policy Policy, sem chan struct{}) outcome {
	job := models.NewScrapeJob(a.ID(), query, region, policy.RetryCeiling)
	backoff := Backoff{Base: policy.BackoffBase, Max: policy.BackoffMax, Jitter: o.jitter}

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			job.TimeOut(timeoutError(a, ctx.Err(), job.Err))
			return outcome{index: index, job: job}
		}
		if ctx.Err() != nil {
			<-sem
			job.TimeOut(timeoutError(a, ctx.Err(), job.Err))
			return outcome{index: index, job: job}
		}

		job.Start()
		if job.Attempts == 1 {
			o.recorder.RunStarted(runID, a.ID(), a.Name(), o.now())
		}
		listings, err := o.attempt(ctx, a, query, region, policy.AttemptTimeout)
		<-sem

		if err == nil && ctx.Err() != nil {
			// returned after the budget ran out, listings arrive too late to count
			job.TimeOut(timeoutError(a, ctx.Err(), nil))
			return outcome{index: index, job: job}
		}
		if err == nil {
			job.Succeed()
			return outcome{index: index, job: job, listings: o.stamp(a, listings)}
		}
		if ctx.Err() != nil {
			job.TimeOut(timeoutError(a, ctx.Err(), err))
			return outcome{index: index, job: job}
		}

		job.Fail(err)
		if !job.CanRetry() {
			return outcome{index: index, job: job}
		}
		job.Retry()

		delay := backoff.Delay(job.Attempts)
		log.Printf("🔄 %s attempt %d failed (%v), retrying in %v", a.ID(), job.Attempts, err, delay.Round(time.Millisecond))
		if sleep(ctx, delay) != nil {
			job.TimeOut(timeoutError(a, ctx.Err(), err))
			return outcome{index: index, job: job}
		}
	}
}

// attempt performs a single adapter call, converting panics and untyped errors
func (o *Orchestrator) attempt(ctx context.Context, a scraper.Adapter, query, region string, timeout time.Duration) (listings []models.RawListing, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			listings = nil
			err = models.NewAdapterError(a.ID(), models.KindParse, 0, fmt.Errorf("adapter panic: %v", r))
		}
	}()

	listings, err = a.Search(ctx, query, region)
	if err != nil {
		var adapterErr *models.AdapterError
		if !errors.As(err, &adapterErr) {
			err = models.NewAdapterError(a.ID(), models.KindTransport, 0, err)
		}
		return nil, err
	}
	return listings, nil
}

// stamp fills identity fields an adapter left empty
func (o *Orchestrator) stamp(a scraper.Adapter, listings []models.RawListing) []models.RawListing {
	now := o.now()
	out := make([]models.RawListing, len(listings))
	for i, l := range listings {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if l.StoreID == "" {
			l.StoreID = a.ID()
		}
		if l.StoreName == "" {
			l.StoreName = a.Name()
		}
		if l.ScrapedAt.IsZero() {
			l.ScrapedAt = now
		}
		out[i] = l
	}
	return out
}

func (o *Orchestrator) runRecord(runID string, a scraper.Adapter, job *models.ScrapeJob, listings int, fetchStart time.Time) models.ScrapeRun {
	started := fetchStart
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	finished := o.now()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	return models.ScrapeRun{
		ID:           runID,
		SiteID:       a.ID(),
		SiteName:     a.Name(),
		Query:        job.Query,
		Region:       job.Region,
		Status:       job.RunStatus(),
		ListingCount: listings,
		Attempts:     job.Attempts,
		Duration:     finished.Sub(started),
		Error:        job.ErrorMessage(),
		StartedAt:    started,
		FinishedAt:   finished,
	}
}

// abandoned builds the job for an adapter that did not report back within budget and grace
func abandoned(a scraper.Adapter, query, region string, policy Policy, start time.Time) *models.ScrapeJob {
	job := models.NewScrapeJob(a.ID(), query, region, policy.RetryCeiling)
	job.StartedAt = &start
	job.TimeOut(models.NewAdapterError(a.ID(), models.KindTimeout, 0,
		fmt.Errorf("no result within %v budget", policy.Budget)))
	return job
}

func timeoutError(a scraper.Adapter, ctxErr, last error) error {
	if last != nil {
		return models.NewAdapterError(a.ID(), models.KindTimeout, 0, fmt.Errorf("%w (last error: %v)", ctxErr, last))
	}
	return models.NewAdapterError(a.ID(), models.KindTimeout, 0, ctxErr)
}

func regionLabel(region string) string {
	if region == "" {
		return "international"
	}
	return region
}
