package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vkharvest/pkg/checkpoint"
	"vkharvest/pkg/config"
	vkerrors "vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/metrics"
	"vkharvest/pkg/models"
	"vkharvest/pkg/ratelimit"
	"vkharvest/pkg/retry"
	"vkharvest/pkg/vk"
)

const (
	defaultPageSize             = vk.MaxPageSize
	defaultRequestBurst         = 3
	defaultRequestSleepInterval = time.Second
	defaultRateSleepInterval    = 300 * time.Second
	defaultTransportSleep       = 300 * time.Second
	defaultTransientSleep       = 5 * time.Second
	checkpointSaveAttempts      = 3
)

// ErrNoSolver is returned when a captcha arrives and no solver is wired
var ErrNoSolver = errors.New("captcha challenge received but no solver is configured")

// Options tunes the loop. Zero values take the defaults.
type Options struct {
	Sources              []string
	PageSize             int
	RequestBurst         int
	RequestSleepInterval time.Duration
	RateSleepInterval    time.Duration
	TransportSleep       time.Duration
	TransientSleep       time.Duration
	ProfileChunkSize     int
	FetchProfiles        bool
}

// OptionsFromConfig maps the crawl section of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Sources:              cfg.Crawl.Sources,
		PageSize:             cfg.Crawl.PageSize,
		RequestBurst:         cfg.Crawl.RequestBurst,
		RequestSleepInterval: cfg.Crawl.RequestSleepInterval,
		RateSleepInterval:    cfg.Crawl.RateSleepInterval,
		TransportSleep:       cfg.Crawl.TransportSleep,
		TransientSleep:       cfg.Crawl.TransientSleep,
		ProfileChunkSize:     cfg.Crawl.ProfileChunkSize,
		FetchProfiles:        cfg.Crawl.FetchProfiles,
	}
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 || o.PageSize > vk.MaxPageSize {
		o.PageSize = defaultPageSize
	}
	if o.RequestBurst <= 0 {
		o.RequestBurst = defaultRequestBurst
	}
	if o.RequestSleepInterval <= 0 {
		o.RequestSleepInterval = defaultRequestSleepInterval
	}
	if o.RateSleepInterval <= 0 {
		o.RateSleepInterval = defaultRateSleepInterval
	}
	if o.TransportSleep <= 0 {
		o.TransportSleep = defaultTransportSleep
	}
	if o.TransientSleep <= 0 {
		o.TransientSleep = defaultTransientSleep
	}
	if o.ProfileChunkSize <= 0 || o.ProfileChunkSize > vk.MaxProfileIDs {
		o.ProfileChunkSize = vk.MaxProfileIDs
	}
	return o
}

// Dependencies wires the loop to its collaborators. Client, Checkpoints
// and Output are required.
type Dependencies struct {
	Client      Client
	Checkpoints CheckpointStore
	Output      Output
	Solver      Solver
	Notifier    Notifier
	Sleeper     retry.Sleeper
	Metrics     *metrics.Recorder
	Logger      logger.Logger
	Now         func() time.Time
	// SaveBackoff spaces checkpoint save retries during drain
	SaveBackoff retry.BackoffStrategy
}

// Crawler is the resumable crawl loop. It is single-use: call Run once.
type Crawler struct {
	client      Client
	checkpoints CheckpointStore
	output      Output
	solver      Solver
	notifier    Notifier
	sleeper     retry.Sleeper
	metrics     *metrics.Recorder
	logger      logger.Logger
	now         func() time.Time
	saveBackoff retry.BackoffStrategy

	opts     Options
	policies *retry.PolicyTable
	pacer    *ratelimit.BurstPacer

	state        State
	ran          bool
	sources      []models.Source
	seenPosts    *SeenSet
	seenProfiles *SeenSet
	challenge    *models.Challenge
	newPosts     int
	newProfiles  int
	started      time.Time
}

// New creates a crawl loop over opts.Sources
func New(deps Dependencies, opts Options) (*Crawler, error) {
	if deps.Client == nil || deps.Checkpoints == nil || deps.Output == nil {
		return nil, errors.New("crawler needs a client, a checkpoint store and an output")
	}
	opts = opts.withDefaults()

	sources := make([]models.Source, 0, len(opts.Sources))
	for _, raw := range opts.Sources {
		id := vk.SanitizeSource(raw)
		if id == "" {
			return nil, vkerrors.New(vkerrors.ErrorTypeConfig, fmt.Sprintf("source %q is empty", raw))
		}
		sources = append(sources, models.Source{ID: id})
	}

	c := &Crawler{
		client:      deps.Client,
		checkpoints: deps.Checkpoints,
		output:      deps.Output,
		solver:      deps.Solver,
		notifier:    deps.Notifier,
		sleeper:     deps.Sleeper,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
		saveBackoff: deps.SaveBackoff,
		opts:        opts,
		policies:    retry.DefaultPolicies(opts.TransientSleep),
		pacer:       ratelimit.NewBurstPacer(opts.RequestBurst, opts.RequestSleepInterval),
		sources:     sources,
	}
	if c.sleeper == nil {
		c.sleeper = retry.TimerSleeper
	}
	if c.logger == nil {
		c.logger = logger.GetLogger()
	}
	c.logger = c.logger.WithField("component", "crawler")
	if c.now == nil {
		c.now = time.Now
	}
	if c.saveBackoff == nil {
		c.saveBackoff = retry.DefaultExponentialBackoff()
	}
	return c, nil
}

// State returns the current lifecycle phase
func (c *Crawler) State() State {
	return c.state
}

// Sources returns a copy of the sources with their current offsets
func (c *Crawler) Sources() []models.Source {
	out := make([]models.Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// RequestSleepInterval returns the current burst pause
func (c *Crawler) RequestSleepInterval() time.Duration {
	return c.pacer.Interval()
}

func (c *Crawler) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.DebugWithFields("state change", map[string]interface{}{
		"from": c.state.String(),
		"to":   s.String(),
	})
	c.state = s
}

// Run restores state, crawls until ctx is cancelled or a fatal error
// occurs, then drains. The returned error carries the fatal cause and
// any drain failure; a plain shutdown returns nil. A panic inside the
// loop is re-raised after draining.
func (c *Crawler) Run(ctx context.Context) (summary Summary, err error) {
	if c.ran {
		return Summary{}, errors.New("crawler has already run")
	}
	c.ran = true

	if err := c.initialize(); err != nil {
		c.setState(StateTerminated)
		return Summary{}, err
	}
	c.started = c.now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorWithFields("Crawl loop panicked, draining", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			_, _ = c.drain(StopPanic, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	reason, cause := c.loop(ctx)
	return c.drain(reason, cause)
}

// initialize restores seen sets and offsets and reconciles the seen sets
// with rows already in the output
func (c *Crawler) initialize() error {
	c.setState(StateInitializing)

	postIDs, err := c.checkpoints.LoadIDs(checkpoint.KeyPostIDs)
	if err != nil {
		return fmt.Errorf("failed to load seen posts: %w", err)
	}
	profileIDs, err := c.checkpoints.LoadIDs(checkpoint.KeyProfileIDs)
	if err != nil {
		return fmt.Errorf("failed to load seen profiles: %w", err)
	}
	offsets, err := c.checkpoints.LoadOffsets(len(c.sources))
	if err != nil {
		return fmt.Errorf("failed to load offsets: %w", err)
	}

	outputProfiles, outputPosts, err := c.output.ExistingIDs()
	if err != nil {
		return fmt.Errorf("failed to scan output: %w", err)
	}

	c.seenPosts = NewSeenSet(postIDs)
	c.seenProfiles = NewSeenSet(profileIDs)
	checkpointed := c.seenPosts.Len() + c.seenProfiles.Len()
	for _, id := range outputPosts {
		c.seenPosts.Add(id)
	}
	for _, id := range outputProfiles {
		c.seenProfiles.Add(id)
	}
	if recovered := c.seenPosts.Len() + c.seenProfiles.Len() - checkpointed; recovered > 0 {
		c.logger.WarnWithFields("Recovered ids from output missing in checkpoint", map[string]interface{}{
			"recovered": recovered,
		})
	}

	for i := range c.sources {
		if i < len(offsets) && offsets[i] > 0 {
			c.sources[i].Offset = offsets[i]
		}
		c.metrics.SetOffset(c.sources[i].ID, c.sources[i].Offset)
	}
	c.metrics.SetRequestInterval(c.pacer.Interval())

	c.logger.InfoWithFields("State restored", map[string]interface{}{
		"sources":       len(c.sources),
		"seen_posts":    c.seenPosts.Len(),
		"seen_profiles": c.seenProfiles.Len(),
	})
	return nil
}

// loop runs profile harvest and post passes until shutdown or a fatal error
func (c *Crawler) loop(ctx context.Context) (StopReason, error) {
	if len(c.sources) == 0 {
		c.logger.Warn("No sources configured, nothing to crawl")
		return StopNoSources, nil
	}

	c.setState(StateRunning)
	logger.LogComponentStart(c.logger, "crawler", map[string]interface{}{
		"sources":        len(c.sources),
		"page_size":      c.opts.PageSize,
		"request_burst":  c.opts.RequestBurst,
		"fetch_profiles": c.opts.FetchProfiles,
	})

	if c.opts.FetchProfiles {
		if reason, err := c.harvestProfiles(ctx); reason != "" {
			return reason, err
		}
	}

	for pass := 1; ; pass++ {
		if ctx.Err() != nil {
			return StopShutdown, nil
		}
		c.logger.DebugWithFields("Starting pass", map[string]interface{}{"pass": pass})

		for i := range c.sources {
			if ctx.Err() != nil {
				return StopShutdown, nil
			}
			if err := c.crawlSource(ctx, i); err != nil {
				return StopFatal, err
			}
		}
	}
}

// harvestProfiles fetches profiles for every source once. Each chunk is
// retried until it succeeds. An empty reason means continue to the posts.
func (c *Crawler) harvestProfiles(ctx context.Context) (StopReason, error) {
	ids := profileCandidates(c.sources)
	if len(ids) == 0 {
		return "", nil
	}
	c.logger.InfoWithFields("Collecting profiles", map[string]interface{}{"ids": len(ids)})

	for _, batch := range chunk(ids, c.opts.ProfileChunkSize) {
		for {
			if ctx.Err() != nil {
				return StopShutdown, nil
			}
			c.pace(ctx)

			res := c.client.FetchProfiles(ctx, batch, c.challenge)
			handled, err := c.handleOutcome(ctx, "users", vk.MethodUsersGet, res.Outcome, res.APIError, res.Err)
			if err != nil {
				return StopFatal, err
			}
			if handled {
				continue
			}

			if err := c.applyProfiles(res.Value); err != nil {
				return StopFatal, err
			}
			c.pacer.Record()
			break
		}
	}

	c.logger.InfoWithFields("Finished collecting profiles", map[string]interface{}{
		"new_profiles": c.newProfiles,
	})
	return "", nil
}

func (c *Crawler) applyProfiles(users []vk.User) error {
	written := 0
	for _, u := range users {
		rec := ProfileRecord(u)
		key := rec.Key()
		if c.seenProfiles.Has(key) {
			c.metrics.RecordSkipped("profile", "seen")
			c.logger.DebugWithFields("Profile already stored, skipping", map[string]interface{}{"id": key})
			continue
		}
		if err := c.output.AppendProfile(rec); err != nil {
			c.metrics.RecordsWritten("profile", written)
			return fmt.Errorf("failed to append profile %s: %w", key, err)
		}
		c.seenProfiles.Add(key)
		c.newProfiles++
		written++
	}
	c.metrics.RecordsWritten("profile", written)
	return nil
}

// crawlSource fetches and applies one page of source i. A non-nil error
// is fatal.
func (c *Crawler) crawlSource(ctx context.Context, i int) error {
	src := &c.sources[i]
	c.pace(ctx)

	res := c.client.FetchPosts(ctx, src.ID, src.Offset, c.opts.PageSize, c.challenge)
	handled, err := c.handleOutcome(ctx, src.ID, vk.MethodWallGet, res.Outcome, res.APIError, res.Err)
	if err != nil || handled {
		return err
	}

	items := res.Value.Items
	written, err := c.applyPosts(items)
	if err != nil {
		return err
	}

	src.Offset += len(items)
	c.pacer.Record()
	c.metrics.ObservePage(src.ID, src.Offset)
	logger.LogPage(c.logger, src.ID, src.Offset, len(items), written)
	return nil
}

// applyPosts writes every new, non-empty post of a page
func (c *Crawler) applyPosts(items []vk.Post) (int, error) {
	written := 0
	for _, item := range items {
		key := models.PostKey(item.OwnerID, item.ID)
		if c.seenPosts.Has(key) {
			c.metrics.RecordSkipped("post", "seen")
			c.logger.DebugWithFields("Post already stored, skipping", map[string]interface{}{"id": key})
			continue
		}

		rec, ok := PostRecord(item)
		if !ok {
			c.metrics.RecordSkipped("post", "empty")
			c.logger.DebugWithFields("Post has no text, skipping", map[string]interface{}{"id": key})
			continue
		}

		if err := c.output.AppendPost(rec); err != nil {
			c.metrics.RecordsWritten("post", written)
			return written, fmt.Errorf("failed to append post %s: %w", key, err)
		}
		c.seenPosts.Add(key)
		c.newPosts++
		written++
	}
	c.metrics.RecordsWritten("post", written)
	return written, nil
}

// pace pauses when the burst of consecutive requests is complete
func (c *Crawler) pace(ctx context.Context) {
	if !c.pacer.Due() {
		return
	}
	c.sleep(ctx, "burst", c.pacer.Interval())
	c.pacer.Reset()
}

// handleOutcome applies the recovery policy for a failed call. handled is
// false only for a success. A non-nil error is fatal.
func (c *Crawler) handleOutcome(ctx context.Context, source, method string, outcome vk.Outcome, apiErr *vk.APIError, cause error) (handled bool, fatal error) {
	switch outcome {
	case vk.OutcomeSuccess:
		c.challenge = nil
		return false, nil

	case vk.OutcomeTransportFailure:
		// A cancelled request is not a network problem
		if ctx.Err() != nil {
			return true, nil
		}
		c.metrics.TransportFailure(method)
		c.logger.WithError(cause).WarnWithFields("Request failed", map[string]interface{}{
			"source": source,
			"method": method,
		})
		c.sleep(ctx, "transport", c.opts.TransportSleep)
		return true, nil

	case vk.OutcomeMalformed:
		c.challenge = nil
		c.metrics.Malformed(method)
		c.logger.WithError(cause).WarnWithFields("Response has no result", map[string]interface{}{
			"source": source,
			"method": method,
		})
		c.sleep(ctx, "malformed", c.opts.RateSleepInterval)
		return true, nil

	case vk.OutcomeAPIError:
		c.challenge = nil
		if apiErr == nil {
			return true, fmt.Errorf("%s reported an API error without details: %w", method, cause)
		}
		return true, c.applyPolicy(ctx, source, apiErr)

	case vk.OutcomeInvalidRequest:
		return true, fmt.Errorf("invalid %s request for %q: %w", method, source, cause)

	default:
		return true, fmt.Errorf("unexpected outcome %s from %s", outcome, method)
	}
}

// applyPolicy dispatches an API error through the policy table
func (c *Crawler) applyPolicy(ctx context.Context, source string, apiErr *vk.APIError) error {
	policy := c.policies.Lookup(apiErr.Code)
	c.metrics.APIError(apiErr.Code)
	logger.LogAPIError(c.logger, source, apiErr.Code, apiErr.Message, policy.Action.String())

	switch policy.Action {
	case retry.ActionSleep:
		c.sleep(ctx, "transient", policy.Delay)
	case retry.ActionRateSleep:
		c.sleep(ctx, "rate_limit", c.opts.RateSleepInterval)
	case retry.ActionSlowDown:
		c.pacer.Force()
		c.pacer.Grow(policy.Delay)
		c.metrics.SetRequestInterval(c.pacer.Interval())
		c.logger.WarnWithFields("Too many requests per second, slowing down", map[string]interface{}{
			"interval": c.pacer.Interval().String(),
		})
	case retry.ActionChallenge:
		return c.awaitChallenge(ctx, apiErr)
	default:
		return &vkerrors.Error{
			Type:    vkerrors.ErrorTypeAPI,
			Message: "unhandled error code from " + source,
			Code:    apiErr.Code,
			Err:     apiErr,
		}
	}
	return nil
}

// awaitChallenge blocks until the operator answers a captcha. The answer
// is attached to the next request.
func (c *Crawler) awaitChallenge(ctx context.Context, apiErr *vk.APIError) error {
	ch := models.Challenge{SID: string(apiErr.CaptchaSID), ImageURL: apiErr.CaptchaImg}
	c.metrics.Challenge()

	c.setState(StateAwaitingChallengeResponse)
	defer c.setState(StateRunning)

	c.logger.WarnWithFields("Captcha required", map[string]interface{}{
		"sid":   ch.SID,
		"image": ch.ImageURL,
	})
	if c.notifier != nil {
		c.notifier.ChallengeIssued(ch.ImageURL)
	}
	if c.solver == nil {
		return ErrNoSolver
	}

	answer, err := c.solver.Solve(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Info("Shutdown requested while waiting for captcha")
			return nil
		}
		return fmt.Errorf("captcha could not be answered: %w", err)
	}

	ch.Solution = answer
	c.challenge = &ch
	return nil
}

func (c *Crawler) sleep(ctx context.Context, reason string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.metrics.Sleep(reason, d)
	logger.LogBackoff(c.logger, reason, d)
	if err := c.sleeper.Sleep(ctx, d); err != nil {
		c.logger.DebugWithFields("Sleep interrupted", map[string]interface{}{"reason": reason})
	}
}

// drain makes the output durable, persists checkpoints and emits the
// summary. Output is flushed first so a saved seen set never names a row
// that did not reach disk. When the flush fails the previous checkpoints
// are left in place and the unflushed pages are fetched again next run.
func (c *Crawler) drain(reason StopReason, cause error) (Summary, error) {
	c.setState(StateDraining)

	var errs []error
	if cause != nil {
		c.logger.WithError(cause).Error("Stopping on fatal error")
		errs = append(errs, cause)
	}

	if err := c.output.Flush(); err != nil {
		c.logger.WithError(err).Error("Failed to flush output, keeping previous checkpoints")
		errs = append(errs, fmt.Errorf("flush output: %w", err))
	} else {
		errs = append(errs, c.saveCheckpoints()...)
	}

	summary := c.summary(reason)
	c.logger.InfoWithFields("Crawl finished", map[string]interface{}{
		"reason":       string(summary.Reason),
		"elapsed":      summary.Elapsed.String(),
		"new_profiles": summary.NewProfiles,
		"new_posts":    summary.NewPosts,
		"throughput":   summary.Throughput,
	})
	if c.notifier != nil {
		c.notifier.Finished(summary.String())
	}

	logger.LogComponentStop(c.logger, "crawler", string(reason))
	c.setState(StateTerminated)
	return summary, errors.Join(errs...)
}

// saveCheckpoints persists both seen sets and the offsets, retrying each save
func (c *Crawler) saveCheckpoints() []error {
	var errs []error
	offsets := make([]int, len(c.sources))
	for i, src := range c.sources {
		offsets[i] = src.Offset
	}
	saves := []struct {
		key  string
		save func() error
	}{
		{checkpoint.KeyPostIDs, func() error { return c.checkpoints.SaveIDs(checkpoint.KeyPostIDs, c.seenPosts.Slice()) }},
		{checkpoint.KeyProfileIDs, func() error { return c.checkpoints.SaveIDs(checkpoint.KeyProfileIDs, c.seenProfiles.Slice()) }},
		{checkpoint.KeyOffsets, func() error { return c.checkpoints.SaveOffsets(offsets) }},
	}
	for _, s := range saves {
		err := retry.Do(s.save, &retry.Config{
			MaxAttempts: checkpointSaveAttempts,
			Backoff:     c.saveBackoff,
			RetryIf:     func(err error) bool { return err != nil },
			Context:     context.Background(),
			Logger:      c.logger.WithField("checkpoint", s.key),
		})
		if err != nil {
			c.logger.WithError(err).WithField("checkpoint", s.key).Error("Failed to save checkpoint")
			errs = append(errs, fmt.Errorf("save %s: %w", s.key, err))
		}
	}
	return errs
}

func (c *Crawler) summary(reason StopReason) Summary {
	finished := c.now()
	elapsed := finished.Sub(c.started)
	return Summary{
		Reason:               reason,
		Started:              c.started,
		Finished:             finished,
		Elapsed:              elapsed,
		NewProfiles:          c.newProfiles,
		NewPosts:             c.newPosts,
		Throughput:           Throughput(c.newPosts, elapsed),
		Sources:              c.Sources(),
		RequestSleepInterval: c.pacer.Interval(),
	}
}
