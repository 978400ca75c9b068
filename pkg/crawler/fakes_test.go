package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vkharvest/pkg/logger"
	"vkharvest/pkg/models"
	"vkharvest/pkg/retry"
	"vkharvest/pkg/vk"
)

type postCall struct {
	Source    string
	Offset    int
	PageSize  int
	Challenge *models.Challenge
}

type profileCall struct {
	IDs       []string
	Challenge *models.Challenge
}

// fakeClient replays scripted results. Once a script runs out it calls
// onExhausted and reports a cancelled request.
type fakeClient struct {
	mu           sync.Mutex
	posts        []vk.Result[vk.WallPage]
	profiles     []vk.Result[[]vk.User]
	postCalls    []postCall
	profileCalls []profileCall
	onCall       func(n int)
	onExhausted  func()
}

func copyChallenge(ch *models.Challenge) *models.Challenge {
	if ch == nil {
		return nil
	}
	cp := *ch
	return &cp
}

func (f *fakeClient) FetchPosts(ctx context.Context, sourceID string, offset, pageSize int, challenge *models.Challenge) vk.Result[vk.WallPage] {
	f.mu.Lock()
	if len(f.posts) == 0 {
		f.mu.Unlock()
		if f.onExhausted != nil {
			f.onExhausted()
		}
		return vk.Result[vk.WallPage]{Outcome: vk.OutcomeTransportFailure, Err: context.Canceled}
	}
	res := f.posts[0]
	f.posts = f.posts[1:]
	f.postCalls = append(f.postCalls, postCall{
		Source:    sourceID,
		Offset:    offset,
		PageSize:  pageSize,
		Challenge: copyChallenge(challenge),
	})
	n := len(f.postCalls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(n)
	}
	return res
}

func (f *fakeClient) FetchProfiles(ctx context.Context, ids []string, challenge *models.Challenge) vk.Result[[]vk.User] {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]string, len(ids))
	copy(batch, ids)
	f.profileCalls = append(f.profileCalls, profileCall{IDs: batch, Challenge: copyChallenge(challenge)})

	if len(f.profiles) == 0 {
		return vk.Result[[]vk.User]{Outcome: vk.OutcomeSuccess}
	}
	res := f.profiles[0]
	f.profiles = f.profiles[1:]
	return res
}

func (f *fakeClient) calls() []postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postCall, len(f.postCalls))
	copy(out, f.postCalls)
	return out
}

// memCheckpoints is an in-memory CheckpointStore
type memCheckpoints struct {
	mu           sync.Mutex
	ids          map[string][]string
	offsets      []int
	hasOffsets   bool
	failSaves    int
	saveAttempts int
	loadErr      error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{ids: make(map[string][]string)}
}

func (m *memCheckpoints) LoadIDs(key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]string(nil), m.ids[key]...), nil
}

func (m *memCheckpoints) SaveIDs(key string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveAttempts++
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("disk full")
	}
	m.ids[key] = append([]string(nil), ids...)
	return nil
}

func (m *memCheckpoints) LoadOffsets(n int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, n)
	for i := 0; i < n && i < len(m.offsets); i++ {
		out[i] = m.offsets[i]
	}
	return out, nil
}

func (m *memCheckpoints) SaveOffsets(offsets []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveAttempts++
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("disk full")
	}
	m.offsets = append([]int(nil), offsets...)
	m.hasOffsets = true
	return nil
}

// memOutput is an in-memory Output
type memOutput struct {
	mu               sync.Mutex
	posts            []models.PostRecord
	profiles         []models.ProfileRecord
	existingPosts    []string
	existingProfiles []string
	flushes          int
	flushErr         error
	appendErr        error
	panicOnAppend    bool
}

func (o *memOutput) AppendProfile(p models.ProfileRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.appendErr != nil {
		return o.appendErr
	}
	o.profiles = append(o.profiles, p)
	return nil
}

func (o *memOutput) AppendPost(p models.PostRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.panicOnAppend {
		panic("sink exploded")
	}
	if o.appendErr != nil {
		return o.appendErr
	}
	o.posts = append(o.posts, p)
	return nil
}

func (o *memOutput) ExistingIDs() ([]string, []string, error) {
	return o.existingProfiles, o.existingPosts, nil
}

func (o *memOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes++
	return o.flushErr
}

func (o *memOutput) postKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, len(o.posts))
	for i, p := range o.posts {
		keys[i] = p.Key()
	}
	return keys
}

// recordingSleeper returns immediately and remembers every pause
type recordingSleeper struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	onSleep func(d time.Duration)
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	if s.onSleep != nil {
		s.onSleep(d)
	}
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// scriptedSolver answers challenges from a list
type scriptedSolver struct {
	mu         sync.Mutex
	answers    []string
	err        error
	block      bool
	challenges []models.Challenge
}

func (s *scriptedSolver) Solve(ctx context.Context, ch models.Challenge) (string, error) {
	s.mu.Lock()
	s.challenges = append(s.challenges, ch)
	block, err := s.block, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return "", errors.New("no answer scripted")
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

type recordingNotifier struct {
	challenges []string
	finished   []string
}

func (n *recordingNotifier) ChallengeIssued(imageURL string) {
	n.challenges = append(n.challenges, imageURL)
}

func (n *recordingNotifier) Finished(message string) {
	n.finished = append(n.finished, message)
}

// stepClock advances by step on every reading
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type harness struct {
	client      *fakeClient
	checkpoints *memCheckpoints
	output      *memOutput
	sleeper     *recordingSleeper
	solver      *scriptedSolver
	notifier    *recordingNotifier
	log         *logger.TestLogger
	clock       *stepClock
	ctx         context.Context
	cancel      context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		client:      &fakeClient{},
		checkpoints: newMemCheckpoints(),
		output:      &memOutput{},
		sleeper:     &recordingSleeper{},
		solver:      &scriptedSolver{},
		notifier:    &recordingNotifier{},
		log:         logger.NewTestLogger(),
		clock:       &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: 10 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
	h.client.onExhausted = cancel
	return h
}

func (h *harness) crawler(t *testing.T, opts Options) *Crawler {
	t.Helper()
	c, err := New(Dependencies{
		Client:      h.client,
		Checkpoints: h.checkpoints,
		Output:      h.output,
		Solver:      h.solver,
		Notifier:    h.notifier,
		Sleeper:     h.sleeper,
		Logger:      h.log,
		Now:         h.clock.Now,
		SaveBackoff: &retry.ConstantBackoff{},
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func wallPage(items ...vk.Post) vk.Result[vk.WallPage] {
	return vk.Result[vk.WallPage]{
		Outcome: vk.OutcomeSuccess,
		Value:   vk.WallPage{Count: len(items), Items: items},
	}
}

func wallError(code int) vk.Result[vk.WallPage] {
	apiErr := &vk.APIError{Code: code, Message: "error"}
	return vk.Result[vk.WallPage]{Outcome: vk.OutcomeAPIError, APIError: apiErr, Err: apiErr}
}

func wallCaptcha(sid string) vk.Result[vk.WallPage] {
	apiErr := &vk.APIError{
		Code:       retry.CodeCaptcha,
		Message:    "Captcha needed",
		CaptchaSID: vk.FlexString(sid),
		CaptchaImg: "https://vk.example/captcha?sid=" + sid,
	}
	return vk.Result[vk.WallPage]{Outcome: vk.OutcomeAPIError, APIError: apiErr, Err: apiErr}
}

func wallTransport() vk.Result[vk.WallPage] {
	return vk.Result[vk.WallPage]{Outcome: vk.OutcomeTransportFailure, Err: errors.New("connection reset")}
}

func wallMalformed() vk.Result[vk.WallPage] {
	return vk.Result[vk.WallPage]{Outcome: vk.OutcomeMalformed, Err: errors.New("no items")}
}

func textPost(owner, id int64, text string) vk.Post {
	return vk.Post{ID: id, OwnerID: owner, FromID: owner, Date: 1700000000 + id, Text: text}
}

func profiles(users ...vk.User) vk.Result[[]vk.User] {
	return vk.Result[[]vk.User]{Outcome: vk.OutcomeSuccess, Value: users}
}
