package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// MockCall records a call to a fake.
type MockCall struct {
	Method string
	Target string
}

// FakeProvider implements core.Provider from scripted responses. Each
// identifier key (see core.ChatIdentifier.Key) maps to a queue of outcomes
// for ResolveEntity; the last outcome repeats once the queue is drained.
type FakeProvider struct {
	mu sync.Mutex

	SelfID       int64
	Unauthorized bool
	ConnectErr   error

	resolve      map[string][]Outcome
	participants map[int64]countOutcome
	fullInfo     map[int64]*core.FullInfo
	fullInfoErr  error
	permissions  map[int64]*core.Permissions
	calls        []MockCall
	closed       bool
}

// Outcome is one scripted ResolveEntity result.
type Outcome struct {
	Entity *core.Entity
	Err    error
}

type countOutcome struct {
	n   int
	err error
}

// NewFakeProvider creates a provider with self id 1.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		SelfID:       1,
		resolve:      make(map[string][]Outcome),
		participants: make(map[int64]countOutcome),
		fullInfo:     make(map[int64]*core.FullInfo),
		permissions:  make(map[int64]*core.Permissions),
	}
}

// OnResolve queues outcomes for id.
func (p *FakeProvider) OnResolve(id core.ChatIdentifier, outcomes ...Outcome) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolve[id.Key()] = append(p.resolve[id.Key()], outcomes...)
	return p
}

// WithChat makes id resolve to a chat with the given entity.
func (p *FakeProvider) WithChat(id core.ChatIdentifier, e *core.Entity) *FakeProvider {
	return p.OnResolve(id, Outcome{Entity: e})
}

// WithParticipants scripts GetParticipantCount for chatID.
func (p *FakeProvider) WithParticipants(chatID int64, n int, err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[chatID] = countOutcome{n: n, err: err}
	return p
}

// WithFullInfo scripts GetFullInfo for chatID.
func (p *FakeProvider) WithFullInfo(chatID int64, info *core.FullInfo) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullInfo[chatID] = info
	return p
}

// WithFullInfoError makes every GetFullInfo fail.
func (p *FakeProvider) WithFullInfoError(err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullInfoErr = err
	return p
}

// WithPermissions scripts GetPermissions for chatID.
func (p *FakeProvider) WithPermissions(chatID int64, perms *core.Permissions) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissions[chatID] = perms
	return p
}

// Connect implements core.Provider.
func (p *FakeProvider) Connect(_ context.Context) error {
	p.record("Connect", "")
	return p.ConnectErr
}

// IsAuthorized implements core.Provider.
func (p *FakeProvider) IsAuthorized(_ context.Context) (int64, bool, error) {
	p.record("IsAuthorized", "")
	if p.Unauthorized {
		return 0, false, nil
	}
	return p.SelfID, true, nil
}

// ResolveEntity implements core.Provider.
func (p *FakeProvider) ResolveEntity(ctx context.Context, id core.ChatIdentifier) (*core.Entity, error) {
	p.record("ResolveEntity", id.Key())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.resolve[id.Key()]
	if len(queue) == 0 {
		return nil, core.PermanentFault(core.ReasonNotFound, fmt.Sprintf("no chat %s", id))
	}
	out := queue[0]
	if len(queue) > 1 {
		p.resolve[id.Key()] = queue[1:]
	}
	if out.Err != nil {
		return nil, out.Err
	}
	e := *out.Entity
	return &e, nil
}

// GetParticipantCount implements core.Provider.
func (p *FakeProvider) GetParticipantCount(_ context.Context, e *core.Entity) (int, error) {
	p.record("GetParticipantCount", fmt.Sprint(e.ID))
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.participants[e.ID]
	if !ok {
		return 0, core.PermanentFault(core.ReasonAdminRequired, "participants hidden")
	}
	return c.n, c.err
}

// GetFullInfo implements core.Provider.
func (p *FakeProvider) GetFullInfo(_ context.Context, e *core.Entity) (*core.FullInfo, error) {
	p.record("GetFullInfo", fmt.Sprint(e.ID))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fullInfoErr != nil {
		return nil, p.fullInfoErr
	}
	if info, ok := p.fullInfo[e.ID]; ok {
		return info, nil
	}
	return &core.FullInfo{}, nil
}

// GetPermissions implements core.Provider.
func (p *FakeProvider) GetPermissions(_ context.Context, e *core.Entity, _ int64) (*core.Permissions, error) {
	p.record("GetPermissions", fmt.Sprint(e.ID))
	p.mu.Lock()
	defer p.mu.Unlock()
	if perms, ok := p.permissions[e.ID]; ok {
		return perms, nil
	}
	return nil, core.PermanentFault(core.ReasonAdminRequired, "not a member")
}

// Close implements core.Provider.
func (p *FakeProvider) Close() error {
	p.record("Close", "")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *FakeProvider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls returns a copy of the recorded calls.
func (p *FakeProvider) Calls() []MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MockCall(nil), p.calls...)
}

// CallCount counts calls to method, optionally for one target.
func (p *FakeProvider) CallCount(method string, target ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method != method {
			continue
		}
		if len(target) > 0 && c.Target != target[0] {
			continue
		}
		n++
	}
	return n
}

func (p *FakeProvider) record(method, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, MockCall{Method: method, Target: target})
}

// FakeCounter implements core.MemberCounter from a fixed table.
type FakeCounter struct {
	mu     sync.Mutex
	counts map[int64]int
	Err    error
	calls  int
}

// NewFakeCounter creates a counter answering from counts.
func NewFakeCounter(counts map[int64]int) *FakeCounter {
	return &FakeCounter{counts: counts}
}

// MemberCount implements core.MemberCounter.
func (c *FakeCounter) MemberCount(_ context.Context, e *core.Entity) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Err != nil {
		return 0, c.Err
	}
	n, ok := c.counts[e.ID]
	if !ok {
		return 0, core.PermanentFault(core.ReasonNotFound, "chat not found")
	}
	return n, nil
}

// Calls returns the number of lookups.
func (c *FakeCounter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// RecordingSleeper records requested sleeps without blocking. It satisfies
// the pipeline's Sleeper interface.
type RecordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	// CancelAfter, when positive, makes the n-th sleep call Cancel.
	CancelAfter int
	Cancel      context.CancelFunc
}

// Sleep records d and returns ctx.Err().
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	n := len(s.sleeps)
	s.mu.Unlock()

	if s.CancelAfter > 0 && n == s.CancelAfter && s.Cancel != nil {
		s.Cancel()
	}
	return ctx.Err()
}

// Sleeps returns the recorded durations in call order.
func (s *RecordingSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// Total returns the sum of all recorded sleeps.
func (s *RecordingSleeper) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Sleeps() {
		total += d
	}
	return total
}

// Longest returns the recorded sleeps sorted longest first.
func (s *RecordingSleeper) Longest() []time.Duration {
	out := s.Sleeps()
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// MemorySink implements core.ResultSink in memory.
type MemorySink struct {
	mu       sync.Mutex
	Batches  [][]*core.FetchRecord
	WriteErr error
	closed   bool
}

// Name implements core.ResultSink.
func (s *MemorySink) Name() string { return "memory" }

// Write implements core.ResultSink.
func (s *MemorySink) Write(_ context.Context, recs []*core.FetchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Batches = append(s.Batches, append([]*core.FetchRecord(nil), recs...))
	return nil
}

// Close implements core.ResultSink.
func (s *MemorySink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Rows returns the number of records written across batches.
func (s *MemorySink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.Batches {
		n += len(b)
	}
	return n
}
