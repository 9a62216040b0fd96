package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/testutil"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestFetcher(p core.Provider, s Sleeper, opts ...FetcherOption) *Fetcher {
	pacer := NewPacer(PacerConfig{}, WithSleeper(s))
	base := []FetcherOption{
		WithFetcherSleeper(s),
		WithClock(func() time.Time { return fixedNow }),
	}
	f := NewFetcher(p, pacer, NewClassifier(DefaultRetryPolicy(), rand.New(rand.NewSource(1))), append(base, opts...)...)
	f.SetSelfID(1)
	return f
}

func TestFetcher_SuccessFromEntity(t *testing.T) {
	id := core.ChatIdentifier{Handle: "alpha"}
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testutil.NewFakeProvider().
		WithChat(id, &core.Entity{ID: 10, Title: "Alpha", Username: "Alpha", Kind: core.ChatKindChannel, CreatedAt: &created, ParticipantsCount: core.Int(42)}).
		WithFullInfo(10, &core.FullInfo{OnlineCount: core.Int(3), SlowModeSeconds: core.Int(30), LinkedChatID: core.Int64(99)}).
		WithPermissions(10, &core.Permissions{CanSendMessages: core.Bool(true)})
	s := &testutil.RecordingSleeper{}

	rec, err := newTestFetcher(p, s).Fetch(context.Background(), id, map[string]string{"username": "@alpha"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if rec.AccessStatus != core.AccessSuccess {
		t.Errorf("AccessStatus = %s, want success", rec.AccessStatus)
	}
	if rec.MemberCount == nil || *rec.MemberCount != 42 || rec.MemberCountSource != core.CountSourceEntity {
		t.Errorf("member count = %v from %q, want 42 from entity", rec.MemberCount, rec.MemberCountSource)
	}
	if rec.CanSend != core.SendAllowed {
		t.Errorf("CanSend = %s, want allowed", rec.CanSend)
	}
	if !rec.CheckedAt.Equal(fixedNow) {
		t.Errorf("CheckedAt = %s", rec.CheckedAt)
	}

	row := rec.Row()
	want := map[string]string{
		core.ColID:              "10",
		core.ColActualTitle:     "Alpha",
		core.ColActualUsername:  "https://t.me/Alpha",
		core.ColChatType:        "channel",
		core.ColCreatedDate:     "2020-01-01 00:00:00",
		core.ColCheckDate:       "2024-05-01 12:00:00",
		core.ColOnlineCount:     "3",
		core.ColSlowModeDelay:   "30",
		core.ColLinkedChatID:    "99",
		core.ColPinnedMessageID: "",
		"username":              "@alpha",
	}
	for k, v := range want {
		if row[k] != v {
			t.Errorf("row[%s] = %q, want %q", k, row[k], v)
		}
	}
	if p.CallCount("GetParticipantCount") != 0 {
		t.Error("fallback chain must stop at the entity count")
	}
}

func TestFetcher_MemberCountFallbackChain(t *testing.T) {
	id := core.ChatIdentifier{ID: 7}
	entity := &core.Entity{ID: 7, Title: "Seven"}

	tests := []struct {
		name       string
		setup      func(*testutil.FakeProvider)
		counter    *testutil.FakeCounter
		wantCount  *int
		wantSource string
	}{
		{
			name:       "enumeration",
			setup:      func(p *testutil.FakeProvider) { p.WithParticipants(7, 15, nil) },
			wantCount:  core.Int(15),
			wantSource: core.CountSourceEnumerate,
		},
		{
			name: "full info after zero enumeration",
			setup: func(p *testutil.FakeProvider) {
				p.WithParticipants(7, 0, nil).WithFullInfo(7, &core.FullInfo{ParticipantsCount: core.Int(30)})
			},
			wantCount:  core.Int(30),
			wantSource: core.CountSourceFullInfo,
		},
		{
			name:       "lookup reports a genuine zero",
			setup:      func(p *testutil.FakeProvider) { p.WithParticipants(7, 0, nil) },
			counter:    testutil.NewFakeCounter(map[int64]int{7: 0}),
			wantCount:  core.Int(0),
			wantSource: core.CountSourceLookup,
		},
		{
			name: "every source fails",
			setup: func(p *testutil.FakeProvider) {
				p.WithFullInfoError(testutil.ErrTest)
			},
			counter: &testutil.FakeCounter{Err: testutil.ErrTest},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewFakeProvider().WithChat(id, entity)
			tt.setup(p)
			var opts []FetcherOption
			if tt.counter != nil {
				opts = append(opts, WithMemberCounter(tt.counter))
			}

			rec, err := newTestFetcher(p, &testutil.RecordingSleeper{}, opts...).Fetch(context.Background(), id, nil)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if rec.AccessStatus != core.AccessSuccess {
				t.Fatalf("AccessStatus = %s, fallback errors must be swallowed", rec.AccessStatus)
			}
			switch {
			case tt.wantCount == nil && rec.MemberCount != nil:
				t.Errorf("MemberCount = %d, want unknown", *rec.MemberCount)
			case tt.wantCount != nil && (rec.MemberCount == nil || *rec.MemberCount != *tt.wantCount):
				t.Errorf("MemberCount = %v, want %d", rec.MemberCount, *tt.wantCount)
			}
			if rec.MemberCountSource != tt.wantSource {
				t.Errorf("MemberCountSource = %q, want %q", rec.MemberCountSource, tt.wantSource)
			}
		})
	}
}

func TestFetcher_RetryBound(t *testing.T) {
	id := core.ChatIdentifier{Handle: "flaky"}
	p := testutil.NewFakeProvider().OnResolve(id, testutil.Outcome{Err: errors.New("socket closed")})
	s := &testutil.RecordingSleeper{}

	rec, err := newTestFetcher(p, s).Fetch(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if rec.AccessStatus != core.AccessError {
		t.Errorf("AccessStatus = %s, want error", rec.AccessStatus)
	}
	if got := p.CallCount("ResolveEntity"); got != 4 {
		t.Errorf("ResolveEntity calls = %d, want 4 (1 + 3 retries)", got)
	}
	if rec.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", rec.Attempts)
	}

	cooldowns := 0
	for _, d := range s.Sleeps() {
		if d == 5*time.Second {
			cooldowns++
		}
	}
	if cooldowns != 3 {
		t.Errorf("cooldowns = %d, want 3 (sleeps %v)", cooldowns, s.Sleeps())
	}
	testutil.AssertContains(t, rec.ErrorMessage, "socket closed")
}

func TestFetcher_PermanentIsSkippedWithoutRetry(t *testing.T) {
	id := core.ChatIdentifier{Handle: "secret"}
	p := testutil.NewFakeProvider().OnResolve(id, testutil.Outcome{Err: core.PermanentFault(core.ReasonPrivate, "channel is private")})
	s := &testutil.RecordingSleeper{}

	rec, err := newTestFetcher(p, s).Fetch(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if rec.AccessStatus != core.AccessDenied {
		t.Errorf("AccessStatus = %s, want access_denied", rec.AccessStatus)
	}
	if p.CallCount("ResolveEntity") != 1 {
		t.Errorf("ResolveEntity calls = %d, want 1", p.CallCount("ResolveEntity"))
	}
	if s.Total() != 0 {
		t.Errorf("slept %s, want no cooldown", s.Total())
	}
}

func TestFetcher_ThrottleThenSuccess(t *testing.T) {
	id := core.ChatIdentifier{Handle: "busy"}
	p := testutil.NewFakeProvider().OnResolve(id,
		testutil.Outcome{Err: core.ThrottleFault(600*time.Second, "FLOOD_WAIT_600")},
		testutil.Outcome{Entity: &core.Entity{ID: 3, Title: "Busy"}},
	)
	s := &testutil.RecordingSleeper{}

	rec, err := newTestFetcher(p, s).Fetch(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if rec.AccessStatus != core.AccessSuccess || rec.Attempts != 2 {
		t.Errorf("rec = %s after %d attempts, want success after 2", rec.AccessStatus, rec.Attempts)
	}
	longest := s.Longest()[0]
	if longest < 601*time.Second || longest > 605*time.Second {
		t.Errorf("throttle sleep = %s, want within [601s, 605s]", longest)
	}
}

func TestFetcher_ThrottleAboveCeilingAborts(t *testing.T) {
	id := core.ChatIdentifier{Handle: "busy"}
	p := testutil.NewFakeProvider().OnResolve(id, testutil.Outcome{Err: core.ThrottleFault(10000*time.Second, "FLOOD_WAIT_10000")})
	s := &testutil.RecordingSleeper{}

	rec, err := newTestFetcher(p, s).Fetch(context.Background(), id, nil)
	if rec != nil {
		t.Errorf("rec = %+v, want nil so the identifier is fetched again", rec)
	}
	if !core.IsThrottleAbort(err) {
		t.Fatalf("err = %v, want ThrottleAbortError", err)
	}
	if s.Total() != 0 {
		t.Errorf("slept %s before aborting", s.Total())
	}
}

func TestFetcher_InterruptDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := core.ChatIdentifier{ID: 11}
	p := testutil.NewFakeProvider().OnResolve(id, testutil.Outcome{Err: core.TransientFault(core.ReasonConnection, "reset", nil)})
	// sleep 1 is the pacer jitter, sleep 2 the connection cooldown
	s := &testutil.RecordingSleeper{CancelAfter: 2, Cancel: cancel}

	rec, err := newTestFetcher(p, s).Fetch(ctx, id, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rec == nil || rec.AccessStatus != core.AccessError || rec.ErrorMessage != InterruptedMessage {
		t.Errorf("rec = %+v, want interrupted error record", rec)
	}
}

func TestFetcher_SendPermission(t *testing.T) {
	id := core.ChatIdentifier{ID: 5}
	tests := []struct {
		name   string
		perms  *core.Permissions
		selfID int64
		want   core.SendPermission
	}{
		{"allowed", &core.Permissions{CanSendMessages: core.Bool(true)}, 1, core.SendAllowed},
		{"denied", &core.Permissions{CanSendMessages: core.Bool(false)}, 1, core.SendDenied},
		{"banned", &core.Permissions{Banned: true, CanSendMessages: core.Bool(true)}, 1, core.SendDenied},
		{"not reported", &core.Permissions{}, 1, core.SendUnknown},
		{"probe failed", nil, 1, core.SendUnknown},
		{"no self id", &core.Permissions{CanSendMessages: core.Bool(true)}, 0, core.SendUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewFakeProvider().WithChat(id, &core.Entity{ID: 5})
			if tt.perms != nil {
				p.WithPermissions(5, tt.perms)
			}
			f := newTestFetcher(p, &testutil.RecordingSleeper{})
			f.SetSelfID(tt.selfID)

			rec, err := f.Fetch(context.Background(), id, nil)
			if err != nil {
				t.Fatal(err)
			}
			if rec.CanSend != tt.want {
				t.Errorf("CanSend = %s, want %s", rec.CanSend, tt.want)
			}
			if tt.selfID == 0 && p.CallCount("GetPermissions") != 0 {
				t.Error("permission probe must be skipped without a self id")
			}
		})
	}
}
