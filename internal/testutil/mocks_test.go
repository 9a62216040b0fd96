package testutil_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/testutil"
)

func TestFakeProvider_ScriptedOutcomes(t *testing.T) {
	id := core.ChatIdentifier{Handle: "alpha"}
	p := testutil.NewFakeProvider().OnResolve(id,
		testutil.Outcome{Err: core.TransientFault(core.ReasonTimeout, "slow", nil)},
		testutil.Outcome{Entity: &core.Entity{ID: 10, Title: "Alpha"}},
	)
	ctx := context.Background()

	_, err := p.ResolveEntity(ctx, id)
	testutil.AssertError(t, err)

	e, err := p.ResolveEntity(ctx, id)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, e.Title, "Alpha")

	// the last outcome repeats
	e, err = p.ResolveEntity(ctx, id)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, e.ID, int64(10))
	testutil.AssertEqual(t, p.CallCount("ResolveEntity", "alpha"), 3)
}

func TestFakeProvider_UnknownChatIsPermanent(t *testing.T) {
	p := testutil.NewFakeProvider()
	_, err := p.ResolveEntity(context.Background(), core.ChatIdentifier{ID: 5})

	var f *core.Fault
	testutil.AssertTrue(t, errors.As(err, &f), "fault returned")
	testutil.AssertEqual(t, f.Kind, core.FaultPermanent)
}

func TestFakeProvider_Unauthorized(t *testing.T) {
	p := testutil.NewFakeProvider()
	p.Unauthorized = true
	_, ok, err := p.IsAuthorized(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, ok, "unauthorized")
}

func TestFakeCounter(t *testing.T) {
	c := testutil.NewFakeCounter(map[int64]int{7: 0})
	n, err := c.MemberCount(context.Background(), &core.Entity{ID: 7})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 0)

	_, err = c.MemberCount(context.Background(), &core.Entity{ID: 8})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, c.Calls(), 2)
}

func TestRecordingSleeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &testutil.RecordingSleeper{CancelAfter: 2, Cancel: cancel}

	testutil.AssertNoError(t, s.Sleep(ctx, time.Second))
	err := s.Sleep(ctx, 3*time.Second)
	testutil.AssertTrue(t, errors.Is(err, context.Canceled), "second sleep cancels")

	testutil.AssertEqual(t, s.Total(), 4*time.Second)
	testutil.AssertEqual(t, s.Longest()[0], 3*time.Second)
}

func TestMemorySink(t *testing.T) {
	s := &testutil.MemorySink{}
	recs := []*core.FetchRecord{{}, {}}
	testutil.AssertNoError(t, s.Write(context.Background(), recs))
	testutil.AssertEqual(t, s.Rows(), 2)
	testutil.AssertNoError(t, s.Close(context.Background()))
	testutil.AssertTrue(t, s.Closed(), "closed")
}
