package service

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// InterruptedMessage is the error_message of an identifier cut short by
// cancellation.
const InterruptedMessage = "interrupted"

// Fetcher drives one identifier at a time through pacing, resolution, fault
// classification, the member-count fallback chain and the permission probe.
type Fetcher struct {
	provider   core.Provider
	counter    core.MemberCounter
	pacer      *Pacer
	classifier *Classifier
	sleeper    Sleeper
	logger     *logging.Logger
	metrics    *Metrics
	now        func() time.Time
	selfID     int64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMemberCounter sets the secondary member-count lookup.
func WithMemberCounter(c core.MemberCounter) FetcherOption {
	return func(f *Fetcher) {
		f.counter = c
	}
}

// WithFetcherSleeper replaces the timer used for retry cooldowns.
func WithFetcherSleeper(s Sleeper) FetcherOption {
	return func(f *Fetcher) {
		f.sleeper = s
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *logging.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithFetcherMetrics records outcomes in m.
func WithFetcherMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithClock overrides time.Now for check_date.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) {
		f.now = now
	}
}

// NewFetcher creates a fetcher.
func NewFetcher(provider core.Provider, pacer *Pacer, classifier *Classifier, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		provider:   provider,
		pacer:      pacer,
		classifier: classifier,
		sleeper:    TimerSleeper{},
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSelfID sets the caller's own user id, used by the permission probe.
// Zero disables the probe.
func (f *Fetcher) SetSelfID(id int64) {
	f.selfID = id
}

// Fetch runs the retry loop for id. It returns a terminal record and a nil
// error for success, access_denied and error outcomes. A non-nil error means
// the run must stop: on abort the record is nil so the identifier is fetched
// again next run; on cancellation the record carries InterruptedMessage.
func (f *Fetcher) Fetch(ctx context.Context, id core.ChatIdentifier, input map[string]string) (*core.FetchRecord, error) {
	started := f.now()
	log := f.logger.WithIdentifier(id.String())
	rec := &core.FetchRecord{
		Identifier: id,
		Input:      input,
		CanSend:    core.SendUnknown,
	}

	for retries := 0; ; retries++ {
		rec.Attempts++
		if err := f.pacer.Wait(ctx); err != nil {
			return f.interrupted(rec), err
		}

		entity, err := f.provider.ResolveEntity(ctx, id)
		if err == nil {
			f.fill(ctx, rec, entity)
			rec.AccessStatus = core.AccessSuccess
			rec.CheckedAt = f.now()
			f.metrics.ObserveFetch(string(rec.AccessStatus), f.now().Sub(started))
			log.Debug("fetched", "title", rec.Title, "count_source", rec.MemberCountSource, "attempts", rec.Attempts)
			return rec, nil
		}
		if ctx.Err() != nil {
			return f.interrupted(rec), ctx.Err()
		}

		fault := core.AsFault(err)
		d := f.classifier.Classify(fault, id.String(), retries)
		switch d.Action {
		case ActionSkip:
			rec.AccessStatus = core.AccessDenied
			rec.ErrorMessage = fault.Error()
			rec.CheckedAt = f.now()
			f.metrics.ObserveFetch(string(rec.AccessStatus), f.now().Sub(started))
			log.Info("access denied", "reason", fault.Reason)
			return rec, nil

		case ActionFail:
			exhausted := &RetryExhaustedError{Identifier: id.String(), Attempts: rec.Attempts, LastErr: fault}
			rec.AccessStatus = core.AccessError
			rec.ErrorMessage = exhausted.Error()
			rec.CheckedAt = f.now()
			f.metrics.ObserveFetch(string(rec.AccessStatus), f.now().Sub(started))
			log.Warn("giving up", "reason", fault.Reason, "attempts", rec.Attempts, "error", fault.Error())
			return rec, nil

		case ActionAbort:
			log.Error("aborting run", "kind", fault.Kind.String(), "reason", fault.Reason, "error", d.Err)
			return nil, d.Err

		case ActionRetry:
			f.metrics.ObserveRetry(fault.Reason)
			if fault.Kind == core.FaultThrottle {
				f.metrics.ObserveThrottle(fault.Wait)
				log.Warn("provider requested a wait", "wait", fault.Wait.String(), "sleep", d.After.Round(time.Second).String())
			} else {
				log.Info("retrying", "reason", fault.Reason, "after", d.After.String(), "retry", retries+1)
			}
			if err := f.sleeper.Sleep(ctx, d.After); err != nil {
				return f.interrupted(rec), err
			}
		}
	}
}

func (f *Fetcher) interrupted(rec *core.FetchRecord) *core.FetchRecord {
	rec.AccessStatus = core.AccessError
	rec.ErrorMessage = InterruptedMessage
	rec.CheckedAt = f.now()
	return rec
}

// fill copies entity attributes and runs the best-effort secondary calls.
func (f *Fetcher) fill(ctx context.Context, rec *core.FetchRecord, e *core.Entity) {
	rec.ResolvedID = e.ID
	rec.Title = e.Title
	rec.Handle = e.Username
	rec.ChatKind = e.Kind
	if rec.ChatKind == "" {
		rec.ChatKind = core.ChatKindUnknown
	}
	rec.CreatedAt = e.CreatedAt

	full := f.fullInfo(ctx, rec, e)
	if full != nil {
		rec.OnlineCount = full.OnlineCount
		rec.SlowModeDelay = full.SlowModeSeconds
		rec.PinnedMessageID = full.PinnedMessageID
		rec.LinkedChatID = full.LinkedChatID
	}

	rec.MemberCount, rec.MemberCountSource = f.memberCount(ctx, rec, e, full)
	f.metrics.ObserveCountSource(rec.MemberCountSource)
	rec.CanSend = f.sendPermission(ctx, rec, e)
}

func (f *Fetcher) fullInfo(ctx context.Context, rec *core.FetchRecord, e *core.Entity) *core.FullInfo {
	full, err := f.provider.GetFullInfo(ctx, e)
	if err != nil {
		f.logger.WithIdentifier(rec.Identifier.String()).Debug("full info unavailable", "error", err)
		return nil
	}
	return full
}

// memberCount walks entity attribute, participant enumeration, full info and
// the secondary lookup, stopping at the first positive count. Only the
// secondary lookup reports exact counts, so only its zero is trusted.
func (f *Fetcher) memberCount(ctx context.Context, rec *core.FetchRecord, e *core.Entity, full *core.FullInfo) (*int, string) {
	log := f.logger.WithIdentifier(rec.Identifier.String())

	if n := e.ParticipantsCount; n != nil && *n > 0 {
		return core.Int(*n), core.CountSourceEntity
	}

	n, err := f.provider.GetParticipantCount(ctx, e)
	switch {
	case err != nil:
		log.Debug("participant enumeration failed", "error", err)
	case n > 0:
		return core.Int(n), core.CountSourceEnumerate
	}

	if full != nil && full.ParticipantsCount != nil && *full.ParticipantsCount > 0 {
		return core.Int(*full.ParticipantsCount), core.CountSourceFullInfo
	}

	if f.counter != nil {
		n, err := f.counter.MemberCount(ctx, e)
		if err == nil && n >= 0 {
			return core.Int(n), core.CountSourceLookup
		}
		if err != nil {
			log.Debug("member count lookup failed", "error", err)
		}
	}
	return nil, ""
}

func (f *Fetcher) sendPermission(ctx context.Context, rec *core.FetchRecord, e *core.Entity) core.SendPermission {
	if f.selfID == 0 {
		return core.SendUnknown
	}
	perms, err := f.provider.GetPermissions(ctx, e, f.selfID)
	if err != nil {
		f.logger.WithIdentifier(rec.Identifier.String()).Debug("permission probe failed", "error", err)
		return core.SendUnknown
	}
	switch {
	case perms == nil:
		return core.SendUnknown
	case perms.Banned:
		return core.SendDenied
	case perms.CanSendMessages == nil:
		return core.SendUnknown
	case *perms.CanSendMessages:
		return core.SendAllowed
	default:
		return core.SendDenied
	}
}
