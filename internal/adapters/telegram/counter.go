package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// MemberCounter is the secondary member-count lookup backed by
// getChatMembersCount. Lookups share one rate limiter.
type MemberCounter struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logging.Logger
}

// NewMemberCounter creates a counter authenticated by token. WithTimeout
// bounds each lookup and WithLookupRate sets the limiter.
func NewMemberCounter(token string, opts ...Option) *MemberCounter {
	s := newSettings(opts)
	limit := rate.Inf
	if s.lookupRPS > 0 {
		limit = rate.Limit(s.lookupRPS)
	}
	return &MemberCounter{
		bot:     newBot(s.httpClient, s.baseURL, token),
		limiter: rate.NewLimiter(limit, 1),
		timeout: s.timeout,
		logger:  s.logger.WithComponent("member_counter"),
	}
}

// MemberCount implements core.MemberCounter. The Bot API reports exact
// counts, so a zero result is genuine.
func (c *MemberCounter) MemberCount(ctx context.Context, e *core.Entity) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	n, err := call(ctx, "getChatMembersCount", func() (int, error) {
		return c.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: entityChatConfig(e)})
	})
	if err != nil {
		c.logger.Debug("member count lookup failed", "chat", e.ID, "error", err)
		return 0, err
	}
	if n < 0 {
		return 0, core.PermanentFault(core.ReasonGeneric, "negative member count")
	}
	return n, nil
}
