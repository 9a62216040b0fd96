package telegram

import (
	"context"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
)

// Compile-time interface checks.
var (
	_ core.Provider      = (*Provider)(nil)
	_ core.MemberCounter = (*MemberCounter)(nil)
)

// Bot API ids for supergroups and channels carry this offset.
const channelIDOffset = 1_000_000_000_000

type settings struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *logging.Logger
	lookupRPS  float64
}

// Option configures a Provider or MemberCounter.
type Option func(*settings)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithBaseURL points the client at another Bot API server.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		s.baseURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithLookupRate limits MemberCounter lookups to rps per second.
func WithLookupRate(rps float64) Option {
	return func(s *settings) {
		s.lookupRPS = rps
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{
		baseURL:   DefaultBaseURL,
		timeout:   30 * time.Second,
		logger:    logging.NewNop(),
		lookupRPS: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.timeout}
	}
	return s
}

// Provider implements core.Provider with Bot API calls.
type Provider struct {
	bot    *tgbotapi.BotAPI
	logger *logging.Logger

	mu    sync.Mutex
	chats map[int64]*tgbotapi.Chat
}

// New creates a provider authenticated by token.
func New(token string, opts ...Option) *Provider {
	s := newSettings(opts)
	return &Provider{
		bot:    newBot(s.httpClient, s.baseURL, token),
		logger: s.logger.WithComponent("telegram"),
		chats:  make(map[int64]*tgbotapi.Chat),
	}
}

// Connect implements core.Provider. The Bot API is stateless, so this only
// checks that a token is configured.
func (p *Provider) Connect(_ context.Context) error {
	if p.bot.Token == "" {
		return core.FatalFault(core.ReasonUnauthorized, "no bot token configured", nil)
	}
	return nil
}

// IsAuthorized implements core.Provider using getMe.
func (p *Provider) IsAuthorized(ctx context.Context) (int64, bool, error) {
	me, err := call(ctx, "getMe", p.bot.GetMe)
	if err != nil {
		if f := core.AsFault(err); f != nil && f.Kind == core.FaultFatal && f.Reason == core.ReasonUnauthorized {
			return 0, false, nil
		}
		return 0, false, err
	}
	p.bot.Self = me
	p.logger.Debug("authorized", "bot", me.UserName, "bot_id", me.ID)
	return me.ID, true, nil
}

// ResolveEntity implements core.Provider using getChat. Numeric ids are
// tried as a channel or supergroup first, then as a basic group.
func (p *Provider) ResolveEntity(ctx context.Context, id core.ChatIdentifier) (*core.Entity, error) {
	var (
		chat tgbotapi.Chat
		err  error
	)
	if id.IsHandle() {
		chat, err = p.getChat(ctx, tgbotapi.ChatConfig{SuperGroupUsername: id.APIForm()})
	} else {
		chat, err = p.getChat(ctx, tgbotapi.ChatConfig{ChatID: -(channelIDOffset + id.ID)})
		if f := core.AsFault(err); f != nil && f.Kind == core.FaultPermanent && f.Reason == core.ReasonNotFound {
			chat, err = p.getChat(ctx, tgbotapi.ChatConfig{ChatID: -id.ID})
		}
	}
	if err != nil {
		return nil, err
	}

	e := &core.Entity{
		ID:       peerID(chat.ID),
		Title:    chatTitle(&chat),
		Username: chat.UserName,
		Kind:     chatKind(chat.Type),
	}
	p.remember(e.ID, &chat)
	return e, nil
}

// GetParticipantCount implements core.Provider. Bots cannot list members;
// getChatAdministrators only sees administrators, and its length is not a
// member count, so enumeration always defers to the exact lookup.
func (p *Provider) GetParticipantCount(_ context.Context, _ *core.Entity) (int, error) {
	return 0, core.PermanentFault(core.ReasonAdminRequired, "participant enumeration is not available to bots")
}

// GetFullInfo implements core.Provider from the getChat payload, reusing the
// one fetched by ResolveEntity when available.
func (p *Provider) GetFullInfo(ctx context.Context, e *core.Entity) (*core.FullInfo, error) {
	chat, err := p.cachedChat(ctx, e)
	if err != nil {
		return nil, err
	}
	info := &core.FullInfo{}
	if chat.Type == "supergroup" || chat.SlowModeDelay > 0 {
		info.SlowModeSeconds = core.Int(chat.SlowModeDelay)
	}
	if chat.LinkedChatID != 0 {
		info.LinkedChatID = core.Int64(peerID(chat.LinkedChatID))
	}
	if chat.PinnedMessage != nil {
		info.PinnedMessageID = core.Int64(int64(chat.PinnedMessage.MessageID))
	}
	return info, nil
}

// GetPermissions implements core.Provider using getChatMember.
func (p *Provider) GetPermissions(ctx context.Context, e *core.Entity, userID int64) (*core.Permissions, error) {
	cfg := p.chatConfig(e)
	m, err := call(ctx, "getChatMember", func() (tgbotapi.ChatMember, error) {
		return p.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				ChatID:             cfg.ChatID,
				SuperGroupUsername: cfg.SuperGroupUsername,
				UserID:             userID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	channel := e.Kind == core.ChatKindChannel
	perms := &core.Permissions{}
	switch m.Status {
	case "creator":
		perms.CanSendMessages = core.Bool(true)
	case "administrator":
		perms.CanSendMessages = core.Bool(!channel || m.CanPostMessages)
	case "restricted":
		perms.CanSendMessages = core.Bool(m.CanSendMessages)
	case "kicked":
		perms.Banned = true
	case "left":
		perms.CanSendMessages = core.Bool(false)
	case "member":
		if channel {
			perms.CanSendMessages = core.Bool(false)
		} else if chat := p.lookup(e.ID); chat != nil && chat.Permissions != nil {
			perms.CanSendMessages = core.Bool(chat.Permissions.CanSendMessages)
		}
	}
	return perms, nil
}

// Close implements core.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.chats = make(map[int64]*tgbotapi.Chat)
	p.mu.Unlock()
	if c, ok := p.bot.Client.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (p *Provider) getChat(ctx context.Context, cfg tgbotapi.ChatConfig) (tgbotapi.Chat, error) {
	return call(ctx, "getChat", func() (tgbotapi.Chat, error) {
		return p.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	})
}

func (p *Provider) remember(id int64, chat *tgbotapi.Chat) {
	p.mu.Lock()
	p.chats[id] = chat
	p.mu.Unlock()
}

func (p *Provider) lookup(id int64) *tgbotapi.Chat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats[id]
}

func (p *Provider) cachedChat(ctx context.Context, e *core.Entity) (*tgbotapi.Chat, error) {
	if chat := p.lookup(e.ID); chat != nil {
		return chat, nil
	}
	chat, err := p.getChat(ctx, p.chatConfig(e))
	if err != nil {
		return nil, err
	}
	p.remember(e.ID, &chat)
	return &chat, nil
}

// chatConfig addresses e: the exact id from getChat when known, otherwise
// the handle or an id marked by kind.
func (p *Provider) chatConfig(e *core.Entity) tgbotapi.ChatConfig {
	if chat := p.lookup(e.ID); chat != nil {
		return tgbotapi.ChatConfig{ChatID: chat.ID}
	}
	return entityChatConfig(e)
}

func entityChatConfig(e *core.Entity) tgbotapi.ChatConfig {
	if e.Username != "" {
		return tgbotapi.ChatConfig{SuperGroupUsername: "@" + e.Username}
	}
	return tgbotapi.ChatConfig{ChatID: markedID(e.ID, e.Kind)}
}

// peerID strips the Bot API sign and channel offset.
func peerID(marked int64) int64 {
	switch {
	case marked <= -channelIDOffset:
		return -marked - channelIDOffset
	case marked < 0:
		return -marked
	default:
		return marked
	}
}

// markedID is the inverse of peerID for a known chat kind.
func markedID(id int64, kind core.ChatKind) int64 {
	switch kind {
	case core.ChatKindChannel, core.ChatKindSupergroup:
		return -(channelIDOffset + id)
	case core.ChatKindGroup:
		return -id
	default:
		return id
	}
}

func chatKind(t string) core.ChatKind {
	switch t {
	case "channel":
		return core.ChatKindChannel
	case "supergroup":
		return core.ChatKindSupergroup
	case "group":
		return core.ChatKindGroup
	case "private":
		return core.ChatKindPrivate
	default:
		return core.ChatKindUnknown
	}
}

func chatTitle(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.LastName != "" {
		return c.FirstName + " " + c.LastName
	}
	return c.FirstName
}
