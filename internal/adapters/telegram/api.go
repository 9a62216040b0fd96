// Package telegram implements the metadata provider on top of the Telegram
// Bot API, using the go-telegram-bot-api client.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// DefaultBaseURL is the public Bot API server.
const DefaultBaseURL = "https://api.telegram.org"

// newBot builds a client without the getMe round trip tgbotapi.NewBotAPI
// makes, so construction never touches the network. IsAuthorized performs
// that check explicitly.
func newBot(httpClient *http.Client, baseURL, token string) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: httpClient,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(apiEndpoint(baseURL))
	return bot
}

// apiEndpoint turns a server root into tgbotapi's "<root>/bot%s/%s" format.
func apiEndpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/bot%s/%s"
}

// call runs one blocking client call under ctx. tgbotapi requests carry no
// context, so an expired ctx abandons the call and the HTTP client timeout
// reaps it.
func call[T any](ctx context.Context, method string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.v, mapError(method, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		var zero T
		return zero, contextFault(method, ctx.Err())
	}
}

// mapError is the single point where client errors become faults.
func mapError(method string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return classify(apiErr)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return transportFault(method, urlErr)
	}
	// Undecodable bodies from proxies and gateways.
	return core.TransientFault(core.ReasonGeneric, method+": unexpected response", err)
}

// classify maps a Bot API error reply onto the fault taxonomy.
func classify(e *tgbotapi.Error) *core.Fault {
	desc := e.Message
	lower := strings.ToLower(desc)

	switch {
	case e.Code == http.StatusTooManyRequests:
		wait := time.Duration(e.ResponseParameters.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return core.ThrottleFault(wait, desc)
	case e.Code == http.StatusUnauthorized, e.Code == http.StatusNotFound:
		return core.FatalFault(core.ReasonUnauthorized, "bot token rejected: "+desc, nil)
	case e.Code == http.StatusConflict:
		return core.FatalFault(core.ReasonSessionLocked, desc, nil)
	case e.Code == http.StatusForbidden:
		if strings.Contains(lower, "kicked") || strings.Contains(lower, "banned") {
			return core.PermanentFault(core.ReasonBanned, desc)
		}
		return core.PermanentFault(core.ReasonPrivate, desc)
	case e.Code == http.StatusBadRequest:
		return classifyBadRequest(e, desc, lower)
	case e.Code >= http.StatusInternalServerError:
		return core.TransientFault(core.ReasonConnection, desc, nil)
	default:
		return core.TransientFault(core.ReasonGeneric, desc, nil)
	}
}

func classifyBadRequest(e *tgbotapi.Error, desc, lower string) *core.Fault {
	switch {
	case e.ResponseParameters.MigrateToChatID != 0:
		return core.PermanentFault(core.ReasonNotFound,
			fmt.Sprintf("%s (migrated to %d)", desc, e.ResponseParameters.MigrateToChatID))
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "username_invalid"),
		strings.Contains(lower, "channel_invalid"),
		strings.Contains(lower, "peer_id_invalid"):
		return core.PermanentFault(core.ReasonNotFound, desc)
	case strings.Contains(lower, "admin"),
		strings.Contains(lower, "not enough rights"),
		strings.Contains(lower, "inaccessible"):
		return core.PermanentFault(core.ReasonAdminRequired, desc)
	case strings.Contains(lower, "private"):
		return core.PermanentFault(core.ReasonPrivate, desc)
	default:
		// Unrecognized rejections get the bounded retry.
		return core.TransientFault(core.ReasonGeneric, desc, nil)
	}
}

// transportFault drops the request URL, which embeds the token.
func transportFault(method string, err *url.Error) *core.Fault {
	msg := method + ": " + err.Err.Error()
	if err.Timeout() {
		return core.TransientFault(core.ReasonTimeout, msg, err.Err)
	}
	return core.TransientFault(core.ReasonConnection, msg, err.Err)
}

func contextFault(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.TransientFault(core.ReasonTimeout, method+": deadline exceeded", err)
	}
	return err
}
