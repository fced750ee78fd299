// Package realtime subscribes to the store's per-camp schedule-write
// notification channel over a websocket and forwards each notification
// to the engine's remote-change merger. The listener owns its reconnect
// loop: transient failures back off exponentially up to a cap and the
// subscription is re-established on every new connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/oauth2"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Notification is one decoded store push: another editor wrote a
// schedule slice for a date.
type Notification struct {
	Table     string `json:"table"`
	CampID    string `json:"camp_id"`
	DateKey   string `json:"date_key"`
	Scheduler string `json:"scheduler"`
}

// Handler consumes decoded notifications. Errors are logged, not fatal
// to the listener.
type Handler func(ctx context.Context, n Notification) error

// Listener maintains the notification subscription for one camp.
type Listener struct {
	url     string
	campID  string
	token   oauth2.TokenSource
	handler Handler
	logger  *slog.Logger

	// injectable for tests
	dial  func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a listener. The handler is invoked sequentially, one
// notification at a time, on the listener's goroutine.
func New(url, campID string, token oauth2.TokenSource, handler Handler, logger *slog.Logger) *Listener {
	return &Listener{
		url:     url,
		campID:  campID,
		token:   token,
		handler: handler,
		logger:  logger,
		dial:    websocket.Dial,
		sleep:   sleepContext,
	}
}

// Listen runs until the context ends. Each connection subscribes to the
// camp's channel and reads notifications; any failure tears the
// connection down and reconnects with exponential backoff. A clean read
// loop resets the backoff.
func (l *Listener) Listen(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.runConnection(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		l.logger.Warn("realtime connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// subscribeMsg is the channel-join frame the store expects.
type subscribeMsg struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}

// runConnection dials, subscribes, and reads until failure.
func (l *Listener) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := l.dial(dialCtx, l.url, nil)
	if err != nil {
		return fmt.Errorf("realtime: dialing %s: %w", l.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := subscribeMsg{Action: "subscribe", Channel: "schedule_writes:" + l.campID}

	if l.token != nil {
		tok, err := l.token.Token()
		if err != nil {
			return fmt.Errorf("realtime: reading token: %w", err)
		}

		sub.Token = tok.AccessToken
	}

	frame, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("realtime: encoding subscribe: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("realtime: subscribing: %w", err)
	}

	l.logger.Info("realtime connected", slog.String("camp_id", l.campID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("realtime: reading: %w", err)
		}

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			l.logger.Warn("discarding undecodable notification",
				slog.String("error", err.Error()),
			)

			continue
		}

		// Notifications for other camps can leak through a misconfigured
		// channel; drop them rather than merging foreign state.
		if n.CampID != "" && n.CampID != l.campID {
			continue
		}

		if n.DateKey == "" {
			continue
		}

		if err := l.handler(ctx, n); err != nil {
			l.logger.Warn("notification handler failed",
				slog.String("date", n.DateKey),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sleepContext sleeps for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
