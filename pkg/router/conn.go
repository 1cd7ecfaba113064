package router

import (
	"context"
	"fmt"
	"time"

	"github.com/raycarroll/edgefleet/pkg/models"
)

// ConnState is the state of the stream subscription.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
	Error
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnStatus is a point-in-time view of the subscription.
type ConnStatus struct {
	State     ConnState `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"reconnect_attempts"`
}

// Transport opens subscriptions to the event stream.
type Transport interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live stream of raw messages.
type Subscription interface {
	// Next blocks until a message arrives, the stream breaks or ctx ends.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Conn returns the current subscription status.
func (r *Router) Conn() ConnStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// OnConnChange registers fn for every connection state change.
func (r *Router) OnConnChange(fn func(ConnStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Run keeps a single subscription to t open until ctx ends, reconnecting
// with backoff. Failing to subscribe marks the connection as Error; losing
// an established subscription marks it Disconnected. Run returns nil when
// ctx ends.
func (r *Router) Run(ctx context.Context, t Transport) error {
	backoff := r.backoff
	for {
		sub, err := t.Subscribe(ctx)
		if ctx.Err() != nil {
			if sub != nil {
				_ = sub.Close()
			}
			r.setConn(Disconnected, nil, false)
			return nil
		}
		if err != nil {
			r.log.Warn("Subscribe failed: %v", err)
			r.setConn(Error, err, true)
		} else {
			r.log.Info("Subscribed to event stream")
			r.setConn(Connected, nil, false)
			backoff = r.backoff

			err = r.consume(ctx, sub)
			_ = sub.Close()
			if ctx.Err() != nil {
				r.setConn(Disconnected, nil, false)
				return nil
			}
			err = fmt.Errorf("%w: %v", models.ErrTransportDisconnected, err)
			r.log.Warn("Stream lost: %v", err)
			r.setConn(Disconnected, err, true)
		}

		select {
		case <-ctx.Done():
			r.setConn(Disconnected, nil, false)
			return nil
		case <-r.clock.After(backoff.Step()):
		}
	}
}

func (r *Router) consume(ctx context.Context, sub Subscription) error {
	for {
		raw, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		r.exec(func() { r.OnMessage(raw) })
	}
}

func (r *Router) setConn(state ConnState, err error, retry bool) {
	r.mu.Lock()
	changed := r.conn.State != state
	if changed {
		r.conn.State = state
		r.conn.Since = r.clock.Now()
	}
	switch {
	case err != nil:
		r.conn.LastError = err.Error()
	case state == Connected:
		r.conn.LastError = ""
	}
	if retry {
		r.conn.Attempts++
	}
	status := r.conn
	watchers := r.watchers
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(status)
	}
}
