package pgwire

import (
	"context"
	"strings"
	"sync"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/internal/pipe"
)

// Notification is one LISTEN/NOTIFY event.
type Notification struct {
	PID     int32 // backend pid of the notifying session
	Channel string
	Payload string
}

// NotificationHandler receives notifications for one registration.
type NotificationHandler func(Notification)

// channelState tracks one LISTENed channel. The subscribed latch guards
// against the race between issuing LISTEN and receiving notifications:
// until the round-trip resolves it, inbound notifications for the
// channel are discarded, because they may belong to an earlier
// subscription generation and gaps are already possible.
type channelState struct {
	listeners  map[*Listener]struct{}
	subscribed *pipe.Deferred[struct{}]
}

// Listener is one registration on a notification channel. Closing the
// last Listener of a channel issues UNLISTEN.
type Listener struct {
	conn    *Connection
	channel string
	handler NotificationHandler
}

// Channel returns the channel name this registration is bound to.
func (l *Listener) Channel() string {
	return l.channel
}

// Listen subscribes fn to a notification channel. The first registration
// for a channel performs the LISTEN round-trip; later ones share it and
// return once the subscription is confirmed.
func (c *Connection) Listen(ctx context.Context, channel string, fn NotificationHandler) (*Listener, error) {
	if strings.ContainsAny(channel, `\"`) {
		return nil, errs.Newf(errs.KindContract, "invalid channel name %q", channel)
	}
	l := &Listener{conn: c, channel: channel, handler: fn}

	c.listenMu.Lock()
	if st, ok := c.channels[channel]; ok {
		st.listeners[l] = struct{}{}
		sub := st.subscribed
		c.listenMu.Unlock()
		if _, err := sub.Wait(ctx); err != nil {
			c.removeListener(l)
			return nil, err
		}
		return l, nil
	}
	st := &channelState{
		listeners:  map[*Listener]struct{}{l: {}},
		subscribed: pipe.NewDeferred[struct{}](),
	}
	c.channels[channel] = st
	c.listenMu.Unlock()

	if err := c.exec(ctx, `LISTEN "`+channel+`"`); err != nil {
		c.listenMu.Lock()
		delete(c.channels, channel)
		c.listenMu.Unlock()
		st.subscribed.Reject(err)
		return nil, err
	}
	st.subscribed.Resolve(struct{}{})
	return l, nil
}

// Close removes the registration. When it was the channel's last, the
// channel entry is unregistered before the UNLISTEN round-trip: from
// that moment no notification can route to any of its listeners, and
// the subscribed-latch rule covers anything already in flight.
func (l *Listener) Close(ctx context.Context) error {
	if !l.conn.removeListener(l) {
		return nil
	}
	return l.conn.exec(ctx, `UNLISTEN "`+l.channel+`"`)
}

// removeListener detaches l and reports whether it emptied the channel.
func (c *Connection) removeListener(l *Listener) bool {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	st, ok := c.channels[l.channel]
	if !ok {
		return false
	}
	delete(st.listeners, l)
	if len(st.listeners) > 0 {
		return false
	}
	delete(c.channels, l.channel)
	return true
}

// handleNotification runs in the dispatcher. All listeners of the
// channel are invoked concurrently and awaited, so slow handlers exert
// backpressure on the whole message stream.
func (c *Connection) handleNotification(n Notification) {
	if c.opts.OnNotification != nil {
		c.opts.OnNotification(n)
	}

	c.listenMu.Lock()
	st, ok := c.channels[n.Channel]
	if !ok || st.subscribed.State() != pipe.Fulfilled {
		c.listenMu.Unlock()
		return
	}
	handlers := make([]NotificationHandler, 0, len(st.listeners))
	for l := range st.listeners {
		handlers = append(handlers, l.handler)
	}
	c.listenMu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h NotificationHandler) {
			defer wg.Done()
			h(n)
		}(h)
	}
	wg.Wait()
}
