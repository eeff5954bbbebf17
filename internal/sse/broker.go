// Package sse streams synchronization events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/todosync/internal/syncer"
)

// Event types.
const (
	TypePassCompleted = "pass.completed"
	TypePassFailed    = "pass.failed"
	TypeTodoCreated   = "todo.created"
	TypeTodoCompleted = "todo.completed"
	TypeTodoArchived  = "todo.archived"
	TypeTodosChanged  = "todos.changed"
)

const (
	historySize  = 128
	clientBuffer = 64
)

// Event is one message broadcast to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is an encoded event kept for replay.
type frame struct {
	id  uint64
	typ string
	raw []byte
}

type subscriber struct {
	ch    chan []byte
	types map[string]struct{}
}

func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

func (s *subscriber) send(f frame) {
	if !s.wants(f.typ) {
		return
	}
	select {
	case s.ch <- f.raw:
	default:
		// Slow client; drop rather than stall the loop.
	}
}

type subscribeReq struct {
	sub   *subscriber
	after uint64
}

// batch is published atomically. changed requests a throttled
// todos.changed after the batch.
type batch struct {
	events  []Event
	changed bool
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set, the replay history, the event
// counter and the change throttle; public methods talk to it over channels.
type Broker struct {
	changeMin time.Duration
	keepAlive time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan batch
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. todos.changed is emitted at most once per
// changeThrottle.
func NewBroker(changeThrottle time.Duration) *Broker {
	if changeThrottle <= 0 {
		changeThrottle = 2 * time.Second
	}

	b := &Broker{
		changeMin:     changeThrottle,
		keepAlive:     15 * time.Second,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan batch, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscriber)
	history := make([]frame, 0, historySize)
	var (
		seq        uint64
		lastChange time.Time
	)

	emit := func(e Event) {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, typ: e.Type, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, payload)}
		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, f)
		for _, s := range clients {
			s.send(f)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.sub.ch] = req.sub
			if req.after == 0 {
				continue
			}
			for _, f := range history {
				if f.id > req.after {
					req.sub.send(f)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case bt := <-b.publishCh:
			for _, e := range bt.events {
				emit(e)
			}
			if bt.changed {
				if now := time.Now(); now.Sub(lastChange) >= b.changeMin {
					lastChange = now
					emit(Event{Type: TypeTodosChanged, Data: map[string]string{}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Events with an id above after still in the
// replay history are delivered first. types restricts delivery to those event
// types; none means all.
func (b *Broker) Subscribe(after uint64, types ...string) chan []byte {
	sub := &subscriber{ch: make(chan []byte, clientBuffer)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}

	select {
	case b.subscribeCh <- subscribeReq{sub: sub, after: after}:
	case <-b.stopped:
		close(sub.ch)
	}
	return sub.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts a single event.
func (b *Broker) Publish(event Event) {
	b.publish(batch{events: []Event{event}})
}

// PublishPass publishes the outcome of a sync pass: per-record events, the
// pass summary and a throttled todos.changed when the pass changed anything.
// Its signature matches syncer.Notifier.
func (b *Broker) PublishPass(res *syncer.Result) {
	if res == nil {
		return
	}
	var bt batch
	if rep := res.Report; rep != nil {
		bt.events = appendIDs(bt.events, TypeTodoCreated, rep.CreatedIDs)
		bt.events = appendIDs(bt.events, TypeTodoCompleted, rep.CompletedIDs)
		bt.events = appendIDs(bt.events, TypeTodoArchived, rep.ArchivedIDs)
		bt.changed = rep.Writes() > 0 || rep.Pulled > 0 || rep.Completed > 0 || res.Rewritten > 0
	}
	summary := TypePassCompleted
	if res.Err != nil {
		summary = TypePassFailed
	}
	bt.events = append(bt.events, Event{Type: summary, Data: res.Row()})
	b.publish(bt)
}

func appendIDs(events []Event, typ string, ids []string) []Event {
	for _, id := range ids {
		events = append(events, Event{Type: typ, Data: map[string]string{"id": id}})
	}
	return events
}

func (b *Broker) publish(bt batch) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- bt:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint (GET /api/events).
//
// Query parameter types takes a comma-separated list of event types. A
// reconnecting client resumes from the Last-Event-ID header.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(after, types...)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
