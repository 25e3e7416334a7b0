package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 2
)

type EventType string

type SubscriberID int

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Type      EventType
	Data      any
}

func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type asyncEvent struct {
	eventType EventType
	event     Event
}

type subscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.ch <- evt
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus fans events out to per-type subscribers. Publish blocks on slow
// subscribers; PublishAsync hands the event to a worker pool instead.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[SubscriberID]*subscriber
	lastID      SubscriberID
	metrics     *busMetrics
	logger      logrus.FieldLogger

	asyncQueue chan asyncEvent
	asyncWg    sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewBus(reg prometheus.Registerer, logger logrus.FieldLogger) *Bus {
	b := &Bus{
		subscribers: make(map[EventType]map[SubscriberID]*subscriber),
		logger:      logger,
		asyncQueue:  make(chan asyncEvent, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if reg != nil {
		b.metrics = newBusMetrics(reg)
	}
	for range AsyncWorkerPoolSize {
		b.asyncWg.Add(1)
		go b.asyncWorker()
	}
	return b
}

func (b *Bus) asyncWorker() {
	defer b.asyncWg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case ae := <-b.asyncQueue:
			b.Publish(ae.eventType, ae.event)
		}
	}
}

// Subscribe returns a channel receiving every event of the given type.
func (b *Bus) Subscribe(eventType EventType) (SubscriberID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, EventQueueSize)}
	b.lastID++
	id := b.lastID
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]*subscriber)
	}
	b.subscribers[eventType][id] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return id, sub.ch
}

// SubscribeFunc calls handler for every event of the given type on its own
// goroutine, until the subscription is dropped.
func (b *Bus) SubscribeFunc(eventType EventType, handler HandlerFunc) SubscriberID {
	id, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handler(evt)
		}
	}()
	return id
}

func (b *Bus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	var sub *subscriber
	if subs, ok := b.subscribers[eventType]; ok {
		if s, ok := subs[id]; ok {
			sub = s
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, eventType)
			}
			if b.metrics != nil {
				b.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
	b.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

func (b *Bus) Publish(eventType EventType, evt Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers[eventType]))
	for _, sub := range b.subscribers[eventType] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(evt)
	}
	if b.metrics != nil {
		b.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync queues the event and returns immediately. It reports false
// when the bus is stopped or the queue is full; the event is dropped.
func (b *Bus) PublishAsync(eventType EventType, evt Event) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	select {
	case b.asyncQueue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		b.logger.WithField("type", eventType).Warn("async event queue full, dropping event")
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues(string(eventType)).Inc()
		}
		return false
	}
}

// Stop halts the async workers and closes every subscriber channel. A
// stopped bus can not be restarted.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.asyncWg.Wait()

		b.mu.Lock()
		subs := b.subscribers
		b.subscribers = make(map[EventType]map[SubscriberID]*subscriber)
		b.mu.Unlock()

		for _, typeSubs := range subs {
			for _, sub := range typeSubs {
				sub.close()
			}
		}
		if b.metrics != nil {
			b.metrics.subscribers.Reset()
		}
	})
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%s", e.Type, e.Timestamp.Format(time.RFC3339))
}
