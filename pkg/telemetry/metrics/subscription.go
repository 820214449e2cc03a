package metrics

import "sync"

// Subscription delivers recorded requests to one Observer on its own
// goroutine.
type Subscription struct {
	collector *Collector
	events    chan RequestMetrics
	done      chan struct{}
	once      sync.Once
}

// Subscribe registers obs. Events reach obs asynchronously and in record
// order; if obs falls behind by more than the event buffer, further events
// are dropped and counted in Aggregate.DroppedEvents.
func (c *Collector) Subscribe(obs Observer) *Subscription {
	s := &Subscription{
		collector: c,
		events:    make(chan RequestMetrics, c.bufferSize),
		done:      make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		for m := range s.events {
			obs.OnRequest(m)
		}
	}()

	c.subsMu.Lock()
	c.subs[s] = struct{}{}
	c.subsMu.Unlock()
	return s
}

// SubscribeFunc registers a plain function as an observer.
func (c *Collector) SubscribeFunc(fn func(RequestMetrics)) *Subscription {
	return c.Subscribe(ObserverFunc(fn))
}

func (c *Collector) publish(m RequestMetrics) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for s := range c.subs {
		select {
		case s.events <- m:
		default:
			c.dropped.Add(1)
		}
	}
}

// Close unsubscribes and waits until every buffered event was delivered.
func (s *Subscription) Close() {
	s.once.Do(func() {
		c := s.collector
		c.subsMu.Lock()
		delete(c.subs, s)
		close(s.events)
		c.subsMu.Unlock()
	})
	<-s.done
}

// Close ends every subscription.
func (c *Collector) Close() {
	c.subsMu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subsMu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}
