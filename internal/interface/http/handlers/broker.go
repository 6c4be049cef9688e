package handlers

import (
	"maps"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const listenerBufferSize = 100

type listener[T any] struct {
	id     string
	topics map[string]struct{}
	ch     chan T
}

func newListener[T any](id string, topics []string) *listener[T] {
	topicsMap := make(map[string]struct{})
	for _, topic := range topics {
		if topic = formatTopic(topic); topic != "" {
			topicsMap[topic] = struct{}{}
		}
	}
	return &listener[T]{
		id:     id,
		topics: topicsMap,
		ch:     make(chan T, listenerBufferSize),
	}
}

// includesAny returns true if the listener didn't subscribe to any topic or if it subscribed to
// at least one of the given ones.
func (l *listener[T]) includesAny(topics []string) bool {
	if len(l.topics) == 0 {
		return true
	}
	for _, topic := range topics {
		if _, ok := l.topics[formatTopic(topic)]; ok {
			return true
		}
	}
	return false
}

// broker fans out transfer events to the open event streams.
// It is safe for concurrent use.
type broker[T any] struct {
	lock      *sync.RWMutex
	listeners map[string]*listener[T]
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{
		lock:      &sync.RWMutex{},
		listeners: make(map[string]*listener[T]),
	}
}

func (b *broker[T]) pushListener(l *listener[T]) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.listeners[l.id] = l
}

func (b *broker[T]) removeListener(id string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	delete(b.listeners, id)
}

func (b *broker[T]) getListenersCopy() map[string]*listener[T] {
	b.lock.RLock()
	defer b.lock.RUnlock()

	listenersCopy := make(map[string]*listener[T], len(b.listeners))
	maps.Copy(listenersCopy, b.listeners)
	return listenersCopy
}

func (b *broker[T]) hasListeners() bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.listeners) > 0
}

// publish never blocks: a listener whose buffer is full misses the event.
func (b *broker[T]) publish(event T, topics []string) int {
	count := 0
	for id, l := range b.getListenersCopy() {
		if !l.includesAny(topics) {
			continue
		}
		select {
		case l.ch <- event:
			count++
		default:
			log.WithField("listener", id).Warn("event stream buffer is full, dropping event")
		}
	}
	return count
}

func formatTopic(topic string) string {
	return strings.TrimSpace(strings.ToLower(topic))
}
