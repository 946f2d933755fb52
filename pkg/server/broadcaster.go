// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package server

import "sync"

// Broadcaster fans encoded messages out to subscribers. A subscriber whose
// buffer is full misses the message rather than blocking the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan []byte
	nextID int
	header []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan []byte)}
}

// SetHeader sets the message every new subscriber receives first
func (b *Broadcaster) SetHeader(msg []byte) {
	b.mu.Lock()
	b.header = msg
	b.mu.Unlock()
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan []byte) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan []byte, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.header != nil {
		ch <- b.header
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends msg to every subscriber and returns how many dropped it
func (b *Broadcaster) Publish(msg []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var dropped int
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

// Close unsubscribes everyone
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
