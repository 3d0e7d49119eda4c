package client

import "sync"

// Credentials holds the bearer token shared by clients and notifies subscribers on change.
type Credentials struct {
	mu          sync.RWMutex
	token       string
	nextID      int
	subscribers map[int]func(string)
}

func NewCredentials(token string) *Credentials {
	return &Credentials{token: token, subscribers: map[int]func(string){}}
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Set replaces the token and calls every subscriber with the new value.
// Subscribers run synchronously after the lock is released.
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	if token == c.token {
		c.mu.Unlock()
		return
	}
	c.token = token
	listeners := make([]func(string), 0, len(c.subscribers))
	for _, listener := range c.subscribers {
		listeners = append(listeners, listener)
	}
	c.mu.Unlock()

	for _, listener := range listeners {
		listener(token)
	}
}

// Subscribe registers listener and returns a function that removes it.
func (c *Credentials) Subscribe(listener func(string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = listener
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}
