package tokencache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Chichichkin/forgelog/internal/securestore"
)

// KeyFor returns the store key holding the device token of clientKey.
func KeyFor(clientKey string) string {
	return "device_" + clientKey
}

// Cache keeps the device token in memory on top of a secure store. A token
// found in the store is cached; absence and store failures are not, so every
// read retries the store until a token shows up. All operations are
// serialized.
type Cache struct {
	mu     sync.Mutex
	store  securestore.Store
	key    string
	cached *string
	log    *logrus.Entry
}

func New(store securestore.Store, clientKey string, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.WithField("component", "tokencache")
	}
	return &Cache{
		store: store,
		key:   KeyFor(clientKey),
		log:   log,
	}
}

// Read never returns a store error; failures are logged and reported as a
// missing token.
func (c *Cache) Read(_ context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return *c.cached, true
	}

	data, ok, err := c.store.Get(c.key)
	if err != nil {
		c.log.WithError(err).Error("failed to read device token from secure store")
		return "", false
	}
	if !ok {
		return "", false
	}

	token := string(data)
	c.cached = &token
	return token, true
}

// Write replaces the in-memory token right away and persists it best-effort.
// A nil token clears both. A persistence failure is only logged, the memory
// copy stays authoritative until the next successful write.
func (c *Cache) Write(_ context.Context, token *string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != nil {
		t := *token
		c.cached = &t
		if err := c.store.Set(c.key, []byte(t)); err != nil {
			c.log.WithError(err).Error("failed to persist device token")
		}
		return
	}

	c.cached = nil
	if err := c.store.Delete(c.key); err != nil {
		c.log.WithError(err).Error("failed to delete device token")
	}
}
