package session

import (
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const memcachedKeyPrefix = "session:"

// MemcachedBackend stores the credential in memcached so several thin
// clients on one host can share a login. Entries never expire.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedBackend {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedBackend{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func memcachedKey(k string) string {
	return memcachedKeyPrefix + k
}

func (b *MemcachedBackend) Load(key string) (string, bool, error) {
	item, err := b.client.Get(memcachedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(item.Value), len(item.Value) > 0, nil
}

func (b *MemcachedBackend) Save(key, token string) error {
	return b.client.Set(&memcache.Item{
		Key:   memcachedKey(key),
		Value: []byte(token),
	})
}

func (b *MemcachedBackend) Delete(key string) error {
	err := b.client.Delete(memcachedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (b *MemcachedBackend) Ping() error {
	return b.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (b *MemcachedBackend) Close() error {
	return b.client.Close()
}
