package session

import "sync"

// MemoryBackend keeps entries in process memory. Sharing one MemoryBackend
// between Stores simulates a reload.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (b *MemoryBackend) Load(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackend) Save(key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = token
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}
