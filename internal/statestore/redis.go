// Package statestore provides a Redis-backed snapshot store for recurrent
// inferer state, so a RecurrentTracker's per-agent memory survives an
// agentd restart instead of resetting every agent back to zero state.
package statestore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v9"
)

// Store wraps a Redis client for per-(brain, agent) float32 state buffers.
type Store struct {
	client *redis.Client
}

// New connects to the Redis instance at addr. If addr is empty, defaults to
// localhost:6379.
func New(addr string) (*Store, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("statestore: connect to redis at %s: %w", addr, err)
	}

	return &Store{client: client}, nil
}

func key(brain uint16, agent uint64) string {
	return fmt.Sprintf("cervo:state:%d:%d", brain, agent)
}

// Save persists agent's state buffer under brain, with the given TTL. A
// zero TTL means the key never expires on its own.
func (s *Store) Save(ctx context.Context, brain uint16, agent uint64, state []float32, ttl time.Duration) error {
	if s.client == nil {
		return fmt.Errorf("statestore: client is nil")
	}
	if err := s.client.Set(ctx, key(brain, agent), encode(state), ttl).Err(); err != nil {
		return fmt.Errorf("statestore: save brain=%d agent=%d: %w", brain, agent, err)
	}
	return nil
}

// Load retrieves agent's state buffer under brain. The second return value
// is false if no snapshot is stored (a cold start, or one that already
// expired).
func (s *Store) Load(ctx context.Context, brain uint16, agent uint64) ([]float32, bool, error) {
	if s.client == nil {
		return nil, false, fmt.Errorf("statestore: client is nil")
	}
	raw, err := s.client.Get(ctx, key(brain, agent)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statestore: load brain=%d agent=%d: %w", brain, agent, err)
	}
	state, err := decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("statestore: decode brain=%d agent=%d: %w", brain, agent, err)
	}
	return state, true, nil
}

// Delete drops agent's stored state under brain, if any.
func (s *Store) Delete(ctx context.Context, brain uint16, agent uint64) error {
	if s.client == nil {
		return fmt.Errorf("statestore: client is nil")
	}
	if err := s.client.Del(ctx, key(brain, agent)).Err(); err != nil {
		return fmt.Errorf("statestore: delete brain=%d agent=%d: %w", brain, agent, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func encode(state []float32) []byte {
	buf := make([]byte, 4*len(state))
	for i, v := range state {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 4", len(raw))
	}
	state := make([]float32, len(raw)/4)
	for i := range state {
		state[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return state, nil
}
