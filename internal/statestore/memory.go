package statestore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process StateStore used by the tests. It implements
// the same interface so callers never special-case it; NewMemoryStore(true)
// models the degraded "fallback" posture, in which only the Fallback() flag
// changes behavior. The server itself does not use it: when Redis is
// unreachable at startup, cmd/server keeps the RedisStore with its fallback
// flag set.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]string
	expires  map[string]time.Time
	sets     map[string]map[string]struct{}
	fallback bool
}

// NewMemoryStore returns a ready MemoryStore. Pass fallback=true to model
// the degraded posture used when the real backend is unreachable.
func NewMemoryStore(fallback bool) *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		expires:  make(map[string]time.Time),
		sets:     make(map[string]map[string]struct{}),
		fallback: fallback,
	}
}

func (s *MemoryStore) Fallback() bool { return s.fallback }

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) expired(key string) bool {
	exp, ok := s.expires[key]
	return ok && time.Now().After(exp)
}

func (s *MemoryStore) evictIfExpired(key string) {
	if s.expired(key) {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.expires, key)
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfExpired(key)
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	if ttl > 0 {
		s.expires[key] = time.Now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
		delete(s.expires, k)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfExpired(key)
	_, ok := s.values[key]
	return ok, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictIfExpired(key)
	cur, _ := strconv.ParseInt(s.values[key], 10, 64)
	cur++
	s.values[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		if _, ok := s.sets[key]; !ok {
			return nil
		}
	}
	s.expires[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Scan(_ context.Context, pattern string, _ int64, fn func(key string) error) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if s.expired(k) {
			continue
		}
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// globMatch implements Redis-style MATCH semantics: '*' matches any
// sequence of bytes (including '/'), '?' matches exactly one byte, and a
// backslash escapes the following character to a literal. Unlike
// path.Match, '*' is never blocked by a path separator — Redis keys aren't
// filesystem paths.
func globMatch(pattern, s string) bool {
	p, str := []byte(pattern), []byte(s)
	pi, si := 0, 0
	starIdx, matchIdx := -1, 0

	for si < len(str) {
		switch {
		case pi < len(p) && p[pi] == '\\' && pi+1 < len(p):
			if p[pi+1] == str[si] {
				pi += 2
				si++
			} else if starIdx != -1 {
				pi = starIdx + 1
				matchIdx++
				si = matchIdx
			} else {
				return false
			}
		case pi < len(p) && p[pi] == '?':
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			starIdx = pi
			matchIdx = si
			pi++
		case pi < len(p) && p[pi] == str[si]:
			pi++
			si++
		case starIdx != -1:
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
