package kvstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := NewRedisFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisFromURL: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisGetMiss(t *testing.T) {
	s, _ := newTestRedis(t)

	data, ok := s.Get(context.Background(), "nonexistent-key")
	if ok {
		t.Fatal("expected miss, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data on miss, got %v", data)
	}
}

func TestRedisSetAndGetHit(t *testing.T) {
	s, _ := newTestRedis(t)

	key := "mock-key"
	want := []byte("42")

	if err := s.Set(context.Background(), key, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected hit, got miss")
	}
	if string(got) != string(want) {
		t.Fatalf("Get returned %q, want %q", got, want)
	}
}

func TestRedisGracefulDegradationGet(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisFromURL: %v", err)
	}
	defer s.Close()

	mr.Close()

	data, ok := s.Get(context.Background(), "any-key")
	if ok {
		t.Fatal("expected miss when redis is down, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data when redis is down, got %v", data)
	}
}

func TestRedisGracefulDegradationSet(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisFromURL: %v", err)
	}
	defer s.Close()

	mr.Close()

	if err := s.Set(context.Background(), "any-key", []byte("value")); err != nil {
		t.Fatalf("Set must return nil on redis error for graceful degradation, got: %v", err)
	}
}

func TestRedisInvalidURL(t *testing.T) {
	_, err := NewRedisFromURL(context.Background(), "not-a-valid-url")
	if err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}

func TestRedisImplementsInterface(t *testing.T) {
	var _ KVStore = (*Redis)(nil)
}
