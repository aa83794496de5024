package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	expires []string
	getErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires = append(f.expires, key)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func sampleProfile() *coach.UserProfile {
	return &coach.UserProfile{
		ID:   "u1",
		Name: "Ana",
		Preferences: &coach.Preferences{
			CoachingStyle: coach.StyleDirect,
			FocusAreas:    []string{"Confidence"},
		},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if p, err := s.Get(ctx, "u1"); err != nil || p != nil {
		t.Fatalf("Expected missing profile to be nil, got %+v %v", p, err)
	}
	if p, err := s.AddSessionAnalysis(ctx, "u1", coach.SessionAnalysis{ID: "a0"}); err != nil || p != nil {
		t.Errorf("Expected no update without a profile, got %+v %v", p, err)
	}

	if err := s.Set(ctx, sampleProfile()); err != nil {
		t.Fatalf("Expected set to succeed, got %v", err)
	}
	updated, err := s.AddSessionAnalysis(ctx, "u1", coach.SessionAnalysis{ID: "a1", Topic: "Work", ClarityScore: 8})
	if err != nil || updated == nil {
		t.Fatalf("Expected updated profile, got %v", err)
	}
	if _, err := s.AddSessionAnalysis(ctx, "u1", coach.SessionAnalysis{ID: "a2"}); err != nil {
		t.Fatalf("Expected second append to succeed, got %v", err)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("Expected stored profile, got %v", err)
	}
	if got.Name != "Ana" || got.Preferences.FocusAreas[0] != "Confidence" {
		t.Errorf("Expected stored fields, got %+v", got)
	}
	if len(got.History) != 2 || got.History[0].ID != "a1" || got.History[1].ID != "a2" {
		t.Errorf("Expected history in append order, got %+v", got.History)
	}

	if err := s.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Expected clear to succeed, got %v", err)
	}
	if p, _ := s.Get(ctx, "u1"); p != nil {
		t.Error("Expected profile to be gone after clear")
	}

	if err := s.Set(ctx, &coach.UserProfile{}); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile, got %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Expected ping to succeed, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := sampleProfile()
	s.Set(ctx, p)
	p.Preferences.FocusAreas[0] = "changed"

	got, _ := s.Get(ctx, "u1")
	got.Name = "mutated"
	again, _ := s.Get(ctx, "u1")
	if again.Name != "Ana" || again.Preferences.FocusAreas[0] != "Confidence" {
		t.Errorf("Expected stored profile to be isolated, got %+v", again)
	}
}

func TestRedisStore(t *testing.T) {
	exerciseStore(t, NewRedisStore(newFakeRedis(), time.Hour, zerolog.Nop()))
}

func TestRedisStore_KeyAndTTL(t *testing.T) {
	fake := newFakeRedis()
	s := NewRedisStore(fake, 2*time.Hour, zerolog.Nop())
	ctx := context.Background()

	s.Set(ctx, sampleProfile())
	if _, ok := fake.data["psysense_user_data:u1"]; !ok {
		t.Fatalf("Expected key psysense_user_data:u1, got %v", fake.data)
	}
	if fake.ttls["psysense_user_data:u1"] != 2*time.Hour {
		t.Errorf("Expected 2h TTL on write, got %v", fake.ttls["psysense_user_data:u1"])
	}

	s.Get(ctx, "u1")
	if len(fake.expires) != 1 || fake.expires[0] != "psysense_user_data:u1" {
		t.Errorf("Expected TTL refresh on read, got %v", fake.expires)
	}

	if NewRedisStore(fake, 0, zerolog.Nop()).ttl != defaultTTL {
		t.Error("Expected default TTL when none is configured")
	}
}

func TestRedisStore_Errors(t *testing.T) {
	fake := newFakeRedis()
	s := NewRedisStore(fake, time.Hour, zerolog.Nop())
	ctx := context.Background()

	fake.data["psysense_user_data:bad"] = "{not json"
	if _, err := s.Get(ctx, "bad"); err == nil {
		t.Error("Expected decode error for corrupt data")
	}

	fake.getErr = errors.New("connection refused")
	if _, err := s.Get(ctx, "u1"); err == nil {
		t.Error("Expected backend error to be returned")
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(context.Background(), &config.Config{ProfileStore: "memory"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected memory store, got %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", s)
	}

	if _, err := NewStore(context.Background(), &config.Config{ProfileStore: "sqlite"}, zerolog.Nop()); !errors.Is(err, ErrInvalidStoreType) {
		t.Errorf("Expected ErrInvalidStoreType, got %v", err)
	}
}
