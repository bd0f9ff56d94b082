package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/storage/sqldb"
)

func exerciseProvider(t *testing.T, provider Provider) {
	t.Helper()
	ctx := context.Background()
	manager := NewManager(provider)
	a := fmt.Sprintf("a-%d", time.Now().UnixNano())
	b := fmt.Sprintf("b-%d", time.Now().UnixNano())

	history, err := manager.History(ctx, a)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("unknown session should be empty, got %v", history)
	}

	if err := manager.AppendExchange(ctx, a, "My name is Pri", "Nice to meet you, Pri"); err != nil {
		t.Fatalf("append exchange: %v", err)
	}
	if err := manager.Append(ctx, a, RoleHuman, "second"); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err = manager.History(ctx, a)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Message{
		{Role: RoleHuman, Content: "My name is Pri"},
		{Role: RoleAgent, Content: "Nice to meet you, Pri"},
		{Role: RoleHuman, Content: "second"},
	}
	if len(history) != len(want) {
		t.Fatalf("unexpected history %v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("message %d = %+v, want %+v", i, history[i], want[i])
		}
	}

	other, err := manager.History(ctx, b)
	if err != nil {
		t.Fatalf("history b: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("session %s leaked into %s: %v", a, b, other)
	}

	if err := manager.Clear(ctx, a); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if history, _ := manager.History(ctx, a); len(history) != 0 {
		t.Fatalf("clear left %v", history)
	}
}

func TestMemoryProvider(t *testing.T) {
	exerciseProvider(t, nil)
}

func TestMemoryProviderReturnsCopies(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()
	_ = provider.Append(ctx, "s", Message{Role: RoleHuman, Content: "original"})

	history, _ := provider.Messages(ctx, "s")
	history[0].Content = "mutated"
	history = append(history, Message{Role: RoleAgent, Content: "extra"})

	again, _ := provider.Messages(ctx, "s")
	if len(again) != 1 || again[0].Content != "original" {
		t.Fatalf("caller mutation leaked into the store: %v", again)
	}
}

func TestSQLProviderSQLite(t *testing.T) {
	provider, err := NewSQLProvider(context.Background(), sqldb.Config{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = provider.Close() })
	exerciseProvider(t, provider)
}

func TestRedisProvider(t *testing.T) {
	addr := os.Getenv("CHAINGUARD_TEST_REDIS")
	if addr == "" {
		t.Skip("CHAINGUARD_TEST_REDIS not set")
	}
	provider, err := NewRedisProvider(context.Background(), RedisConfig{Address: addr, Prefix: "chainguard:test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = provider.Close() })
	exerciseProvider(t, provider)
}

func TestEmptySessionIDRejected(t *testing.T) {
	manager := NewManager(nil)
	if _, err := manager.History(context.Background(), " "); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestOverlongSessionIDRejected(t *testing.T) {
	manager := NewManager(nil)
	ctx := context.Background()
	prefix := strings.Repeat("s", MaxIDLength)

	if err := manager.AppendExchange(ctx, prefix, "hi", "hello"); err != nil {
		t.Fatalf("id at the limit should be accepted: %v", err)
	}
	if err := manager.AppendExchange(ctx, prefix+"-other", "hi", "hello"); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
	if _, err := manager.History(ctx, prefix+"x"); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestConcurrentAppendsKeepEverything(t *testing.T) {
	manager := NewManager(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(session string, n int) {
				defer wg.Done()
				_ = manager.Exclusive(session, func() error {
					return manager.AppendExchange(ctx, session, fmt.Sprintf("q%d", n), fmt.Sprintf("a%d", n))
				})
			}(fmt.Sprintf("s%d", s), i)
		}
	}
	wg.Wait()

	for s := 0; s < 4; s++ {
		history, _ := manager.History(ctx, fmt.Sprintf("s%d", s))
		if len(history) != 100 {
			t.Fatalf("session s%d has %d messages", s, len(history))
		}
		for i := 0; i < len(history); i += 2 {
			if history[i].Role != RoleHuman || history[i+1].Role != RoleAgent {
				t.Fatalf("exchange %d was interleaved", i/2)
			}
			if history[i].Content[1:] != history[i+1].Content[1:] {
				t.Fatalf("question and answer split apart: %v / %v", history[i], history[i+1])
			}
		}
	}
}

func TestExclusiveDoesNotBlockOtherSessions(t *testing.T) {
	manager := NewManager(nil)
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = manager.Exclusive("slow", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = manager.Exclusive("fast", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a different session was blocked")
	}
	close(release)
}
