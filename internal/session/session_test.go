package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeClock is a manually advanced clock shared by a store and its sessions.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestSessionAppendSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	sess := newSession("s", 4, time.Hour, clock.Now)

	for i := 0; i < 10; i++ {
		sess.Append(RoleUser, fmt.Sprintf("m%d", i))
		if n := sess.Len(); n > 4 {
			t.Fatalf("after append %d history length = %d, want <= 4", i, n)
		}
	}

	want := []Turn{
		{Role: RoleUser, Content: "m6"},
		{Role: RoleUser, Content: "m7"},
		{Role: RoleUser, Content: "m8"},
		{Role: RoleUser, Content: "m9"},
	}
	if diff := cmp.Diff(want, sess.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionAppendExchange(t *testing.T) {
	clock := newFakeClock()
	sess := newSession("s", 3, time.Hour, clock.Now)

	if n := sess.AppendExchange("hi", "hello"); n != 2 {
		t.Errorf("AppendExchange returned %d, want 2", n)
	}
	if n := sess.AppendExchange("again", "still here"); n != 3 {
		t.Errorf("AppendExchange returned %d, want 3", n)
	}

	want := []Turn{
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "again"},
		{Role: RoleAssistant, Content: "still here"},
	}
	if diff := cmp.Diff(want, sess.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionHistoryIsCopy(t *testing.T) {
	sess := newSession("s", 10, time.Hour, time.Now)
	sess.Append(RoleUser, "original")

	h := sess.History()
	h[0].Content = "mutated"

	if got := sess.History()[0].Content; got != "original" {
		t.Errorf("stored content = %q, want %q", got, "original")
	}
}

func TestSessionTouchOnAccess(t *testing.T) {
	clock := newFakeClock()
	sess := newSession("s", 10, time.Hour, clock.Now)
	created := sess.LastActive()

	clock.Advance(time.Minute)
	_ = sess.History()
	if got := sess.LastActive(); !got.Equal(created.Add(time.Minute)) {
		t.Errorf("LastActive after read = %v, want %v", got, created.Add(time.Minute))
	}

	clock.Advance(time.Minute)
	sess.Append(RoleAssistant, "x")
	if got := sess.LastActive(); !got.Equal(created.Add(2 * time.Minute)) {
		t.Errorf("LastActive after write = %v, want %v", got, created.Add(2*time.Minute))
	}
	if sess.LastActive().Before(sess.CreatedAt) {
		t.Error("LastActive is before CreatedAt")
	}
}

func TestSessionClear(t *testing.T) {
	sess := newSession("s", 10, time.Hour, time.Now)
	sess.AppendExchange("a", "b")
	sess.Clear()
	if n := sess.Len(); n != 0 {
		t.Errorf("Len after Clear = %d, want 0", n)
	}
}

func TestSessionExpired(t *testing.T) {
	clock := newFakeClock()

	tests := []struct {
		name    string
		timeout time.Duration
		idle    time.Duration
		want    bool
	}{
		{name: "fresh", timeout: time.Minute, idle: 0, want: false},
		{name: "exactly at timeout", timeout: time.Minute, idle: time.Minute, want: false},
		{name: "past timeout", timeout: time.Minute, idle: time.Minute + time.Second, want: true},
		{name: "zero timeout never expires", timeout: 0, idle: 1000 * time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newSession("s", 10, tt.timeout, clock.Now)
			if got := sess.Expired(clock.Now().Add(tt.idle)); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionConcurrentAppend(t *testing.T) {
	sess := newSession("s", 50, time.Hour, time.Now)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			sess.AppendExchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	h := sess.History()
	if len(h) != 40 {
		t.Fatalf("history length = %d, want 40", len(h))
	}
	// Every user turn must be immediately followed by its own answer.
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != RoleUser || h[i+1].Role != RoleAssistant {
			t.Fatalf("turns %d/%d have roles %s/%s", i, i+1, h[i].Role, h[i+1].Role)
		}
		if h[i].Content[1:] != h[i+1].Content[1:] {
			t.Errorf("exchange split: %q followed by %q", h[i].Content, h[i+1].Content)
		}
	}
}

func TestSessionTouchFollowsClockBackwards(t *testing.T) {
	clock := newFakeClock()
	sess := newSession("s1", 20, time.Hour, clock.Now)

	clock.Advance(-time.Minute)
	sess.Append(RoleUser, "hi")

	now := clock.Now()
	if got := sess.LastActive(); got.After(now) {
		t.Errorf("LastActive = %v, after now %v", got, now)
	}
	if !sess.LastActive().Equal(now) {
		t.Errorf("LastActive = %v, want %v", sess.LastActive(), now)
	}
}
