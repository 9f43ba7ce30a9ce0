// ABOUTME: Tests for the per-chat dispatcher
// ABOUTME: Verifies in-order handling within a chat and parallelism across chats

package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_PreservesOrderPerChat(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	h := HandlerFunc(func(_ context.Context, _ Sender, u Update) {
		time.Sleep(100 * time.Microsecond)
		mu.Lock()
		seen[u.ChatID] = append(seen[u.ChatID], u.ID)
		mu.Unlock()
	})

	d := NewDispatcher(h, nil)
	for i := range 50 {
		for _, chatID := range []string{"a", "b", "c"} {
			d.HandleUpdate(t.Context(), nil, Update{Network: "test", ChatID: chatID, ID: fmt.Sprint(i)})
		}
	}
	d.Wait()

	for _, chatID := range []string{"a", "b", "c"} {
		require.Len(t, seen[chatID], 50)
		for i, id := range seen[chatID] {
			assert.Equal(t, fmt.Sprint(i), id, "chat %s", chatID)
		}
	}

	d.mu.Lock()
	assert.Empty(t, d.queues)
	d.mu.Unlock()
}

func TestDispatcher_BlockedChatDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	handled := make(chan string, 4)
	h := HandlerFunc(func(_ context.Context, _ Sender, u Update) {
		if u.ChatID == "slow" {
			<-release
		}
		handled <- u.ChatID
	})

	d := NewDispatcher(h, nil)
	d.HandleUpdate(t.Context(), nil, Update{ChatID: "slow"})
	d.HandleUpdate(t.Context(), nil, Update{ChatID: "fast"})

	select {
	case got := <-handled:
		assert.Equal(t, "fast", got)
	case <-time.After(time.Second):
		t.Fatal("fast chat blocked behind slow chat")
	}

	close(release)
	d.Wait()
	assert.Equal(t, "slow", <-handled)
}
