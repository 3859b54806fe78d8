package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestRenderResolvedListsSteps(t *testing.T) {
	text := Render(Notification{
		ExternalKey: "HD-1A2B3C4D",
		Kind:        KindResolved,
		Params: map[string]any{
			"resolution_steps": []any{"Restart the VPN client", "Sign in again"},
			"estimated_time":   "10 minutes",
		},
	})
	assert.Contains(t, text, "HD-1A2B3C4D has been resolved")
	assert.Contains(t, text, "1. Restart the VPN client")
	assert.Contains(t, text, "2. Sign in again")
	assert.Contains(t, text, "Estimated time: 10 minutes")
}

func TestRenderEscalationAlert(t *testing.T) {
	text := Render(Notification{
		TicketID: "t-1",
		Kind:     KindEscalationAlert,
		Params: map[string]any{
			"escalation_reason": "Solution did not resolve issue within expected timeframe",
			"priority":          "high",
		},
	})
	assert.Contains(t, text, "ticket t-1 (priority high)")
	assert.Contains(t, text, "Reason: Solution did not resolve issue")
}

func TestRecipientPrefersChannel(t *testing.T) {
	n := Notification{SlackUserID: "U1", Channel: "#ops"}
	assert.Equal(t, "#ops", n.Recipient())
	n.Channel = ""
	assert.Equal(t, "U1", n.Recipient())
}

func TestSlackNotifierPostsThreadedMessage(t *testing.T) {
	var (
		mu   sync.Mutex
		form map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		mu.Lock()
		form = map[string]string{
			"channel":   r.PostForm.Get("channel"),
			"text":      r.PostForm.Get("text"),
			"thread_ts": r.PostForm.Get("thread_ts"),
			"blocks":    r.PostForm.Get("blocks"),
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"U1","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", srv.URL+"/", zap.NewNop())
	err := n.Notify(context.Background(), Notification{
		SlackUserID: "U1",
		TicketID:    "t-9",
		Kind:        KindClarification,
		Params:      map[string]any{"questions": []string{"Which device?"}},
		ThreadTS:    "1699999999.000200",
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "U1", form["channel"])
	assert.Equal(t, "1699999999.000200", form["thread_ts"])
	assert.Contains(t, form["text"], "Which device?")
	assert.Contains(t, form["blocks"], "ask_again_t-9")
}

func TestSlackNotifierReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", srv.URL+"/", zap.NewNop())
	err := n.Notify(context.Background(), Notification{SlackUserID: "U404", Kind: KindAssigned})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackNotifierNeedsRecipient(t *testing.T) {
	n := NewSlackNotifier("xoxb-test", "", zap.NewNop())
	err := n.Notify(context.Background(), Notification{Kind: KindResolved})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestDeduplicatingSendsOncePerKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &recordingNotifier{}
	d := NewDeduplicating(inner, client, "test:notify", time.Hour, zap.NewNop())
	n := Notification{SlackUserID: "U1", Kind: KindResolved, DedupKey: "abc"}

	require.NoError(t, d.Notify(context.Background(), n))
	require.NoError(t, d.Notify(context.Background(), n))
	assert.Equal(t, 1, inner.count())
	assert.True(t, mr.Exists("test:notify:abc"))

	n.DedupKey = "def"
	require.NoError(t, d.Notify(context.Background(), n))
	assert.Equal(t, 2, inner.count())
}

func TestDeduplicatingReleasesKeyOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &recordingNotifier{err: errors.New("slack down")}
	d := NewDeduplicating(inner, client, "test:notify", time.Hour, zap.NewNop())
	n := Notification{SlackUserID: "U1", Kind: KindResolved, DedupKey: "abc"}

	require.Error(t, d.Notify(context.Background(), n))
	assert.False(t, mr.Exists("test:notify:abc"))

	inner.err = nil
	require.NoError(t, d.Notify(context.Background(), n))
	assert.Equal(t, 1, inner.count())
}

func TestDeduplicatingFallsThroughWithoutRedis(t *testing.T) {
	inner := &recordingNotifier{}
	d := NewDeduplicating(inner, nil, "", time.Hour, zap.NewNop())
	n := Notification{SlackUserID: "U1", Kind: KindResolved, DedupKey: "abc"}
	require.NoError(t, d.Notify(context.Background(), n))
	require.NoError(t, d.Notify(context.Background(), n))
	assert.Equal(t, 2, inner.count())
}
