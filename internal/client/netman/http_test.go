package netman

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/syncwire"
)

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

func newManager(t *testing.T, baseURL string) *HTTPManager {
	t.Helper()
	return NewHTTPManager(baseURL, staticToken("tok"), logging.NewNopLogger(), Options{
		BackoffBase:    time.Millisecond,
		BackoffRetries: 2,
	})
}

func TestPullChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/changes", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("since"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(syncwire.ChangeSet{
			Changes: []syncwire.Change{
				{Table: "episodes", Operation: syncwire.OpUpdate, Timestamp: 43,
					Record: syncwire.Record{Table: "episodes", ID: "ep1", Fields: map[string]any{"title": "x"}}},
			},
			NextToken: "43",
			HasMore:   false,
		})
	}))
	defer srv.Close()

	cs, err := newManager(t, srv.URL).PullChanges(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, "43", cs.NextToken)
	assert.False(t, cs.HasMore)
}

func TestPullChanges_EmptyKeepsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(syncwire.ChangeSet{})
	}))
	defer srv.Close()

	cs, err := newManager(t, srv.URL).PullChanges(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, cs.Changes)
	assert.Equal(t, "42", cs.NextToken, "empty pull must not move the cursor")
}

func TestPushChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/push", r.URL.Path)

		var req syncwire.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Items, 2)
		assert.Equal(t, "op-1", req.Items[0].OperationID)

		_ = json.NewEncoder(w).Encode(syncwire.PushResponse{Results: []syncwire.PushResult{
			{OperationID: "op-1", Success: true},
			{OperationID: "op-2", Success: false, Error: "bad payload", Permanent: true},
		}})
	}))
	defer srv.Close()

	results, err := newManager(t, srv.URL).PushChanges(context.Background(), []*models.OutboxItem{
		{Type: "reaction.upsert", OperationID: "op-1", Payload: []byte(`{}`)},
		{Type: "comment.insert", OperationID: "op-2", Payload: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[1].Permanent)
}

func TestDoJSON_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(syncwire.ChangeSet{NextToken: "1"})
	}))
	defer srv.Close()

	cs, err := newManager(t, srv.URL).PullChanges(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1", cs.NextToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoJSON_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newManager(t, srv.URL).PullChanges(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

var upgrader = websocket.Upgrader{}

func TestSubscribeToChanges(t *testing.T) {
	send := make(chan syncwire.Change, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscribe", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for change := range send {
			require.NoError(t, conn.WriteJSON(change))
		}
	}))
	defer srv.Close()
	defer close(send)

	got := make(chan syncwire.Change, 1)
	sub, err := newManager(t, srv.URL).SubscribeToChanges(context.Background(), func(c syncwire.Change) {
		got <- c
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	send <- syncwire.Change{Table: "comments", Operation: syncwire.OpInsert, Timestamp: 7,
		Record: syncwire.Record{Table: "comments", ID: "c1", Fields: map[string]any{"body": "hi"}}}

	select {
	case change := <-got:
		assert.Equal(t, "comments", change.Table)
		assert.Equal(t, "c1", change.Record.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for realtime change")
	}
}

func TestWsURL(t *testing.T) {
	assert.Equal(t, "ws://h:1", wsURL("http://h:1"))
	assert.Equal(t, "wss://h", wsURL("https://h"))
}
