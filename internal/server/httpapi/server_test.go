package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/server/auth"
	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/server/repositories/repomanager"
	syncsvc "github.com/ddanilov/podvault/internal/server/sync"
	"github.com/ddanilov/podvault/internal/syncwire"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) (*httptest.Server, *syncsvc.Service, *Hub) {
	t.Helper()
	logger := logging.NewNopLogger()
	service := syncsvc.New(nil, repomanager.NewInMemoryRepositoryManager(), logger)
	hub := NewHub(logger)
	service.OnAppend = func(lc models.LoggedChange) { hub.Broadcast(lc.Change) }

	ts := httptest.NewServer(NewServer(service, hub, testSecret, logger).Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, service, hub
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("device-1", testSecret, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func doPush(t *testing.T, ts *httptest.Server, items []syncwire.PushItem) syncwire.PushResponse {
	t.Helper()
	body, err := json.Marshal(syncwire.PushRequest{Items: items})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/push", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := syncwire.PushResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func doPull(t *testing.T, ts *httptest.Server, since string) syncwire.ChangeSet {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/changes?since="+since, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cs := syncwire.ChangeSet{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cs))
	return cs
}

func TestPushThenPull(t *testing.T) {
	ts, _, _ := newTestServer(t)

	out := doPush(t, ts, []syncwire.PushItem{{
		Type:        syncsvc.TypeReactionUpsert,
		OperationID: "op-1",
		Payload:     []byte(`{"id":"r1","episode_id":"ep1","kind":"like"}`),
	}})
	require.Len(t, out.Results, 1)
	require.True(t, out.Results[0].Success)
	assert.Equal(t, "device-1", out.Results[0].Record.Fields["device_id"])

	cs := doPull(t, ts, "")
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, "reactions", cs.Changes[0].Table)
	assert.Equal(t, "1", cs.NextToken)
	assert.False(t, cs.HasMore)
}

func TestChanges_RequiresAuth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/changes")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChanges_BadToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/changes?since=garbage", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChanges_BadLimit(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/changes?limit=zero", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPush_InvalidBody(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/push", strings.NewReader("{broken"))
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribe_ReceivesPushedChanges(t *testing.T) {
	ts, _, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/subscribe"
	header := http.Header{"Authorization": []string{bearer(t)}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	doPush(t, ts, []syncwire.PushItem{{
		Type:        syncsvc.TypeCommentInsert,
		OperationID: "op-1",
		Payload:     []byte(`{"id":"c1","episode_id":"ep1","author":"ann","body":"hi"}`),
	}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ch syncwire.Change
	require.NoError(t, conn.ReadJSON(&ch))
	assert.Equal(t, "comments", ch.Table)
	assert.Equal(t, "hi", ch.Record.Fields["body"])
}

func TestSubscribe_RequiresAuth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/subscribe"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
