package net

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotuspar/libblitz/internal/activities"
	"github.com/lotuspar/libblitz/internal/journal"
	"github.com/lotuspar/libblitz/internal/net/ws"
	"github.com/lotuspar/libblitz/internal/observability"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
)

type fixture struct {
	handler    http.Handler
	controller *session.Controller
	journal    *journal.Journal
}

func newFixture(t *testing.T, obs observability.Config) *fixture {
	t.Helper()

	counters := telemetry.NewCounters()
	j := journal.New(64, 0)
	hub := ws.NewHub(ws.HubConfig{Metrics: counters})
	t.Cleanup(hub.Close)
	controller := session.NewController(session.New(),
		session.WithDispatcher(hub),
		session.WithRecorder(j),
		session.WithMetrics(counters),
	)

	handler := NewHTTPHandler(controller, hub, HTTPHandlerConfig{
		Observability: obs,
		Registry:      activities.Registry(),
		Counters:      counters,
		Journal:       j,
		TickRate:      20,
		WebSocket:     ws.NewHandler(hub, controller, ws.HandlerConfig{}),
	})
	return &fixture{handler: handler, controller: controller, journal: j}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, observability.Config{})
	resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body.String())
}

func TestJoinCreatesMembers(t *testing.T) {
	f := newFixture(t, observability.Config{})

	resp := f.do(t, http.MethodPost, "/join", joinRequest{Name: "ada"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	var joined joinResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &joined))
	assert.Equal(t, "member-1", joined.ID)
	assert.Equal(t, f.controller.Session().ID(), joined.SessionID)

	member, ok := f.controller.Session().Member("member-1")
	require.True(t, ok)
	assert.Equal(t, "ada", member.Name)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/join", nil).Code)
}

func TestLeaveRemovesMemberAndStartsReadyRoster(t *testing.T) {
	f := newFixture(t, observability.Config{})
	f.do(t, http.MethodPost, "/join", joinRequest{Name: "a"})
	f.do(t, http.MethodPost, "/join", joinRequest{Name: "b"})
	present, ok := f.controller.Session().Member("member-1")
	require.True(t, ok)
	present.Attach(roster.Client{ID: "c1"})

	resp := f.do(t, http.MethodPost, "/activity", switchRequest{Kind: activities.KindLobby})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	current := f.controller.Current()
	require.NotNil(t, current)
	assert.False(t, current.Gate.Initialized())

	// member-2 never connected; once it leaves the live roster is ready.
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/leave", leaveRequest{ID: "member-2"}).Code)
	_, ok = f.controller.Session().Member("member-2")
	assert.False(t, ok)
	assert.True(t, current.Gate.Initialized())
	assert.True(t, current.Gate.Activated())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/leave", leaveRequest{ID: "member-2"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/leave", leaveRequest{}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/leave", nil).Code)
}

func TestActivitySwitch(t *testing.T) {
	f := newFixture(t, observability.Config{})
	f.do(t, http.MethodPost, "/join", joinRequest{Name: "a"})
	f.do(t, http.MethodPost, "/join", joinRequest{Name: "b"})

	resp := f.do(t, http.MethodPost, "/activity", switchRequest{Kind: activities.KindRound, Members: []string{"member-2"}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var switched switchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &switched))
	assert.Equal(t, activities.KindRound, switched.Kind)
	assert.Nil(t, switched.Previous)

	current := f.controller.Current()
	require.NotNil(t, current)
	assert.Equal(t, current.ID, switched.ActivityID)
	assert.Equal(t, []roster.MemberID{"member-2"}, current.Activity.Roster().IDs())

	resp = f.do(t, http.MethodPost, "/activity", switchRequest{Kind: activities.KindScoreboard})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &switched))
	require.NotNil(t, switched.Previous)
	assert.Equal(t, activities.KindRound, switched.Previous.Kind)

	// The round was never ready, but it was deactivated and journaled.
	transitions := f.journal.Transitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, session.MessageDeactivate, transitions[0].Type)

	listing := f.do(t, http.MethodGet, "/activity", nil)
	require.Equal(t, http.StatusOK, listing.Code)
	var listed activityListing
	require.NoError(t, json.Unmarshal(listing.Body.Bytes(), &listed))
	assert.Equal(t, []string{"lobby", "round", "scoreboard"}, listed.Kinds)
	require.NotNil(t, listed.Current)
	assert.Equal(t, activities.KindScoreboard, listed.Current.Kind)
}

func TestActivitySwitchRejectsBadRequests(t *testing.T) {
	f := newFixture(t, observability.Config{})

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/activity", switchRequest{Kind: "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/activity", switchRequest{Kind: activities.KindLobby, Members: []string{"ghost"}}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/activity", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/activity", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, f.controller.Current())
}

func TestDiagnosticsReportsSessionState(t *testing.T) {
	f := newFixture(t, observability.Config{})
	f.do(t, http.MethodPost, "/join", joinRequest{Name: "a"})
	_, err := f.controller.SwitchActivity(context.Background(), activities.KindLobby, activities.NewLobby, nil)
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/diagnostics", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var payload struct {
		Status    string            `json:"status"`
		Session   session.Snapshot  `json:"session"`
		TickRate  int               `json:"tickRate"`
		Heartbeat int64             `json:"heartbeatMillis"`
		Telemetry map[string]uint64 `json:"telemetry"`
		Journal   struct {
			Size int `json:"size"`
		} `json:"journal"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, 20, payload.TickRate)
	assert.Equal(t, ws.DefaultHubConfig().HeartbeatInterval.Milliseconds(), payload.Heartbeat)
	require.Len(t, payload.Session.Members, 1)
	assert.False(t, payload.Session.Members[0].Connected)
	require.NotNil(t, payload.Session.Current)
	assert.Equal(t, activities.KindLobby, payload.Session.Current.Kind)
	assert.Equal(t, uint64(1), payload.Telemetry[telemetry.MetricEvaluationsNoop])
	assert.Zero(t, payload.Journal.Size)
}

func TestPprofIsOptIn(t *testing.T) {
	off := newFixture(t, observability.Config{})
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/debug/pprof/", nil).Code)

	on := newFixture(t, observability.Config{EnablePprofTrace: true})
	assert.Equal(t, http.StatusOK, on.do(t, http.MethodGet, "/debug/pprof/", nil).Code)
}
