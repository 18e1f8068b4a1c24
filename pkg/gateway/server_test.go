package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/parley/pkg/dialogue"
	"github.com/harun/parley/pkg/programs"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGateway struct {
	t        *testing.T
	server   *Server
	http     *httptest.Server
	registry *session.Registry
	release  chan struct{}
	secret   string
}

func newTestGateway(t *testing.T, secret string) *testGateway {
	t.Helper()

	registry := session.NewRegistry(session.Config{})
	catalog := programs.Default()

	release := make(chan struct{})
	require.NoError(t, catalog.Register(programs.Definition{
		Name: "slow",
		New: func() dialogue.Program {
			return func(conv *dialogue.Conversation) (any, error) {
				<-release
				return "finally", nil
			}
		},
	}))

	srv, err := NewServer(Config{
		Port:         0,
		SharedSecret: secret,
		Registry:     registry,
		Catalog:      catalog,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		registry.Shutdown()
	})

	return &testGateway{t: t, server: srv, http: ts, registry: registry, release: release, secret: secret}
}

func (g *testGateway) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	g.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(g.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, g.http.URL+path, reader)
	require.NoError(g.t, err)
	if g.secret != "" {
		req.Header.Set(SecretHeader, g.secret)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(g.t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (g *testGateway) rpc(method string, params map[string]interface{}) (map[string]interface{}, *RPCError) {
	g.t.Helper()

	resp, out := g.do(http.MethodPost, "/rpc", RPCRequest{ID: "1", Method: method, Params: params, JSONRPC: "2.0"})
	require.Equal(g.t, http.StatusOK, resp.StatusCode)

	if raw, ok := out["error"]; ok {
		data, _ := json.Marshal(raw)
		var rpcErr RPCError
		require.NoError(g.t, json.Unmarshal(data, &rpcErr))
		return nil, &rpcErr
	}
	result, _ := out["result"].(map[string]interface{})
	return result, nil
}

func TestNewServerValidation(t *testing.T) {
	registry := session.NewRegistry(session.Config{})
	catalog := programs.Default()

	_, err := NewServer(Config{Port: -1, Registry: registry, Catalog: catalog})
	assert.Error(t, err)
	_, err = NewServer(Config{Catalog: catalog})
	assert.Error(t, err)
	_, err = NewServer(Config{Registry: registry})
	assert.Error(t, err)

	srv, err := NewServer(Config{Registry: registry, Catalog: catalog})
	require.NoError(t, err)
	assert.Equal(t, []string{
		MethodCollect, MethodEnd, MethodExchange, MethodPrograms, MethodSessions, MethodStart,
	}, srv.Methods())
}

func TestRPCDialogueRoundTrip(t *testing.T) {
	g := newTestGateway(t, "")

	res, rpcErr := g.rpc(MethodStart, map[string]interface{}{"program": "echo", "input": "A", "session_id": "conv-1"})
	require.Nil(t, rpcErr)
	assert.Equal(t, "conv-1", res["session_id"])
	assert.Equal(t, "output", res["kind"])
	assert.Equal(t, "A", res["value"])
	assert.Equal(t, false, res["terminal"])

	res, rpcErr = g.rpc(MethodExchange, map[string]interface{}{"session_id": "conv-1", "input": "B"})
	require.Nil(t, rpcErr)
	assert.Equal(t, "B", res["value"])

	res, rpcErr = g.rpc(MethodExchange, map[string]interface{}{"session_id": "conv-1", "input": "bye"})
	require.Nil(t, rpcErr)
	assert.Equal(t, "last", res["kind"])
	assert.Equal(t, true, res["terminal"])

	_, rpcErr = g.rpc(MethodExchange, map[string]interface{}{"session_id": "conv-1", "input": "again"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, SessionNotFound, rpcErr.Code)
}

func TestRPCStartGeneratesSessionID(t *testing.T) {
	g := newTestGateway(t, "")

	res, rpcErr := g.rpc(MethodStart, map[string]interface{}{"program": "survey"})
	require.Nil(t, rpcErr)
	id, _ := res["session_id"].(string)
	assert.Len(t, id, 21)

	res, rpcErr = g.rpc(MethodSessions, nil)
	require.Nil(t, rpcErr)
	sessions := res["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	assert.Equal(t, "survey", sessions[0].(map[string]interface{})["program"])
	assert.Equal(t, "awaiting_input", sessions[0].(map[string]interface{})["state"])

	_, rpcErr = g.rpc(MethodStart, map[string]interface{}{"program": "survey", "session_id": id})
	require.NotNil(t, rpcErr)
	assert.Equal(t, SessionConflict, rpcErr.Code)
}

func TestRPCParamErrors(t *testing.T) {
	g := newTestGateway(t, "")

	tests := []struct {
		name     string
		method   string
		params   map[string]interface{}
		wantCode int
	}{
		{"missing program", MethodStart, map[string]interface{}{}, InvalidParams},
		{"unknown program", MethodStart, map[string]interface{}{"program": "nope"}, ProgramNotFound},
		{"invalid start input", MethodStart, map[string]interface{}{"program": "guess", "input": "x"}, InvalidParams},
		{"version too new", MethodStart, map[string]interface{}{"program": "guess", "version": ">= 2"}, VersionMismatch},
		{"bad version constraint", MethodStart, map[string]interface{}{"program": "guess", "version": "newest"}, InvalidParams},
		{"bad session id", MethodStart, map[string]interface{}{"program": "echo", "session_id": "../etc"}, InvalidParams},
		{"non-string session id", MethodExchange, map[string]interface{}{"session_id": 5}, InvalidParams},
		{"negative timeout", MethodCollect, map[string]interface{}{"session_id": "x", "timeout_ms": -1}, InvalidParams},
		{"unknown session", MethodCollect, map[string]interface{}{"session_id": "x"}, SessionNotFound},
		{"end unknown session", MethodEnd, map[string]interface{}{"session_id": "x"}, SessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := g.rpc(tt.method, tt.params)
			require.NotNil(t, rpcErr)
			assert.Equal(t, tt.wantCode, rpcErr.Code)
		})
	}
}

func TestRPCExchangeValidatesInput(t *testing.T) {
	g := newTestGateway(t, "")

	_, rpcErr := g.rpc(MethodStart, map[string]interface{}{"program": "guess", "session_id": "g", "input": map[string]interface{}{"max": 10, "secret": 4}})
	require.Nil(t, rpcErr)

	_, rpcErr = g.rpc(MethodExchange, map[string]interface{}{"session_id": "g", "input": "four"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)

	res, rpcErr := g.rpc(MethodExchange, map[string]interface{}{"session_id": "g", "input": 4})
	require.Nil(t, rpcErr)
	assert.Equal(t, "last", res["kind"])
	assert.Equal(t, true, res["value"].(map[string]interface{})["won"])
}

func TestRESTTimeoutThenCollect(t *testing.T) {
	g := newTestGateway(t, "")

	resp, body := g.do(http.MethodPost, "/dialogues/slow", map[string]interface{}{"session_id": "s1", "timeout_ms": 20})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, float64(DialogueTimeout), body["error"].(map[string]interface{})["code"])

	resp, _ = g.do(http.MethodPost, "/dialogues/session/s1", map[string]interface{}{"input": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(g.release)

	resp, body = g.do(http.MethodGet, "/dialogues/session/s1?timeout=2s", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "last", body["kind"])
	assert.Equal(t, "finally", body["value"])
	assert.Equal(t, 0, g.registry.Len())
}

func TestRESTLifecycle(t *testing.T) {
	g := newTestGateway(t, "")

	resp, body := g.do(http.MethodPost, "/dialogues/echo", map[string]interface{}{"input": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := body["session_id"].(string)

	resp, body = g.do(http.MethodPost, "/dialogues/session/"+id, map[string]interface{}{"input": "again"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "again", body["value"])

	resp, body = g.do(http.MethodGet, "/dialogues", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sessions"], 1)

	resp, _ = g.do(http.MethodDelete, "/dialogues/session/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = g.do(http.MethodDelete, "/dialogues/session/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, float64(SessionNotFound), body["error"].(map[string]interface{})["code"])

	resp, body = g.do(http.MethodPost, "/dialogues/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, float64(ProgramNotFound), body["error"].(map[string]interface{})["code"])

	resp, _ = g.do(http.MethodPost, "/dialogues/echo", map[string]interface{}{"version": "^2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = g.do(http.MethodPost, "/dialogues/echo", map[string]interface{}{"version": "~1.0", "input": "v"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v", body["value"])

	resp, body = g.do(http.MethodGet, "/programs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["programs"], 4)
}

func TestRESTRejectsBadJSON(t *testing.T) {
	g := newTestGateway(t, "")

	resp, err := http.Post(g.http.URL+"/dialogues/echo", "application/json", strings.NewReader("{oops"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSharedSecret(t *testing.T) {
	g := newTestGateway(t, "s3cret")

	resp, err := http.Post(g.http.URL+"/rpc", "application/json", strings.NewReader(`{"id":"1","method":"dialogue.programs"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(g.http.URL + "/programs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	res, rpcErr := g.rpc(MethodPrograms, nil)
	require.Nil(t, rpcErr)
	assert.Len(t, res["programs"], 4)
}

func TestHealthz(t *testing.T) {
	g := newTestGateway(t, "s3cret")

	resp, body := g.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestRPCRejectsGet(t *testing.T) {
	g := newTestGateway(t, "")

	resp, err := http.Get(g.http.URL + "/rpc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketDialogue(t *testing.T) {
	g := newTestGateway(t, "s3cret")
	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	header := http.Header{}
	header.Set(SecretHeader, "s3cret")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	send := func(id, method string, params map[string]interface{}) RPCResponse {
		require.NoError(t, conn.WriteJSON(RPCRequest{ID: id, Method: method, Params: params}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var resp RPCResponse
		require.NoError(t, conn.ReadJSON(&resp))
		return resp
	}

	resp1 := send("1", MethodStart, map[string]interface{}{"program": "echo", "session_id": "ws-1", "input": "hello"})
	require.Nil(t, resp1.Error)
	assert.Equal(t, "1", resp1.ID)
	assert.Equal(t, "hello", resp1.Result.(map[string]interface{})["value"])

	resp2 := send("2", MethodExchange, map[string]interface{}{"session_id": "ws-1", "input": "bye"})
	require.Nil(t, resp2.Error)
	assert.Equal(t, "last", resp2.Result.(map[string]interface{})["kind"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var bad RPCResponse
	require.NoError(t, conn.ReadJSON(&bad))
	require.NotNil(t, bad.Error)
	assert.Equal(t, ParseError, bad.Error.Code)

	assert.Eventually(t, func() bool {
		return len(g.server.GetConnectedClients()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerStartStop(t *testing.T) {
	registry := session.NewRegistry(session.Config{})
	defer registry.Shutdown()

	srv, err := NewServer(Config{
		Host:            "127.0.0.1",
		Port:            0,
		Registry:        registry,
		Catalog:         programs.Default(),
		ShutdownTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/programs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
