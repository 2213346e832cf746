package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/contentstore"
	"github.com/convoserve/actionkernel/pkg/requires"
	"github.com/convoserve/actionkernel/pkg/router"
	"github.com/convoserve/actionkernel/pkg/sandbox"
	"github.com/convoserve/actionkernel/pkg/trust"
	"github.com/convoserve/actionkernel/pkg/workspace"
)

func newTestServer(t *testing.T) (*httptest.Server, *contentstore.FileStore) {
	t.Helper()
	store, err := contentstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reg := catalog.NewRegistry(store, workspace.NewStaticResolver(nil), nil)
	cfg := sandbox.DefaultConfig()
	svc := router.NewService(
		reg,
		trust.NewClassifier(reg),
		requires.NewResolver(reg, store, cfg, nil),
		sandbox.NewRunner(cfg),
		sandbox.NewTrustedRunner(),
		nil,
		router.Options{},
		nil,
	)

	srv := httptest.NewServer(newMux(svc, reg))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestMux_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMux_RunAction(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.WriteString(context.Background(), contentstore.BotScope("bot1"), "actions", "mark.go", `
import "actionkernel/sdk"

func Run(b *sdk.Bundle) error {
	b.Temp["ran"] = true
	return nil
}
`))

	body := `{"botId":"bot1","actionName":"mark","incomingEvent":{"id":"ev1","botId":"bot1"}}`
	resp, err := http.Post(srv.URL+"/v1/actions/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out runResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.IncomingEvent)
	assert.Equal(t, true, out.IncomingEvent.State.Temp["ran"])
}

func TestMux_RunAction_ValidatesInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/actions/run", "application/json", strings.NewReader(`{"actionName":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/v1/actions/run", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMux_RunAction_ExecutionFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"botId":"bot1","actionName":"missing","incomingEvent":{"id":"ev1"}}`
	resp, err := http.Post(srv.URL+"/v1/actions/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "missing", out.Action)
	assert.Contains(t, out.Error, "not found")
}

func TestMux_ListBotActions(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.WriteString(ctx, contentstore.GlobalScope, "actions", "builtin/say.go", "// say"))
	require.NoError(t, store.WriteString(ctx, contentstore.BotScope("bot1"), "actions", "greet.go", "// greet"))

	resp, err := http.Get(srv.URL + "/v1/bots/bot1/actions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var defs []catalog.Definition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&defs))
	require.Len(t, defs, 2)
	assert.Equal(t, "builtin/say", defs[0].Name)
	assert.Equal(t, "greet", defs[1].Name)
}

func TestBotFromPath(t *testing.T) {
	id, ok := botFromPath("/v1/bots/bot1/actions")
	assert.True(t, ok)
	assert.Equal(t, "bot1", id)

	_, ok = botFromPath("/v1/bots/bot1")
	assert.False(t, ok)
	_, ok = botFromPath("/v1/bots//actions")
	assert.False(t, ok)
}
