package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/kasuganosora/pantry/integration"
	"github.com/kasuganosora/pantry/inventory"
	"github.com/kasuganosora/pantry/sdk"
	"github.com/kasuganosora/pantry/session"
	"github.com/kasuganosora/pantry/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTDocumentFlow(t *testing.T) {
	ts := integration.NewTestServer(t)
	token, _ := ts.Register(t, integration.UniqueEmail("rest"), "secret1")

	resp := ts.Get(t, "/v1/docs/inventory", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	inc := map[string]interface{}{"field": "quantity", "delta": 2, "upsert": true, "set": map[string]string{"category": "fruit"}}
	resp = ts.PostJSON(t, "/v1/docs/inventory/apple/increment", inc, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Value  int64 `json:"value"`
		Exists bool  `json:"exists"`
	}
	integration.ReadJSON(t, resp, &res)
	assert.Equal(t, int64(2), res.Value)
	assert.True(t, res.Exists)

	resp = ts.Do(t, http.MethodPatch, "/v1/docs/inventory/apple", map[string]interface{}{"fields": map[string]int{"quantity": 7}}, token)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.Do(t, http.MethodPatch, "/v1/docs/inventory/pear", map[string]interface{}{"fields": map[string]int{"quantity": 7}}, token)
	var body map[string]string
	integration.ReadJSON(t, resp, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", body["code"])

	resp = ts.Get(t, "/v1/docs/inventory/"+url.PathEscape("apple"), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		ID     string                     `json:"id"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	integration.ReadJSON(t, resp, &doc)
	assert.Equal(t, "apple", doc.ID)
	assert.JSONEq(t, "7", string(doc.Fields["quantity"]))
	assert.JSONEq(t, `"fruit"`, string(doc.Fields["category"]))

	resp = ts.Do(t, http.MethodDelete, "/v1/docs/inventory/apple", nil, token)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.Get(t, "/v1/docs/inventory", token)
	var list struct {
		Documents []json.RawMessage `json:"documents"`
	}
	integration.ReadJSON(t, resp, &list)
	assert.Empty(t, list.Documents)

	resp = ts.PostJSON(t, "/v1/auth/logout", nil, token)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.Get(t, "/v1/docs/inventory", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPantryScenarioOverSDK(t *testing.T) {
	ts := integration.NewTestServer(t)
	client := ts.NewClient(t)
	ctx := context.Background()

	gate := session.NewGate(client.Auth(), nil)
	ctrl := ui.NewController(gate, inventory.NewService(client.Docs(), "", nil), nil)
	ctrl.Mount()
	defer ctrl.Unmount()

	email := integration.UniqueEmail("cook")
	require.NoError(t, ctrl.Register(ctx, email, "secret1"))
	require.Equal(t, session.Authenticated, gate.State())

	require.NoError(t, ctrl.Add(ctx, "apple", 2, ""))
	require.NoError(t, ctrl.Add(ctx, "apple", 3, ""))
	assert.Equal(t, []inventory.Item{{Name: "apple", Quantity: 5}}, ctrl.Items())

	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.Remove(ctx, "apple"))
	}
	assert.Equal(t, []inventory.Item{{Name: "apple", Quantity: 2}}, ctrl.Items())

	require.NoError(t, ctrl.Remove(ctx, "apple"))
	require.NoError(t, ctrl.Remove(ctx, "apple"))
	assert.Empty(t, ctrl.Items())

	require.NoError(t, ctrl.Logout(ctx))
	require.Error(t, ctrl.Login(ctx, email, "wrong-password"))
	assert.Equal(t, session.Anonymous, gate.State())
	assert.Equal(t, "The email or password is incorrect.", ctrl.Err())
}

func TestDisabledAccountIsSignedOut(t *testing.T) {
	ts := integration.NewTestServer(t)
	client := ts.NewClient(t)
	ctx := context.Background()

	email := integration.UniqueEmail("cook")
	user, err := client.Auth().Register(ctx, email, "secret1")
	require.NoError(t, err)

	// Give the watcher time to attach.
	time.Sleep(200 * time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/admin/accounts/"+user.UID+"/disable",
		jsonBody(t, map[string]bool{"disabled": true}))
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", integration.AdminKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var out struct {
		SignedOut int `json:"signed_out"`
	}
	integration.ReadJSON(t, resp, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, out.SignedOut)

	assert.Eventually(t, func() bool {
		return client.Auth().CurrentUser() == nil
	}, 3*time.Second, 20*time.Millisecond)

	_, err = client.Auth().SignIn(ctx, email, "secret1")
	var ae *sdk.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "auth/user-disabled", ae.Code)
	assert.Equal(t, "This account has been disabled.", ae.Message)
}

func TestExpiredSessionIsPushed(t *testing.T) {
	ts := integration.NewTestServer(t)
	ctx := context.Background()

	// A second provider view with a short TTL issues the session; the
	// server's sweep ticker announces its expiry.
	sec := ts.Sec
	sec.JWTTTLH = 300 * time.Millisecond
	short := ts.ProviderWith(sec)
	sess, err := short.Register(ctx, integration.UniqueEmail("cook"), "secret1", "")
	require.NoError(t, err)

	msgs, unsub, err := ts.Provider.Watch(ctx, sess.Token)
	require.NoError(t, err)
	defer unsub()

	select {
	case msg := <-msgs:
		assert.Equal(t, "signed_out", msg.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("expiry was not announced")
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
