// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mgmt

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/appagent"
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/dtncore"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
	"github.com/dtn7/dtnagent-go/service"
	"github.com/dtn7/dtnagent-go/store"
)

func testServer(t *testing.T) (*httptest.Server, *dtncore.Core) {
	t.Helper()

	nodeID, err := eid.Parse("dtn://node1/")
	require.NoError(t, err)

	core := dtncore.NewCore(dtncore.Config{
		NodeID:          nodeID,
		Store:           store.NewMemStore(),
		CLAs:            cla.NewManager(),
		Peers:           peer.NewManager(time.Minute),
		Services:        service.NewRegistry(),
		AppAgent:        appagent.NewAgent(),
		JanitorInterval: time.Hour,
		PeerTimeout:     time.Minute,
	})
	core.Start()
	t.Cleanup(core.Stop)

	router := mux.NewRouter()
	NewServer(core, router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, core
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTestRoute(t *testing.T) {
	srv, _ := testServer(t)

	code, body := get(t, srv.URL+"/test")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Test route working", body)
}

func TestStatusRoute(t *testing.T) {
	srv, _ := testServer(t)

	code, body := get(t, srv.URL+"/status")
	require.Equal(t, http.StatusOK, code)

	var status statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "dtn://node1", status.NodeID)
	assert.Equal(t, Version, status.Version)
}

// Register a local endpoint, POST a payload to it, read it back
// base64-encoded from /endpoint.
func TestSendAndReceiveLocalEcho(t *testing.T) {
	srv, _ := testServer(t)

	for _, ep := range []string{"dtn://node1/ping", "dtn://node1/echo"} {
		code, body := get(t, srv.URL+"/register?endpoint="+ep)
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, body, "registered")
	}

	resp, err := http.Post(
		srv.URL+"/send?dst=dtn://node1/echo&src=dtn://node1/ping&lifetime=60000",
		"application/octet-stream",
		strings.NewReader("Hello, DTN!"))
	require.NoError(t, err)
	sendBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.NotContains(t, string(sendBody), "Error:")

	code, body := get(t, srv.URL+"/endpoint?endpoint=dtn://node1/echo")
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, "Nothing to receive", body)

	data, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	b, err := bpv7.ParseBundle(data)
	require.NoError(t, err)

	payload, err := b.PayloadData()
	require.NoError(t, err)
	assert.Equal(t, "Hello, DTN!", string(payload))

	// Queue is drained, a second poll has nothing.
	_, body = get(t, srv.URL+"/endpoint?endpoint=dtn://node1/echo")
	assert.Equal(t, "Nothing to receive", body)
}

func TestEndpointUnregistered(t *testing.T) {
	srv, _ := testServer(t)

	code, body := get(t, srv.URL+"/endpoint?endpoint=dtn://node1/nope")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Error:")
}

func TestSendRejectsForeignSource(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(
		srv.URL+"/send?dst=dtn://node1/app&src=dtn://elsewhere/app",
		"application/octet-stream",
		strings.NewReader("nope"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, string(body), "Error:")
}

// Submit, list, delete, list again.
func TestBundleListAndDelete(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(
		srv.URL+"/send?dst=dtn://unknown/incoming&src=dtn://node1&lifetime=3600000",
		"application/octet-stream",
		strings.NewReader("pending"))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	code, body := get(t, srv.URL+"/bundles")
	require.Equal(t, http.StatusOK, code)

	var listing bundlesResponse
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Equal(t, 1, listing.Count)
	id := listing.Bundles[0]

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/bundles/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, body = get(t, srv.URL+"/bundles")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	assert.Equal(t, 0, listing.Count)

	// A second delete of the same id is a 404.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPeersRoute(t *testing.T) {
	srv, core := testServer(t)

	peerID, err := eid.Parse("dtn://peer1/")
	require.NoError(t, err)
	core.Peers.AddOrUpdate(peer.Peer{
		EID:      peerID,
		Kind:     peer.Static,
		Services: map[uint8]string{7: "echo"},
	})

	code, body := get(t, srv.URL+"/peers")
	require.Equal(t, http.StatusOK, code)

	var listing peersResponse
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "dtn://peer1", listing.Peers[0].EID)
	assert.Equal(t, "static", listing.Peers[0].Type)
	assert.Equal(t, "echo", listing.Peers[0].Services[7])
}

// The pull surface other nodes poll: /status/bundles lists what /download
// then serves byte-identical.
func TestPullSurface(t *testing.T) {
	srv, core := testServer(t)

	b, err := bpv7.NewBuilder().
		Source("dtn://node1/").
		Destination("dtn://unknown/app").
		CreationTimestampNow().
		Lifetime(time.Hour).
		PayloadBlock([]byte("pull me")).
		Build()
	require.NoError(t, err)
	require.NoError(t, core.SubmitBundle(b))

	code, body := get(t, srv.URL+"/status/bundles")
	require.Equal(t, http.StatusOK, code)

	var listing struct {
		Bundles []string `json:"bundles"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Len(t, listing.Bundles, 1)

	resp, err := http.Get(srv.URL + "/download?bundle=" + listing.Bundles[0])
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	got, err := bpv7.ParseBundle(data)
	require.NoError(t, err)
	assert.Equal(t, b.ID().String(), got.ID().String())
}
