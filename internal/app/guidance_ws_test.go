// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
)

func dialGuidance(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestRouter(t, f))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/guidance"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg WSResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestGuidanceWS_StreamsEventsAndCommands(t *testing.T) {
	f := newFixture(t, 4)
	require.NoError(t, f.svc.Start(t.Context()))
	conn := dialGuidance(t, f)

	hello := readUntil(t, conn, "status")
	require.NotNil(t, hello.Status)
	assert.Equal(t, capture.StateArmed, hello.Status.State)
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, time.Millisecond)

	f.tick(t)
	g := readUntil(t, conn, "guidance")
	require.NotNil(t, g.Guidance)
	assert.True(t, g.Guidance.Accepted)
	assert.Equal(t, 1, g.Guidance.Count)

	before := f.svc.Status().Session
	require.NoError(t, conn.WriteJSON(WSMessage{Action: "reset"}))
	s := readUntil(t, conn, "session")
	assert.NotEqual(t, before, s.Session)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "finalize"}))
	e := readUntil(t, conn, "error")
	assert.Contains(t, e.Message, "not enough samples")

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "dance"}))
	e = readUntil(t, conn, "error")
	assert.Equal(t, "unknown action dance", e.Message)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "disarm"}))
	st := readUntil(t, conn, "status")
	require.NotNil(t, st.Status)
	assert.Equal(t, capture.StateIdle, st.Status.State)
}

func TestGuidanceWS_CalibrationBroadcast(t *testing.T) {
	f := newFixture(t, 4)
	require.NoError(t, f.svc.Start(t.Context()))
	conn := dialGuidance(t, f)
	readUntil(t, conn, "status")
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, time.Millisecond)

	for range novelPoses {
		f.tick(t)
	}
	c := readUntil(t, conn, "calibration")
	require.NotNil(t, c.Calibration)
	assert.False(t, c.Calibration.Final)
	assert.Equal(t, 4, c.Calibration.Calibration.Views)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	f := newFixture(t, 4)
	conn := dialGuidance(t, f)
	readUntil(t, conn, "status")
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.hub.Clients() == 0 }, 5*time.Second, time.Millisecond)
	f.hub.Broadcast(WSResponse{Type: "status"})
}
