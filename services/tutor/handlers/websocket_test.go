// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestWS spins up the teach WS endpoint and dials it. The returned
// cleanup closes both the connection and the server.
func dialTestWS(t *testing.T, teacher *MockTeacher) (*websocket.Conn, func()) {
	t.Helper()

	handler := createTestTeachHandler(t, teacher)
	router := gin.New()
	router.GET("/v1/teach/ws", handler.HandleTeachWS)
	server := httptest.NewServer(router)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/teach/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "websocket dial should succeed")
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readFrame reads one JSON frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame), "frame read should succeed")
	return frame
}

func TestHandleTeachWS_SessionCreatedOnConnect(t *testing.T) {
	conn, cleanup := dialTestWS(t, &MockTeacher{})
	defer cleanup()

	frame := readFrame(t, conn)
	assert.Equal(t, "session_created", frame["action"])
	assert.NotEmpty(t, frame["sessionId"], "server should mint a session id per connection")
}

func TestHandleTeachWS_TeachTurn(t *testing.T) {
	teacher := &MockTeacher{}
	conn, cleanup := dialTestWS(t, teacher)
	defer cleanup()

	created := readFrame(t, conn)
	sessionID, _ := created["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	require.NoError(t, conn.WriteJSON(WSTeachRequest{
		Message: "Why does my binary search loop forever?",
	}))

	var types []string
	for i := 0; i < 50; i++ {
		frame := readFrame(t, conn)
		frameType, _ := frame["type"].(string)
		types = append(types, frameType)
		if frameType == "done" {
			assert.Equal(t, sessionID, frame["session_id"],
				"done frame should carry the connection's session id")
			break
		}
		if frameType == "error" {
			t.Fatalf("unexpected error frame: %v", frame)
		}
	}

	assert.Contains(t, types, "status")
	assert.Contains(t, types, "token")
	assert.Contains(t, types, "metadata")
	assert.Equal(t, "done", types[len(types)-1])
	assert.Equal(t, 1, teacher.StreamCalls())

	last := teacher.LastTeachRequest()
	require.NotNil(t, last)
	assert.Equal(t, sessionID, last.SessionID,
		"turns share the connection's teaching context")
}

func TestHandleTeachWS_PolicyViolationEndsTurnNotConnection(t *testing.T) {
	teacher := &MockTeacher{}
	conn, cleanup := dialTestWS(t, teacher)
	defer cleanup()

	_ = readFrame(t, conn) // session_created

	// First turn: blocked.
	require.NoError(t, conn.WriteJSON(WSTeachRequest{
		Message: "My SSN is 123-45-6789, is that a good password?",
	}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.NotNil(t, frame["findings"], "policy block should carry findings")
	assert.Equal(t, 0, teacher.StreamCalls(), "blocked message must never reach the pipeline")

	// Second turn on the same connection: streams normally.
	require.NoError(t, conn.WriteJSON(WSTeachRequest{
		Message: "What is a goroutine?",
	}))
	sawDone := false
	for i := 0; i < 50; i++ {
		next := readFrame(t, conn)
		if next["type"] == "done" {
			sawDone = true
			break
		}
	}
	assert.True(t, sawDone, "the connection should survive a blocked turn")
	assert.Equal(t, 1, teacher.StreamCalls())
}

func TestCheckWSOrigin(t *testing.T) {
	t.Setenv("PRAXIS_WS_ALLOWED_ORIGINS", "")

	newReq := func(host, origin string) *http.Request {
		req := httptest.NewRequest("GET", "http://"+host+"/v1/teach/ws", nil)
		req.Host = host
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	assert.True(t, checkWSOrigin(newReq("tutor.local:12190", "")),
		"non-browser clients send no Origin header")
	assert.True(t, checkWSOrigin(newReq("tutor.local:12190", "http://tutor.local:12190")),
		"same-host origins are allowed")
	assert.False(t, checkWSOrigin(newReq("tutor.local:12190", "http://evil.example")),
		"cross-origin upgrades are refused by default")
	assert.False(t, checkWSOrigin(newReq("tutor.local:12190", "::not a url::")))

	t.Setenv("PRAXIS_WS_ALLOWED_ORIGINS", "http://classroom.example, http://lab.example")
	assert.True(t, checkWSOrigin(newReq("tutor.local:12190", "http://classroom.example")))
	assert.True(t, checkWSOrigin(newReq("tutor.local:12190", "http://lab.example")))
	assert.False(t, checkWSOrigin(newReq("tutor.local:12190", "http://evil.example")))

	t.Setenv("PRAXIS_WS_ALLOWED_ORIGINS", "*")
	assert.True(t, checkWSOrigin(newReq("tutor.local:12190", "http://evil.example")),
		"wildcard opts out of the check")
}

func TestHandleTeachWS_CrossOriginDialRefused(t *testing.T) {
	t.Setenv("PRAXIS_WS_ALLOWED_ORIGINS", "")

	handler := createTestTeachHandler(t, &MockTeacher{})
	router := gin.New()
	router.GET("/v1/teach/ws", handler.HandleTeachWS)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/teach/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if conn != nil {
		conn.Close()
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.Error(t, err, "cross-origin upgrade must be refused")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
