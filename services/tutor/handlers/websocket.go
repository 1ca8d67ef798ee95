package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/praxislearn/praxis/services/llm"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/middleware"
	"github.com/praxislearn/praxis/services/tutor/observability"
	"github.com/praxislearn/praxis/services/tutor/teaching"
)

// WSTeachRequest is one teach turn over the socket. Session identity is
// connection-scoped, so the client only sends the new message plus optional
// history and hints.
type WSTeachRequest struct {
	Message          string              `json:"message"`
	PreviousMessages []datatypes.Message `json:"previous_messages,omitempty"`
	Context          map[string]string   `json:"context,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkWSOrigin,
	// Teach messages cap at 32KB; 64KB buffers leave headroom for framing.
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// checkWSOrigin accepts same-host browser upgrades and non-browser clients
// (no Origin header). A web UI served from another host must be listed in
// PRAXIS_WS_ALLOWED_ORIGINS (comma-separated; "*" disables the check for
// dev setups). Everything else is refused to keep cross-site pages from
// opening teach sessions with the learner's cookies.
func checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	for _, allowed := range strings.Split(os.Getenv("PRAXIS_WS_ALLOWED_ORIGINS"), ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleTeachWS relays the teach chunk/metadata protocol over a WebSocket.
// Each inbound frame is one teach turn; the reply is the same event stream
// the SSE endpoint produces (status, token, thinking, metadata, done, error),
// one JSON frame per event. The session ID is minted per connection so
// consecutive turns share teaching context.
func (h *teachHandler) HandleTeachWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Websocket learner connected")

	// --- Connection state ---
	sessionID := uuid.New().String()
	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	slog.Info("New websocket teach session started", "sessionID", sessionID, "userID", userID)

	// --- Send session ID to client immediately on connect ---
	if err := sendJSON(ws, map[string]interface{}{
		"action":    "session_created",
		"sessionId": sessionID,
	}); err != nil {
		return // Close if we can't even send the first message
	}

	for {
		var wsReq WSTeachRequest
		if err := ws.ReadJSON(&wsReq); err != nil {
			slog.Info("Websocket learner disconnected", "error", err.Error())
			break
		}

		h.handleWSTurn(c.Request.Context(), ws, sessionID, userID, wsReq)
	}
}

// handleWSTurn runs one teach exchange and writes its event frames. Errors
// end the turn, not the connection.
func (h *teachHandler) handleWSTurn(
	ctx context.Context,
	ws *websocket.Conn,
	sessionID, userID string,
	wsReq WSTeachRequest,
) {
	endpoint := observability.EndpointTeachWS
	ok := false
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
		defer func() { m.RecordRequest(endpoint, ok) }()
	}

	req := datatypes.TeachRequest{
		UserID:           userID,
		SessionID:        sessionID,
		Message:          wsReq.Message,
		PreviousMessages: wsReq.PreviousMessages,
		Context:          wsReq.Context,
	}
	req.EnsureDefaults()

	if err := req.Validate(); err != nil {
		slog.Warn("Websocket teach request failed validation", "error", err, "sessionID", sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventError).
			WithError("invalid request: validation failed"))
		return
	}

	// --- Outbound protection, same scan the HTTP endpoints run ---
	findings := h.policyEngine.ScanMessage(req.Message)
	if len(findings) > 0 {
		slog.Warn("Blocked websocket teach turn: message contains sensitive data",
			"findings_count", len(findings),
			"sessionID", sessionID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		_ = sendJSON(ws, map[string]interface{}{
			"type":     "error",
			"error":    "Policy Violation: Message contains sensitive data.",
			"findings": findings,
		})
		return
	}

	filtered, filterErr := h.opts.MessageFilter.FilterInput(ctx, req.Message)
	if filterErr != nil {
		slog.Error("Websocket message filter failed", "error", filterErr, "sessionID", sessionID)
		_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventError).
			WithError("message processing failed"))
		return
	}
	if filtered.WasBlocked {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventError).
			WithError("Message blocked by content filter"))
		return
	}
	req.Message = filtered.Filtered

	_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventStatus).
		WithMessage("Thinking about your question...").
		WithSessionId(sessionID))

	// --- Relay the pipeline's chunks as JSON frames ---
	callbacks := teaching.StreamCallbacks{
		OnChunk: func(event llm.StreamEvent) error {
			switch event.Type {
			case llm.StreamEventToken:
				return sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventToken).
					WithContent(event.Content))
			case llm.StreamEventThinking:
				return sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventThinking).
					WithContent(event.Content))
			default:
				return nil
			}
		},
		OnMetadata: func(md *datatypes.TeachMetadata) {
			_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventMetadata).
				WithMetadata(md))
		},
	}

	if err := h.teacher.TeachStream(ctx, &req, callbacks); err != nil {
		slog.Error("Websocket teach stream failed", "error", err, "sessionID", sessionID)
		_, clientMsg, code := mapTeachError(err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, code)
		}
		_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventError).
			WithError(clientMsg))
		return
	}

	_ = sendJSON(ws, datatypes.NewStreamEvent(datatypes.EventDone).
		WithSessionId(sessionID))
	ok = true
}
