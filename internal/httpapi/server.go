package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/leagueofcoding/arena/internal/battle"
	"github.com/leagueofcoding/arena/internal/matchmaking"
	"github.com/leagueofcoding/arena/internal/obslog"
	"github.com/leagueofcoding/arena/internal/presence"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Server exposes the engine operations over HTTP. Authentication is handled
// upstream; the caller identity arrives in the X-User-Id header.
type Server struct {
	engine  *matchmaking.Engine
	battles *battle.Manager
	tracker *presence.Tracker
}

func NewServer(engine *matchmaking.Engine, battles *battle.Manager, tracker *presence.Tracker) *Server {
	return &Server{engine: engine, battles: battles, tracker: tracker}
}

// Handler routes all API requests.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/api/matchmaking/join" && method == fasthttp.MethodPost:
		s.handleJoinQueue(ctx)
	case path == "/api/matchmaking/leave" && method == fasthttp.MethodPost:
		s.handleLeaveQueue(ctx)
	case path == "/api/matchmaking/status" && method == fasthttp.MethodGet:
		s.handleQueueStatus(ctx)
	case strings.HasPrefix(path, "/api/battles/"):
		s.routeBattle(ctx, strings.TrimPrefix(path, "/api/battles/"), method)
	case strings.HasPrefix(path, "/api/users/online"):
		s.routeOnline(ctx, strings.TrimPrefix(path, "/api/users/online"), method)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) routeBattle(ctx *fasthttp.RequestCtx, rest, method string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "" && method == fasthttp.MethodGet:
		s.handleMatchDetails(ctx, parts[0])
	case len(parts) == 2 && parts[1] == "join" && method == fasthttp.MethodPost:
		s.handleJoinMatch(ctx, parts[0])
	case len(parts) == 2 && parts[1] == "submit" && method == fasthttp.MethodPost:
		s.handleSubmit(ctx, parts[0])
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) routeOnline(ctx *fasthttp.RequestCtx, rest, method string) {
	if method != fasthttp.MethodGet {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch rest = strings.Trim(rest, "/"); rest {
	case "":
		writeJSON(ctx, fasthttp.StatusOK, s.tracker.OnlineUsers())
	case "count":
		writeJSON(ctx, fasthttp.StatusOK, map[string]int{"count": s.tracker.OnlineCount()})
	default:
		writeJSON(ctx, fasthttp.StatusOK, map[string]bool{"online": s.tracker.IsOnline(rest)})
	}
}

func (s *Server) handleJoinQueue(ctx *fasthttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	joined, err := s.engine.JoinQueue(requestContext(ctx), userID)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	size, serr := s.engine.QueueSize(requestContext(ctx))
	if serr != nil {
		size = 0
	}
	if !joined {
		writeJSON(ctx, fasthttp.StatusConflict, map[string]any{
			"error":     "Already in queue",
			"queueSize": size,
		})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"message":   "Joined matchmaking queue",
		"queueSize": size,
	})
}

func (s *Server) handleLeaveQueue(ctx *fasthttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	if err := s.engine.LeaveQueue(requestContext(ctx), userID); err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"message": "Left matchmaking queue"})
}

func (s *Server) handleQueueStatus(ctx *fasthttp.RequestCtx) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	in, err := s.engine.IsInQueue(requestContext(ctx), userID)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	size, err := s.engine.QueueSize(requestContext(ctx))
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"inQueue": in, "queueSize": size})
}

func (s *Server) handleJoinMatch(ctx *fasthttp.RequestCtx, matchID string) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	match, err := s.battles.JoinMatch(requestContext(ctx), matchID, userID)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, match)
}

type submitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (s *Server) handleSubmit(ctx *fasthttp.RequestCtx, matchID string) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := s.battles.SubmitCode(requestContext(ctx), matchID, userID, req.Code, req.Language)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sub)
}

func (s *Server) handleMatchDetails(ctx *fasthttp.RequestCtx, matchID string) {
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	details, err := s.battles.GetMatchDetails(requestContext(ctx), matchID, userID)
	if err != nil {
		s.writeDomainError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, details)
}

func (s *Server) writeDomainError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, battle.ErrMatchNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, battle.ErrNotParticipant):
		writeError(ctx, fasthttp.StatusForbidden, err.Error())
	case errors.Is(err, battle.ErrMatchNotInProgress), errors.Is(err, battle.ErrAlreadySubmitted):
		writeError(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, battle.ErrInvalidLanguage):
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		obslog.L().Error("api_internal_error", zap.String("path", string(ctx.Path())), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}

func callerID(ctx *fasthttp.RequestCtx) (string, bool) {
	userID := strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-Id")))
	if userID == "" {
		writeError(ctx, fasthttp.StatusUnauthorized, "missing X-User-Id")
		return "", false
	}
	return userID, true
}

func requestContext(_ *fasthttp.RequestCtx) context.Context {
	return context.Background()
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	b, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(b)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}
