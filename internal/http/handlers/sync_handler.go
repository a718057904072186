// Sync HTTP handlers.
//
// This file exposes REST endpoints for solve synchronization:
//   - POST   /sync   (compare: client sends known ids, server answers with
//     the records it alone holds and the ids it has never seen)
//   - PUT    /sync   (push a batch of new solves)
//   - DELETE /sync   (delete solves by id)
//
// Handlers are transport-thin:
//   - validate & decode wire payloads (including the Api-Version move format)
//   - delegate to the application service (SyncService)
//   - implement idempotency semantics for pushes
//
// Wire format:
// Solve identity on the wire is the client-generated startTime. Move lists
// travel verbose ({axis,index,n,time} objects) by default; clients that send
// the Api-Version header negotiate the compact tuple form in both directions.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// push exists for (user, key), the handler acknowledges without re-inserting
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-loopover-backend/internal/codec"
	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/http/middleware"
	"github.com/tbourn/go-loopover-backend/internal/services"
)

// apiVersionHeader selects the compact move representation when present.
const apiVersionHeader = "Api-Version"

//
// Service contracts (context-aware)
//

// SyncService defines solve reconciliation operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SyncService interface {
	// Pull partitions the user's stored solves against the client's known ids.
	Pull(ctx context.Context, userID string, known []int64) (missing []int64, solves []domain.Solve, err error)
	// Push validates and bulk-inserts a batch of solves for the user.
	Push(ctx context.Context, userID string, records []services.PushRecord) error
	// Delete removes the identified solves belonging to the user.
	Delete(ctx context.Context, userID string, ids []int64) error
}

// IdempotencyStore records a completed push under (userID, key) so a later
// retry with the same key replays instead of re-inserting. It mirrors the
// lookup on the middleware side; the TTL policy lives in the implementation.
type IdempotencyStore func(ctx context.Context, userID, key string, status int) error

//
// Handler wiring
//

// Handlers groups HTTP endpoints for authentication, sync, and statistics.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	authSvc   AuthService
	syncSvc   SyncService
	statsSvc  StatsService
	idemStore IdempotencyStore
}

// New constructs and returns a Handlers instance bound to the given services.
// idemStore may be nil, which disables recording of push completions.
func New(authSvc AuthService, syncSvc SyncService, statsSvc StatsService, idemStore IdempotencyStore) *Handlers {
	return &Handlers{authSvc: authSvc, syncSvc: syncSvc, statsSvc: statsSvc, idemStore: idemStore}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// session middleware). Routes using it are always mounted behind that
// middleware, so an empty result only occurs in mis-wired tests.
func userID(c *gin.Context) string {
	uid, _ := middleware.UserID(c)
	return uid
}

// wireFormat maps the Api-Version request header to a move codec format:
// header present selects compact tuples, absent selects verbose objects.
func wireFormat(c *gin.Context) codec.Format {
	if _, ok := c.Request.Header[apiVersionHeader]; ok {
		return codec.FormatCompact
	}
	return codec.FormatVerbose
}

//
// DTOs
//

// SolveBody is the wire representation of one solve in both directions.
// Moves is raw JSON whose shape depends on the negotiated format.
type SolveBody struct {
	// ID mirrors the repository identity; clients must never send it.
	ID *uint `json:"_id,omitempty"`
	// StartTime is the client-generated solve identity (required on push).
	StartTime *int64 `json:"startTime"`
	// Event names the puzzle variant, e.g. "3x3".
	Event string `json:"event,omitempty"`
	// Time is the elapsed solve duration in milliseconds.
	Time int64 `json:"time,omitempty"`
	// DNF marks an abandoned solve.
	DNF bool `json:"dnf,omitempty"`
	// Moves holds the move list in the negotiated wire format.
	Moves json.RawMessage `json:"moves,omitempty"`
}

// PullResponse answers a compare request: Solves the client lacks, and ids
// the server has never seen.
type PullResponse struct {
	Missing []int64     `json:"missing"`
	Solves  []SolveBody `json:"solves"`
}

//
// Handlers
//

// PullSolves godoc
// @ID          pullSolves
// @Summary     Compare solve sets
// @Description The client posts the startTime ids it holds; the server responds
// @Description with every stored solve absent from that set plus the ids it has
// @Description no record of.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       Authorization  header  string   true   "Bearer session token"
// @Param       Api-Version    header  string   false  "Present: compact move tuples"
// @Param       body           body    []int64  true   "Known solve ids (startTimes)"
//
// @Success     200  {object}  handlers.PullResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sync [post]
func (h *Handlers) PullSolves(c *gin.Context) {
	ctx := c.Request.Context()

	var known []int64
	if err := c.ShouldBindJSON(&known); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON array of startTime ids")
		return
	}

	missing, stored, err := h.syncSvc.Pull(ctx, userID(c), known)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}

	format := wireFormat(c)
	out := make([]SolveBody, 0, len(stored))
	for i := range stored {
		s := &stored[i]
		raw, err := codec.MarshalMoves(s.Moves, format)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
			return
		}
		st := s.StartTime
		out = append(out, SolveBody{
			StartTime: &st,
			Event:     s.Event,
			Time:      s.Time,
			DNF:       s.DNF,
			Moves:     raw,
		})
	}
	if missing == nil {
		missing = []int64{}
	}

	ok(c, http.StatusOK, PullResponse{Missing: missing, Solves: out})
}

// PushSolves godoc
// @ID          pushSolves
// @Summary     Upload new solves
// @Description Validates and stores a batch of solves for the authenticated user.
// @Description Supports idempotency via the Idempotency-Key header (same key → replay ack).
// @Tags        Sync
// @Accept      json
//
// @Param       Authorization    header  string                 true   "Bearer session token"
// @Param       Api-Version      header  string                 false  "Present: compact move tuples"
// @Param       Idempotency-Key  header  string                 false  "Idempotency key for safe retries"
// @Param       body             body    []handlers.SolveBody   true   "Solves to store"
//
// @Success     204  "Stored"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sync [put]
func (h *Handlers) PushSolves(c *gin.Context) {
	ctx := c.Request.Context()
	currentUser := userID(c)

	// Idempotency (replay path) – the validator already consulted the store.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && middleware.IsReplay(c) {
		c.Header("Idempotency-Replayed", "true")
		noContent(c)
		return
	}

	var body []SolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON array of solves")
		return
	}

	format := wireFormat(c)
	records := make([]services.PushRecord, 0, len(body))
	for _, sb := range body {
		moves, err := codec.UnmarshalMoves(sb.Moves, format)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed move list")
			return
		}
		records = append(records, services.PushRecord{
			ID:        sb.ID,
			StartTime: sb.StartTime,
			Event:     sb.Event,
			Time:      sb.Time,
			DNF:       sb.DNF,
			Moves:     moves,
		})
	}

	if err := h.syncSvc.Push(ctx, currentUser, records); err != nil {
		switch err {
		case services.ErrHasIdentity:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "solves must not carry a repository id")
		case services.ErrMissingStartTime:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "solve startTime required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort; a failed write only costs the
	// dedupe on the next retry.
	if idemKey != "" && h.idemStore != nil {
		_ = h.idemStore(ctx, currentUser, idemKey, http.StatusNoContent)
	}

	noContent(c)
}

// DeleteSolves godoc
// @ID          deleteSolves
// @Summary     Delete solves
// @Description Removes the identified solves from the authenticated user's set.
// @Description Unknown ids are ignored, making retries safe.
// @Tags        Sync
// @Accept      json
//
// @Param       Authorization  header  string   true  "Bearer session token"
// @Param       body           body    []int64  true  "Solve ids (startTimes) to delete"
//
// @Success     204  "Deleted"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sync [delete]
func (h *Handlers) DeleteSolves(c *gin.Context) {
	ctx := c.Request.Context()

	var ids []int64
	if err := c.ShouldBindJSON(&ids); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON array of startTime ids")
		return
	}

	if err := h.syncSvc.Delete(ctx, userID(c), ids); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	noContent(c)
}
