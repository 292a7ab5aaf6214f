package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Nombah501/LiteAuction-sub001/api-gateway/internal/service"
	"github.com/Nombah501/LiteAuction-sub001/internal/bidding"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Handler contains HTTP request handlers
type Handler struct {
	biddingService *service.BiddingService
	log            *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(biddingService *service.BiddingService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		biddingService: biddingService,
		log:            log,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.CreateAuction).Methods("POST")
	api.HandleFunc("/auctions/{id}", h.GetAuction).Methods("GET")
	api.HandleFunc("/auctions/{id}/publish", h.PublishAuction).Methods("POST")
	api.HandleFunc("/auctions/{id}/cancel", h.CancelAuction).Methods("POST")
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods("POST")
	api.HandleFunc("/auctions/{id}/buyout", h.Buyout).Methods("POST")

	mod := api.PathPrefix("/moderation").Subrouter()
	mod.HandleFunc("/auctions/{id}/freeze", h.moderate(h.biddingService.Freeze)).Methods("POST")
	mod.HandleFunc("/auctions/{id}/unfreeze", h.moderate(h.biddingService.Unfreeze)).Methods("POST")
	mod.HandleFunc("/auctions/{id}/end", h.moderate(h.biddingService.ForceEnd)).Methods("POST")
	mod.HandleFunc("/auctions/{id}/log", h.GetModerationLog).Methods("GET")
	mod.HandleFunc("/bids/{id}/remove", h.moderate(h.biddingService.RemoveBid)).Methods("POST")
	mod.HandleFunc("/fraud-signals", h.ListFraudSignals).Methods("GET")
	mod.HandleFunc("/fraud-signals/{id}/resolve", h.ResolveFraudSignal).Methods("POST")

	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "api-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStats returns the engine counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.biddingService.Stats())
}

// CreateAuction stores a draft auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var params bidding.DraftParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a, err := h.biddingService.CreateDraft(r.Context(), params)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// GetAuction returns the current view of an auction
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	view, err := h.biddingService.View(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// PublishAuction opens a draft for bidding
func (h *Handler) PublishAuction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.biddingService.Publish)
}

// CancelAuction withdraws a draft
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.biddingService.Cancel)
}

// PlaceBid handles raise requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	h.bid(w, r, false)
}

// Buyout handles buyout requests
func (h *Handler) Buyout(w http.ResponseWriter, r *http.Request) {
	h.bid(w, r, true)
}

func (h *Handler) bid(w http.ResponseWriter, r *http.Request, buyout bool) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	var bidReq models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&bidReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if bidReq.BidderID == 0 {
		respondError(w, http.StatusBadRequest, "Bidder ID is required")
		return
	}
	if bidReq.Multiplier == 0 {
		bidReq.Multiplier = 1
	}

	out, err := h.biddingService.PlaceBid(r.Context(), bidding.BidIntent{
		AuctionID:  id,
		BidderID:   bidReq.BidderID,
		Multiplier: bidReq.Multiplier,
		Buyout:     buyout,
	})
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	switch {
	case out.Success:
		respondJSON(w, http.StatusCreated, out)
	case out.Rejection != nil:
		respondJSON(w, rejectionStatus(out.Rejection), out)
	default:
		respondJSON(w, http.StatusOK, out)
	}
}

// GetModerationLog returns the moderator actions taken on an auction
func (h *Handler) GetModerationLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	logs, err := h.biddingService.ModerationLog(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// ListFraudSignals pages through fraud signals
func (h *Handler) ListFraudSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.FraudSignalFilter
	if raw := q.Get("auction_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid auction_id")
			return
		}
		filter.AuctionID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := models.FraudSignalStatus(raw)
		filter.Status = &status
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	signals, err := h.biddingService.ListFraudSignals(r.Context(), filter)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	if signals == nil {
		signals = []models.FraudSignal{}
	}
	respondJSON(w, http.StatusOK, signals)
}

// ResolveFraudSignal confirms or dismisses a fraud signal
func (h *Handler) ResolveFraudSignal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid fraud signal ID")
		return
	}
	var req struct {
		ResolverID int64                    `json:"resolver_id"`
		Status     models.FraudSignalStatus `json:"status"`
		Note       string                   `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sig, err := h.biddingService.ResolveFraudSignal(r.Context(), id, req.ResolverID, req.Status, req.Note)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sig)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) (*models.Auction, error)) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	a, err := fn(r.Context(), id)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) moderate(fn func(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*bidding.ModerationResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r)
		if !ok {
			return
		}
		var req moderationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.ActorID == 0 {
			respondError(w, http.StatusBadRequest, "Actor ID is required")
			return
		}
		res, err := fn(r.Context(), id, req.ActorID, req.Reason)
		if err != nil {
			h.respondFailure(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

type moderationRequest struct {
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason"`
}

// respondFailure maps service errors to status codes
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := bidding.AsRejection(err); ok {
		respondJSON(w, rejectionStatus(rej), map[string]string{
			"error": rej.Message,
			"kind":  string(rej.Kind),
		})
		return
	}

	var cooldown *service.CooldownError
	if errors.As(err, &cooldown) {
		seconds := int(math.Ceil(cooldown.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		respondError(w, http.StatusTooManyRequests, "Bid cooldown active")
		return
	}

	if store.IsTransient(err) {
		h.log.Warn("Transient failure", "method", r.Method, "path", r.URL.Path, "err", err)
		respondError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry")
		return
	}

	h.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	respondError(w, http.StatusInternalServerError, "Internal error")
}

func rejectionStatus(rej *bidding.Rejection) int {
	switch rej.Kind {
	case bidding.KindNotFound:
		return http.StatusNotFound
	case bidding.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers (for development)
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
