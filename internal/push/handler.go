package push

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pushgarden/pushgarden/internal/domain"
	"github.com/pushgarden/pushgarden/internal/pkg/ctxlog"
	"github.com/pushgarden/pushgarden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "subscription not found"},
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrInvalidSubscription, Status: http.StatusBadRequest, Message: "subscription endpoint and keys are required"},
	{Error: ErrInvalidTarget, Status: http.StatusBadRequest, Message: "invalid dispatch target"},
}

// Handler handles HTTP requests for the push module.
type Handler struct {
	service    *Service
	dispatcher *Dispatcher
	processor  *Processor
	composer   *Composer
	repo       Repository
	validator  *validator.Validate

	vapidPublicKey string
	cronSecret     string
}

// NewHandler creates a push handler.
func NewHandler(service *Service, dispatcher *Dispatcher, processor *Processor, composer *Composer, repo Repository, vapidPublicKey, cronSecret string) *Handler {
	return &Handler{
		service:        service,
		dispatcher:     dispatcher,
		processor:      processor,
		composer:       composer,
		repo:           repo,
		validator:      validator.New(),
		vapidPublicKey: vapidPublicKey,
		cronSecret:     cronSecret,
	}
}

// RegisterPublicRoutes registers routes that need no authentication.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/push/vapid-public-key", h.GetVAPIDPublicKey)
}

// RegisterRoutes registers per-user routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/push/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.Subscribe)
		r.Delete("/", h.Unsubscribe)
	})
	r.Get("/push/history", h.History)
}

// RegisterAdminRoutes registers the dispatch surface (require admin).
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/push/dispatch", h.Dispatch)
	r.Post("/push/enqueue", h.Enqueue)
	r.Get("/push/notifications/{id}", h.GetNotification)
}

// GetVAPIDPublicKey handles GET /push/vapid-public-key. Browsers need the
// public key to create a subscription.
func (h *Handler) GetVAPIDPublicKey(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"public_key": h.vapidPublicKey,
	})
}

// SubscribeRequest mirrors the browser PushSubscription JSON shape.
type SubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// Subscribe handles POST /push/subscriptions.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, r.UserAgent())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, sub)
}

// UnsubscribeRequest identifies a device registration by endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// Unsubscribe handles DELETE /push/subscriptions.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /push/subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, subs)
}

// History handles GET /push/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// SendRequest is the body of POST /send-push-notification.
type SendRequest struct {
	UserID  string                     `json:"user_id" validate:"required"`
	Payload domain.NotificationPayload `json:"payload" validate:"required"`
}

// SendToUser handles POST /send-push-notification: the synchronous
// interactive send path.
func (h *Handler) SendToUser(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.dispatcher.DispatchToUser(r.Context(), req.UserID, req.Payload)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if result.Total == 0 {
		httputil.Error(w, http.StatusNotFound, "no active subscriptions")
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// DispatchRequest addresses a payload to a logical target.
type DispatchRequest struct {
	Target  domain.Target              `json:"target" validate:"required"`
	Payload domain.NotificationPayload `json:"payload" validate:"required"`
}

// Dispatch handles POST /push/dispatch: resolve the target and send
// synchronously, per user, in bounded parallel batches.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	userIDs, err := h.composer.Resolve(r.Context(), req.Target)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	reached := h.dispatcher.DispatchToUsers(r.Context(), userIDs, req.Payload)

	httputil.JSON(w, http.StatusOK, map[string]int{
		"resolved": len(userIDs),
		"reached":  reached,
	})
}

// Enqueue handles POST /push/enqueue: resolve the target and create one
// durable queue row per recipient for the retryable delivery path.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	userIDs, err := h.composer.Resolve(r.Context(), req.Target)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	items := make([]*domain.QueuedNotification, 0, len(userIDs))
	for _, userID := range userIDs {
		items = append(items, &domain.QueuedNotification{
			UserID:  userID,
			Payload: req.Payload,
		})
	}

	if err := h.repo.EnqueueBatch(r.Context(), items); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusAccepted, map[string]int{"queued": len(items)})
}

// GetNotification handles GET /push/notifications/{id}: queue row inspection
// for operators, mainly to read the error message of a failed delivery.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	n, err := h.repo.GetNotification(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, n)
}

const (
	// stuckThreshold is how long a row may sit in processing before the
	// cron pass assumes the claiming process died and reverts it.
	stuckThreshold = 10 * time.Minute

	// sentRetention is how long terminal sent rows are kept for inspection.
	sentRetention = 30 * 24 * time.Hour
)

// cronResponse is the trigger endpoint's response body.
type cronResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ProcessQueue handles GET /cron/push-notifications: one processor pass,
// guarded by the optional cron bearer secret. An unset secret disables the
// check, which is an escape hatch for local use, not a production posture.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret != "" {
		token, ok := httputil.BearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
			httputil.JSON(w, http.StatusUnauthorized, cronResponse{
				Success:   false,
				Message:   "unauthorized",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}

	// Queue maintenance piggybacks on the trigger cadence. Both steps are
	// best effort; a failure must not block the processing pass.
	if _, err := h.processor.RecoverStuck(r.Context(), stuckThreshold); err != nil {
		ctxlog.FromContext(r.Context()).Error("stuck recovery failed", "error", err)
	}
	if _, err := h.processor.DeleteOldSent(r.Context(), sentRetention); err != nil {
		ctxlog.FromContext(r.Context()).Error("sent pruning failed", "error", err)
	}

	stats, err := h.processor.ProcessPending(r.Context())
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("queue processing failed", "error", err)
		httputil.JSON(w, http.StatusInternalServerError, cronResponse{
			Success:   false,
			Message:   "queue processing failed",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	httputil.JSON(w, http.StatusOK, cronResponse{
		Success: true,
		Message: "processed " + strconv.Itoa(stats.Claimed) + " notifications" +
			" (sent " + strconv.Itoa(stats.Sent) +
			", retried " + strconv.Itoa(stats.Retried) +
			", failed " + strconv.Itoa(stats.Failed) + ")",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
