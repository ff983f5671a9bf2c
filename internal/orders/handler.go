package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/auth"
	"github.com/jogardn/pharmacy-portal/internal/lifecycle"
	"github.com/jogardn/pharmacy-portal/internal/notify"
	"github.com/jogardn/pharmacy-portal/internal/store"
	"github.com/jogardn/pharmacy-portal/pkg/models"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type statusRequest struct {
	Status models.Status `json:"status" validate:"required,oneof=placed ready complete cancelled"`
}

type acceptanceRequest struct {
	Decision models.AcceptanceStatus `json:"decision" validate:"required,oneof=accepted rejected"`
}

type notificationView struct {
	*models.Notification
	Message notify.Message `json:"message"`
}

type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewHandler(service *Service, validate *validator.Validate, logger *logrus.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validate,
		logger:   logger,
	}
}

// Register mounts the order routes. The router must already authenticate.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PATCH")
	router.HandleFunc("/orders/{id}/acceptance", h.RespondToProposal).Methods("POST")
	router.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.Create(r.Context(), claims, req)
	if err != nil {
		h.respondWithServiceError(w, err, "")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, view)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	orderID := mux.Vars(r)["id"]

	view, err := h.service.Get(r.Context(), claims, orderID)
	if err != nil {
		h.respondWithServiceError(w, err, orderID)
		return
	}
	h.respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	orderID := mux.Vars(r)["id"]

	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.Transition(r.Context(), claims, orderID, req.Status)
	if err != nil {
		h.respondWithServiceError(w, err, orderID)
		return
	}
	h.respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) RespondToProposal(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	orderID := mux.Vars(r)["id"]

	var req acceptanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.RespondToProposal(r.Context(), claims, orderID, req.Decision)
	if err != nil {
		h.respondWithServiceError(w, err, orderID)
		return
	}
	h.respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	notifications, err := h.service.Notifications(r.Context(), claims, limit)
	if err != nil {
		h.respondWithServiceError(w, err, "")
		return
	}

	views := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, notificationView{Notification: n, Message: notify.FromNotification(n)})
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": views,
		"count":         len(views),
	})
}

// decode reads a JSON body strictly and validates it, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Failed to decode request body")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error, orderID string) {
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		h.respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrNotParty), errors.Is(err, ErrUnsupportedRole):
		h.respondWithError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, lifecycle.ErrForbiddenTransition):
		h.respondWithError(w, http.StatusConflict, "Status change not allowed")
	case errors.Is(err, store.ErrStaleOrder):
		h.respondWithError(w, http.StatusConflict, "Order was updated by someone else")
	case errors.Is(err, ErrAwaitingAcceptance):
		h.respondWithError(w, http.StatusConflict, "Proposal is awaiting the patient's answer")
	case errors.Is(err, store.ErrProposalClosed):
		h.respondWithError(w, http.StatusConflict, "Proposal is no longer open")
	case errors.Is(err, ErrInvalidRequest):
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
	default:
		h.logger.WithError(err).WithField("order_id", orderID).Error("Order request failed")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to process order")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
