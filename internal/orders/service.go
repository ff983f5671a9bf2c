package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/auth"
	"github.com/jogardn/pharmacy-portal/internal/events"
	"github.com/jogardn/pharmacy-portal/internal/lifecycle"
	"github.com/jogardn/pharmacy-portal/internal/notify"
	"github.com/jogardn/pharmacy-portal/internal/store"
	"github.com/jogardn/pharmacy-portal/pkg/models"
)

var (
	ErrNotParty        = errors.New("caller is not a party to the order")
	ErrUnsupportedRole = errors.New("role cannot act on orders")
	ErrInvalidRequest  = errors.New("invalid order request")

	// ErrAwaitingAcceptance refuses status changes on a proposal the patient
	// has not answered yet. The patient answers through RespondToProposal.
	ErrAwaitingAcceptance = errors.New("order proposal is awaiting the patient's answer")
)

// View is an order as presented to one caller.
type View struct {
	Order                *models.Order          `json:"order"`
	Display              lifecycle.Presentation `json:"display"`
	AvailableTransitions []models.Status        `json:"available_transitions"`
}

// CreateRequest is the body of POST /orders. Pharmacists must name the patient
// the proposal is addressed to; patients must name the pharmacy.
type CreateRequest struct {
	PatientID   string  `json:"patient_id" validate:"omitempty,max=255"`
	PharmacyID  string  `json:"pharmacy_id" validate:"omitempty,max=255"`
	TotalAmount float64 `json:"total_amount" validate:"gte=0"`
	Notes       string  `json:"notes" validate:"max=2000"`
}

type Service struct {
	gateway     store.Gateway
	publisher   events.Publisher
	proposalTTL time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

func NewService(gateway store.Gateway, publisher events.Publisher, proposalTTL time.Duration, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{Logger: logger}
	}
	return &Service{
		gateway:     gateway,
		publisher:   publisher,
		proposalTTL: proposalTTL,
		logger:      logger,
		now:         time.Now,
	}
}

func actorRole(claims *auth.Claims) (lifecycle.Role, error) {
	switch claims.Role {
	case auth.RolePatient:
		return lifecycle.RolePatient, nil
	case auth.RolePharmacist:
		return lifecycle.RolePharmacist, nil
	}
	return "", ErrUnsupportedRole
}

// load fetches the order and checks that the caller is on it.
func (s *Service) load(ctx context.Context, claims *auth.Claims, orderID string) (*models.Order, lifecycle.Role, error) {
	role, err := actorRole(claims)
	if err != nil {
		return nil, "", err
	}
	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	party := claims.PartyID()
	if role == lifecycle.RolePatient && order.PatientRef() != party {
		return nil, "", ErrNotParty
	}
	if role == lifecycle.RolePharmacist && order.PharmacyID != party {
		return nil, "", ErrNotParty
	}
	return order, role, nil
}

func (s *Service) view(order *models.Order, role lifecycle.Role) *View {
	available := lifecycle.AvailableTransitions(order.Status, role)
	if order.AwaitingAcceptance() {
		available = []models.Status{}
	}
	return &View{
		Order:                order,
		Display:              lifecycle.Present(order.Status, order.InitiatorType),
		AvailableTransitions: available,
	}
}

func (s *Service) Get(ctx context.Context, claims *auth.Claims, orderID string) (*View, error) {
	order, role, err := s.load(ctx, claims, orderID)
	if err != nil {
		return nil, err
	}
	return s.view(order, role), nil
}

func (s *Service) Create(ctx context.Context, claims *auth.Claims, req CreateRequest) (*View, error) {
	role, err := actorRole(claims)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:                uuid.New().String(),
		Status:            models.StatusPlaced,
		TotalAmount:       req.TotalAmount,
		FulfillmentStatus: "pending",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Notes != "" {
		notes := req.Notes
		order.Notes = &notes
	}

	switch role {
	case lifecycle.RolePharmacist:
		if req.PatientID == "" {
			return nil, ErrInvalidRequest
		}
		patientID := req.PatientID
		deadline := now.Add(s.proposalTTL)
		order.PatientID = &patientID
		order.PharmacyID = claims.PartyID()
		order.InitiatorType = models.InitiatorPharmacy
		order.AcceptanceStatus = models.AcceptancePending
		order.AcceptanceDeadline = &deadline
	case lifecycle.RolePatient:
		if req.PharmacyID == "" {
			return nil, ErrInvalidRequest
		}
		patientID := claims.PartyID()
		order.PatientID = &patientID
		order.PharmacyID = req.PharmacyID
		order.InitiatorType = models.InitiatorPatient
		order.AcceptanceStatus = models.AcceptanceAccepted
	}

	if err := s.gateway.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"initiator": order.InitiatorType,
	}).Info("Order created")

	return s.view(order, role), nil
}

// Transition moves an order to target on behalf of the caller and tells the
// other party.
func (s *Service) Transition(ctx context.Context, claims *auth.Claims, orderID string, target models.Status) (*View, error) {
	order, role, err := s.load(ctx, claims, orderID)
	if err != nil {
		return nil, err
	}
	if order.AwaitingAcceptance() {
		return nil, ErrAwaitingAcceptance
	}
	if err := lifecycle.CheckTransition(order.Status, target, role); err != nil {
		return nil, err
	}
	if err := s.gateway.UpdateOrderStatus(ctx, orderID, order.Status, target); err != nil {
		return nil, err
	}

	from := order.Status
	order.Status = target
	order.UpdatedAt = s.now().UTC()

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       target,
		"role":     role,
	}).Info("Order status changed")

	s.announce(ctx, order, claims.PartyID(), notify.OrderEvent{
		Type:    notify.EventOrderStatusChanged,
		OrderID: orderID,
		Status:  target,
	})
	return s.view(order, role), nil
}

// RespondToProposal records the patient's answer to a pharmacy proposal.
func (s *Service) RespondToProposal(ctx context.Context, claims *auth.Claims, orderID string, decision models.AcceptanceStatus) (*View, error) {
	if decision != models.AcceptanceAccepted && decision != models.AcceptanceRejected {
		return nil, ErrInvalidRequest
	}
	order, role, err := s.load(ctx, claims, orderID)
	if err != nil {
		return nil, err
	}
	if role != lifecycle.RolePatient || order.InitiatorType != models.InitiatorPharmacy {
		return nil, store.ErrProposalClosed
	}

	updated, err := s.gateway.RespondToProposal(ctx, orderID, decision, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"decision": decision,
	}).Info("Proposal answered")

	s.announce(ctx, updated, claims.PartyID(), notify.OrderEvent{
		Type:    notify.EventOrderProposalAnswered,
		OrderID: orderID,
		Status:  updated.Status,
		Reason:  string(decision),
	})
	return s.view(updated, role), nil
}

// Notifications lists the caller's inbox, newest first.
func (s *Service) Notifications(ctx context.Context, claims *auth.Claims, limit int) ([]*models.Notification, error) {
	return s.gateway.ListNotifications(ctx, claims.PartyID(), limit)
}

// announce notifies the counterpart of sender and publishes the event. Both
// are best effort: the state change has already been committed.
func (s *Service) announce(ctx context.Context, order *models.Order, senderID string, event notify.OrderEvent) {
	log := s.logger.WithField("order_id", order.ID)

	receiverID := order.PharmacyID
	if senderID == order.PharmacyID {
		receiverID = order.PatientRef()
	}
	if receiverID != "" {
		n, err := notify.Event(event).ToNotification(senderID, receiverID)
		if err == nil {
			err = s.gateway.InsertNotification(ctx, n)
		}
		if err != nil {
			log.WithError(err).Error("Failed to notify counterpart")
		}
	}

	envelope := events.NewOrderEvent(event, order.PatientRef(), order.PharmacyID)
	envelope.EventTime = s.now().UTC()
	if err := s.publisher.PublishOrderEvent(ctx, envelope); err != nil {
		log.WithError(err).Warn("Failed to publish order event")
	}
}
