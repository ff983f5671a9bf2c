package models

import (
	"time"
)

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusReady     Status = "ready"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []Status{StatusPlaced, StatusReady, StatusComplete, StatusCancelled}

func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusReady, StatusComplete, StatusCancelled:
		return true
	}
	return false
}

type InitiatorType string

const (
	InitiatorPatient  InitiatorType = "patient"
	InitiatorPharmacy InitiatorType = "pharmacy"
)

func (i InitiatorType) Valid() bool {
	return i == InitiatorPatient || i == InitiatorPharmacy
}

// AcceptanceStatus tracks the patient's answer to a pharmacy-initiated proposal.
// It is independent of Status and must be read together with it.
type AcceptanceStatus string

const (
	AcceptancePending  AcceptanceStatus = "pending"
	AcceptanceAccepted AcceptanceStatus = "accepted"
	AcceptanceRejected AcceptanceStatus = "rejected"
)

func (a AcceptanceStatus) Valid() bool {
	switch a {
	case AcceptancePending, AcceptanceAccepted, AcceptanceRejected:
		return true
	}
	return false
}

type Order struct {
	ID                 string           `json:"id" db:"id"`
	PatientID          *string          `json:"patient_id,omitempty" db:"patient_id"`
	PharmacyID         string           `json:"pharmacy_id" db:"pharmacy_id"`
	Status             Status           `json:"status" db:"status"`
	InitiatorType      InitiatorType    `json:"initiator_type" db:"initiator_type"`
	AcceptanceStatus   AcceptanceStatus `json:"acceptance_status" db:"acceptance_status"`
	AcceptanceDeadline *time.Time       `json:"acceptance_deadline,omitempty" db:"acceptance_deadline"`
	TotalAmount        float64          `json:"total_amount" db:"total_amount"`
	FulfillmentStatus  string           `json:"fulfillment_status,omitempty" db:"fulfillment_status"`
	Notes              *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// PatientRef returns the patient id or "" for walk-in orders.
func (o *Order) PatientRef() string {
	if o.PatientID == nil {
		return ""
	}
	return *o.PatientID
}

// HasParty reports whether userID is the patient or the pharmacy on the order.
func (o *Order) HasParty(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == o.PharmacyID || userID == o.PatientRef()
}

// AwaitingAcceptance is true for a pharmacy proposal the patient has not yet
// answered. Its status stays placed until the patient or the expiry sweep
// settles it.
func (o *Order) AwaitingAcceptance() bool {
	return o.InitiatorType == InitiatorPharmacy && o.AcceptanceStatus == AcceptancePending
}

// ExpiryCandidate is the projection the expiry sweep works on.
type ExpiryCandidate struct {
	ID         string `json:"id" db:"id"`
	PatientID  string `json:"patient_id" db:"patient_id"`
	PharmacyID string `json:"pharmacy_id" db:"pharmacy_id"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
