package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/events"
	"github.com/jogardn/pharmacy-portal/internal/notify"
	"github.com/jogardn/pharmacy-portal/internal/store"
	"github.com/jogardn/pharmacy-portal/pkg/models"
)

// BatchFailureMessage is the only error text a sweep caller ever sees.
const BatchFailureMessage = "Failed to process expired orders"

type Options struct {
	DryRun bool `json:"dryRun"`
}

// Result summarises one sweep run. Skipped counts candidates another run
// cancelled first; NotificationFailures counts failed sends.
type Result struct {
	Cancelled int    `json:"cancelled"`
	Found     *int   `json:"found,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	Skipped              int `json:"-"`
	NotificationFailures int `json:"-"`
}

func (r Result) Failed() bool {
	return r.Error != ""
}

type Config struct {
	// OrderTimeout bounds the I/O spent on a single candidate. Zero disables it.
	OrderTimeout time.Duration
	// StrictSchema turns a missing initiator_type column into a batch failure
	// instead of an empty result.
	StrictSchema bool
}

// Sweeper force-cancels pharmacy proposals whose acceptance deadline passed
// without a patient answer.
type Sweeper struct {
	gateway   store.Gateway
	publisher events.Publisher
	logger    *logrus.Logger
	config    Config
	now       func() time.Time
}

func NewSweeper(gateway store.Gateway, publisher events.Publisher, config Config, logger *logrus.Logger) *Sweeper {
	if publisher == nil {
		publisher = events.NopPublisher{Logger: logger}
	}
	return &Sweeper{
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Run executes one sweep. Per-order failures are logged and never surface in
// the result; only a failed candidate query produces Result.Error.
func (s *Sweeper) Run(ctx context.Context, opts Options) Result {
	ready, err := s.gateway.SchemaReady(ctx)
	if err != nil {
		return s.batchFailure(err)
	}
	if !ready {
		if s.config.StrictSchema {
			return s.batchFailure(errors.WithStack(store.ErrSchemaNotReady))
		}
		s.logger.Warn("Orders schema not migrated, skipping expiry sweep")
		return s.emptyResult(opts)
	}

	now := s.now()
	candidates, err := s.gateway.FindPendingExpiredOrders(ctx, now)
	if err != nil {
		return s.batchFailure(err)
	}

	if opts.DryRun {
		found := len(candidates)
		s.logger.WithFields(logrus.Fields{
			"found":   found,
			"dry_run": true,
		}).Info("Expiry sweep dry run completed")
		return Result{Found: &found, DryRun: true}
	}

	var result Result
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			s.logger.WithError(ctx.Err()).Warn("Expiry sweep interrupted")
			break
		}
		s.expire(ctx, candidate, &result)
	}

	s.logger.WithFields(logrus.Fields{
		"found":                 len(candidates),
		"cancelled":             result.Cancelled,
		"skipped":               result.Skipped,
		"notification_failures": result.NotificationFailures,
	}).Info("Expiry sweep completed")

	return result
}

func (s *Sweeper) emptyResult(opts Options) Result {
	if opts.DryRun {
		found := 0
		return Result{Found: &found, DryRun: true}
	}
	return Result{}
}

func (s *Sweeper) batchFailure(err error) Result {
	requestID := uuid.New().String()
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"stack":      fmt.Sprintf("%+v", err),
	}).WithError(err).Error("Expiry sweep failed")

	return Result{
		Cancelled: 0,
		Error:     BatchFailureMessage,
		RequestID: requestID,
	}
}

func (s *Sweeper) expire(ctx context.Context, candidate models.ExpiryCandidate, result *Result) {
	if s.config.OrderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OrderTimeout)
		defer cancel()
	}

	log := s.logger.WithField("order_id", candidate.ID)

	rows, err := s.gateway.SetOrderCancelled(ctx, candidate.ID, models.AcceptancePending)
	if err != nil {
		log.WithError(err).Error("Failed to cancel expired order")
		return
	}
	if rows == 0 {
		log.Info("Expired order already handled, skipping notifications")
		result.Skipped++
		return
	}
	result.Cancelled++

	msg := notify.Expired(candidate.ID)
	if candidate.PatientID == "" {
		log.Warn("Expired order has no patient account, skipping notifications")
	} else {
		s.send(ctx, log, msg, candidate.PharmacyID, candidate.PatientID, "pharmacy_to_patient", result)
		s.send(ctx, log, msg, candidate.PatientID, candidate.PharmacyID, "patient_to_pharmacy", result)
	}

	event := events.NewOrderEvent(*msg.Event, candidate.PatientID, candidate.PharmacyID)
	event.EventTime = s.now().UTC()
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to publish order expired event")
	}

	log.Info("Expired order cancelled")
}

func (s *Sweeper) send(ctx context.Context, log *logrus.Entry, msg notify.Message, senderID, receiverID, direction string, result *Result) {
	n, err := msg.ToNotification(senderID, receiverID)
	if err == nil {
		err = s.gateway.InsertNotification(ctx, n)
	}
	if err != nil {
		result.NotificationFailures++
		log.WithError(err).WithField("direction", direction).Error("Failed to send expiry notification")
	}
}
