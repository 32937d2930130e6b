package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	authnetdomain "github.com/smallbiznis/payrelay/internal/authnet/domain"
	"github.com/smallbiznis/payrelay/internal/clock"
	"github.com/smallbiznis/payrelay/internal/locker"
	obsmetrics "github.com/smallbiznis/payrelay/internal/observability/metrics"
	"github.com/smallbiznis/payrelay/internal/reconcile/domain"
	zohodomain "github.com/smallbiznis/payrelay/internal/zoho/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// overpayEpsilon absorbs float representation noise when comparing a
// captured amount against the outstanding balance.
const overpayEpsilon = 0.0001

const lockTTL = 30 * time.Second

// ErrLockHeld means another instance is reconciling the same invoice
// right now; the event stays unprocessed so redelivery can retry.
var ErrLockHeld = errors.New("reconcile_in_progress")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Accounting zohodomain.Service
	Repo       domain.Repository
	Locker     *locker.Locker      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service applies verified capture events against accounting state
// exactly once. There is no trust in delivery counts: the idempotency
// ledger catches exact redeliveries, and the live invoice balance gates
// everything else.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	accounting zohodomain.Service
	repo       domain.Repository
	locker     *locker.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		accounting: p.Accounting,
		repo:       p.Repo,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// Reconcile resolves a capture event to an invoice and applies the
// captured amount at most once economically. Business mismatches
// (already settled, overpayment, unknown invoice) are outcomes, not
// errors; an error means the attempt should be retried on redelivery.
func (s *Service) Reconcile(ctx context.Context, event *authnetdomain.CaptureEvent) (domain.Outcome, error) {
	if event == nil {
		return domain.OutcomeIgnored, authnetdomain.ErrInvalidPayload
	}
	if !event.IsCapture() {
		return s.finish(ctx, domain.OutcomeIgnored), nil
	}
	if event.TransactionID == "" {
		s.log.Warn("capture event without transaction id", zap.String("event_type", event.EventType))
		return s.finish(ctx, domain.OutcomeIgnored), nil
	}
	if event.InvoiceReference == "" {
		s.log.Warn("capture event carries no invoice reference",
			zap.String("transaction_id", event.TransactionID),
		)
		return s.finish(ctx, domain.OutcomeNoInvoice), nil
	}

	now := s.clock.Now()
	record := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        domain.Provider,
		ProviderEventID: providerEventID(event),
		TransactionID:   event.TransactionID,
		InvoiceID:       event.InvoiceReference,
		EventType:       event.EventType,
		Amount:          event.Amount,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return domain.OutcomeIgnored, err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, domain.Provider, record.ProviderEventID)
		if err != nil {
			return domain.OutcomeIgnored, err
		}
		if stored == nil {
			return domain.OutcomeIgnored, authnetdomain.ErrInvalidPayload
		}
		if stored.ProcessedAt != nil {
			s.log.Info("capture event already reconciled",
				zap.String("transaction_id", event.TransactionID),
				zap.String("outcome", stored.Outcome),
			)
			return s.finish(ctx, domain.OutcomeDuplicate), nil
		}
	}

	if s.locker != nil {
		key := "reconcile:invoice:" + event.InvoiceReference
		token, ok, lockErr := s.locker.TryLock(ctx, key, lockTTL)
		if lockErr != nil {
			s.log.Warn("invoice lock unavailable, proceeding on balance gate alone", zap.Error(lockErr))
		} else if !ok {
			return domain.OutcomeIgnored, ErrLockHeld
		} else {
			defer func() {
				if releaseErr := s.locker.Release(ctx, key, token); releaseErr != nil {
					s.log.Warn("failed to release invoice lock", zap.Error(releaseErr))
				}
			}()
		}
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		return domain.OutcomeIgnored, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, outcome, s.clock.Now()); err != nil {
		return outcome, err
	}

	return s.finish(ctx, outcome), nil
}

// apply runs the decision table against the freshly fetched balance. The
// remote balance is the ledger: it reflects every prior application,
// including ones made by other instances or the success-redirect path.
func (s *Service) apply(ctx context.Context, event *authnetdomain.CaptureEvent) (domain.Outcome, error) {
	invoice, err := s.accounting.FetchInvoice(ctx, event.InvoiceReference)
	if err != nil {
		if errors.Is(err, zohodomain.ErrInvoiceNotFound) {
			s.log.Warn("capture references unknown invoice",
				zap.String("invoice_id", event.InvoiceReference),
				zap.String("transaction_id", event.TransactionID),
			)
			return domain.OutcomeNoInvoice, nil
		}
		return domain.OutcomeIgnored, err
	}

	switch {
	case invoice.Balance <= 0:
		s.log.Info("invoice already settled, skipping",
			zap.String("invoice_id", invoice.InvoiceID),
			zap.String("transaction_id", event.TransactionID),
		)
		return domain.OutcomeAlreadySettled, nil

	case event.Amount > invoice.Balance+overpayEpsilon:
		s.log.Warn("captured amount exceeds balance, flagged for manual review",
			zap.String("invoice_id", invoice.InvoiceID),
			zap.String("transaction_id", event.TransactionID),
			zap.Float64("captured", event.Amount),
			zap.Float64("balance", invoice.Balance),
		)
		return domain.OutcomeOverpayment, nil

	default:
		description := fmt.Sprintf("Authorize.Net hosted payment, notification %s", providerEventID(event))
		if _, err := s.accounting.RecordPayment(ctx, invoice, event.Amount, event.TransactionID, description); err != nil {
			return domain.OutcomeIgnored, err
		}
		return domain.OutcomeApplied, nil
	}
}

func (s *Service) finish(ctx context.Context, outcome domain.Outcome) domain.Outcome {
	s.obsMetrics.RecordReconciliation(ctx, string(outcome))
	return outcome
}

func providerEventID(event *authnetdomain.CaptureEvent) string {
	if event.NotificationID != "" {
		return event.NotificationID
	}
	return event.TransactionID
}
