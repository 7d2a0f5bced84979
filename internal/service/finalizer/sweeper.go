package finalizer

import (
	"context"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// redriveGrace keeps the sweep from racing a dispatcher that is just about
// to run a task on time.
const redriveGrace = 30 * time.Second

type RefundRetrier interface {
	RetryRefund(ctx context.Context, f domain.Finalization) booking.Outcome
	Compensate(ctx context.Context, b domain.Booking, reason domain.CompensationReason) (booking.Outcome, error)
}

type SweepReport struct {
	Redriven     int
	Closed       int
	Refunded     int
	RefundFailed int
	// Compensated counts completed bookings on cancelled flights that the
	// admin cancel left behind.
	Compensated int
}

// Sweeper is the recovery path for finalizations whose dispatch was lost,
// for refunds whose credit failed and for flight cancellations whose
// refunds never started.
type Sweeper struct {
	bookings          repository.BookingRepository
	runner            Runner
	refunds           RefundRetrier
	batchSize         int
	maxRefundAttempts int
	metrics           *metrics.Metrics
	log               zerolog.Logger
	now               func() time.Time
}

func NewSweeper(bookings repository.BookingRepository, runner Runner, refunds RefundRetrier, batchSize, maxRefundAttempts int, m *metrics.Metrics, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		bookings:          bookings,
		runner:            runner,
		refunds:           refunds,
		batchSize:         batchSize,
		maxRefundAttempts: maxRefundAttempts,
		metrics:           m,
		log:               log.With().Str("component", "sweeper").Logger(),
		now:               time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	due, err := s.bookings.ListDueFinalizations(ctx, s.now().Add(-redriveGrace), s.maxRefundAttempts, s.batchSize)
	if err != nil {
		return report, err
	}

	for _, f := range due {
		if ctx.Err() != nil {
			break
		}
		log := s.log.With().Int64("booking_id", f.BookingID).Str("state", string(f.State)).Logger()

		switch f.State {
		case domain.FinalizationScheduled:
			if f.BookingStatus != domain.BookingStatusProcessing {
				if err := s.bookings.SetFinalizationState(ctx, f.BookingID, domain.FinalizationDone, ""); err != nil {
					log.Error().Err(err).Msg("close stale finalization")
					continue
				}
				report.Closed++
				continue
			}
			result, err := s.runner.Finalize(ctx, f.Task())
			if err != nil {
				log.Error().Err(err).Msg("re-driven finalize failed")
			}
			log.Info().Str("result", string(result)).Time("due_at", f.DueAt).Msg("finalization re-driven")
			report.Redriven++

		case domain.FinalizationRefundPending:
			if s.refunds.RetryRefund(ctx, f) == booking.OutcomeRefunded {
				report.Refunded++
				continue
			}
			report.RefundFailed++
			if f.Attempts+1 >= s.maxRefundAttempts {
				log.Error().Int("attempts", f.Attempts+1).Msg("refund retries exhausted, manual reconciliation required")
			}
		}
	}

	if err := s.compensateCancelled(ctx, &report); err != nil {
		return report, err
	}

	s.metrics.ObserveRedriven(report.Redriven)
	return report, nil
}

func (s *Sweeper) compensateCancelled(ctx context.Context, report *SweepReport) error {
	stranded, err := s.bookings.ListUnrefunded(ctx, s.batchSize)
	if err != nil {
		return err
	}
	for _, b := range stranded {
		if ctx.Err() != nil {
			return nil
		}
		outcome, err := s.refunds.Compensate(ctx, b, domain.ReasonFlightCancelled)
		if err != nil {
			s.log.Error().Err(err).Int64("booking_id", b.ID).Int64("flight_id", b.FlightID).Msg("compensate booking on cancelled flight")
			continue
		}
		if outcome == booking.OutcomeSkipped {
			continue
		}
		s.log.Warn().Int64("booking_id", b.ID).Int64("flight_id", b.FlightID).Str("outcome", string(outcome)).
			Msg("refunded booking left behind by flight cancellation")
		report.Compensated++
	}
	return nil
}

// Run sweeps once immediately, then on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	s.sweepAndLog(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})), cron.WithLogger(cronLogger{log: s.log}))
	if _, err := c.AddFunc(schedule, func() { s.sweepAndLog(ctx) }); err != nil {
		return err
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep")
		return
	}
	if report != (SweepReport{}) {
		s.log.Info().
			Int("redriven", report.Redriven).
			Int("closed", report.Closed).
			Int("refunded", report.Refunded).
			Int("refund_failed", report.RefundFailed).
			Int("compensated", report.Compensated).
			Msg("sweep finished")
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
