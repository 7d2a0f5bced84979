package finalizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

var ErrSchedulerClosed = errors.New("finalize scheduler closed")

type Producer interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// KafkaScheduler hands finalize tasks to the worker through a topic.
type KafkaScheduler struct {
	producer Producer
	topic    string
}

func NewKafkaScheduler(producer Producer, topic string) *KafkaScheduler {
	return &KafkaScheduler{producer: producer, topic: topic}
}

func (s *KafkaScheduler) Schedule(ctx context.Context, task domain.FinalizeTask) error {
	return s.producer.Publish(ctx, s.topic, kafka.TaskKey(task), task)
}

// DelayedScheduler runs the finalizer in-process once a task is due. Pending
// tasks do not outlive the process; their finalization rows are picked up
// by the sweep after a restart.
type DelayedScheduler struct {
	runner Runner
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDelayedScheduler(runner Runner, log zerolog.Logger) *DelayedScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &DelayedScheduler{
		runner: runner,
		log:    log.With().Str("component", "delayed_scheduler").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule does not tie the task to ctx: the finalizer must run even after
// the request that admitted the booking has returned.
func (s *DelayedScheduler) Schedule(_ context.Context, task domain.FinalizeTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := waitUntil(s.ctx, task.DueAt, s.now); err != nil {
			return
		}
		if _, err := s.runner.Finalize(s.ctx, task); err != nil {
			s.log.Error().Err(err).Int64("booking_id", task.BookingID).Msg("finalize")
		}
	}()
	return nil
}

// Close cancels pending timers and waits for running finalizers.
func (s *DelayedScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// NewTaskHandler consumes finalize tasks from the topic, holding each one
// until it is due.
func NewTaskHandler(runner Runner, log zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg kafkago.Message) error {
		task, err := kafka.DecodeFinalizeTask(msg)
		if err != nil {
			return err
		}
		if err := waitUntil(ctx, task.DueAt, time.Now); err != nil {
			return err
		}
		result, err := runner.Finalize(ctx, task)
		log.Debug().Int64("booking_id", task.BookingID).Str("result", string(result)).Msg("finalize task handled")
		return err
	}
}

func waitUntil(ctx context.Context, due time.Time, now func() time.Time) error {
	delay := due.Sub(now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
