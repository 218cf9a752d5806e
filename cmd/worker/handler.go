package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Locker claims a submission across worker replicas.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Publisher dead-letters rejected submissions.
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// submissionHandler fragments mmp.molecule.submitted events.
type submissionHandler struct {
	services *mmp.ServiceSet
	sinks    func(submissionID string) (fragment.RecordSink, error)
	// lock is nil when no Redis is configured; replicas then rely on the
	// consumer group alone.
	lock       func(submissionID string) Locker
	deadLetter Publisher
	timeout    time.Duration
	metrics    *prometheus.MMPMetrics
	logger     logging.Logger
}

// runIDFor derives the run id from the submission, so a redelivered
// submission rewrites the same run.
func runIDFor(submissionID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mmp:submission:"+submissionID))
}

// Handle is a kafka.MessageHandler.  Malformed events go straight to the
// dead-letter topic; run and sink errors are returned so the consumer
// retries them first.
func (h *submissionHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return h.reject(ctx, msg, err)
	}
	if env.EventType != kafka.EventMoleculeSubmitted {
		h.logger.Warn("ignoring event", logging.String("event_type", env.EventType), logging.String("event_id", env.EventID))
		prometheus.RecordMessage(h.metrics, msg.Topic, "ignored")
		return nil
	}
	var p kafka.MoleculeSubmittedPayload
	if err := env.DecodePayload(&p); err != nil {
		return h.reject(ctx, msg, err)
	}
	if p.SubmissionID == "" {
		p.SubmissionID = env.EventID
	}
	if len(p.Molecules) == 0 {
		return h.reject(ctx, msg, errors.New(errors.ErrCodeValidation, "submission has no molecules"))
	}
	log := h.logger.With(logging.String("submission_id", p.SubmissionID), logging.String("event_id", env.EventID))

	svc, err := h.services.For(p.MaxCuts)
	if err != nil {
		return h.reject(ctx, msg, err)
	}

	if h.lock != nil {
		l := h.lock(p.SubmissionID)
		ok, err := l.TryLock(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCacheError, "claim submission")
		}
		if !ok {
			log.Info("submission claimed by another worker")
			prometheus.RecordMessage(h.metrics, msg.Topic, "skipped")
			return nil
		}
		defer func() {
			if err := l.Unlock(context.Background()); err != nil {
				log.Warn("release submission", logging.Err(err))
			}
		}()
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	sink, err := h.sinks(p.SubmissionID)
	if err != nil {
		return h.reject(ctx, msg, err)
	}
	sum, err := svc.Run(ctx, p.Molecules, sink, mmp.WithRunID(runIDFor(p.SubmissionID)), mmp.WithSource("kafka"))
	if err != nil {
		prometheus.RecordMessage(h.metrics, msg.Topic, "error")
		prometheus.RecordError(h.metrics, "worker", string(errors.GetCode(err)))
		return err
	}
	prometheus.RecordMessage(h.metrics, msg.Topic, "processed")
	log.Info("submission fragmented",
		logging.String("run_id", sum.RunID.String()),
		logging.Int("molecules", sum.Molecules),
		logging.Int("records", sum.Records),
		logging.Int("failed", sum.Failed))
	return nil
}

// reject acknowledges a submission that no retry can fix.
func (h *submissionHandler) reject(ctx context.Context, msg *kafka.Message, err error) error {
	h.logger.Error("rejecting submission",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))
	prometheus.RecordMessage(h.metrics, msg.Topic, "rejected")
	prometheus.RecordError(h.metrics, "worker", string(errors.GetCode(err)))
	if h.deadLetter == nil {
		return nil
	}

	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[kafka.HeaderOriginalTopic] = msg.Topic
	headers[kafka.HeaderErrorMessage] = err.Error()
	headers[kafka.HeaderErrorCode] = string(errors.GetCode(err))
	if dlErr := h.deadLetter.Publish(ctx, &kafka.ProducerMessage{
		Topic:   kafka.TopicDeadLetter,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); dlErr != nil {
		// Returning the error lets the consumer retry the dead letter too.
		return errors.Wrap(dlErr, errors.ErrCodeMessageQueueError, "dead-letter rejected submission")
	}
	return nil
}
