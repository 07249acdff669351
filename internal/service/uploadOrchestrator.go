package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/device"
	"github.com/ds124wfegd/espdisplay/internal/pkg/processor"
	"github.com/sirupsen/logrus"
)

const (
	maxUploadResponseBytes = 64 << 10
	defaultUploadTimeout   = 60 * time.Second
)

// UploadOrchestrator delivers one encoded payload to the device per call.
type UploadOrchestrator interface {
	// Upload drives attempt from idle (or an armed retry) to a terminal state
	// and returns its final snapshot. It never returns an error: every
	// failure ends up in the snapshot's FailureReason.
	Upload(ctx context.Context, attempt *Attempt, payload *entity.EncodedPayload, target entity.UploadTarget) entity.AttemptSnapshot
}

type uploadOrchestrator struct {
	http     device.Doer
	resolver device.AddressResolver
	timeout  time.Duration
}

func NewUploadOrchestrator(doer device.Doer, resolver device.AddressResolver, timeout time.Duration) UploadOrchestrator {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &uploadOrchestrator{http: doer, resolver: resolver, timeout: timeout}
}

func (o *uploadOrchestrator) Upload(ctx context.Context, attempt *Attempt, payload *entity.EncodedPayload, target entity.UploadTarget) entity.AttemptSnapshot {
	log := logrus.WithFields(logrus.Fields{
		"target":  target.String(),
		"attempt": attempt.Snapshot().Number,
	})

	if err := attempt.Transition(entity.UploadPreparing, entity.ProgressStart, "preparing image"); err != nil {
		log.WithError(err).Warn("upload not started")
		return attempt.Snapshot()
	}

	if payload == nil || len(payload.Data) == 0 {
		return o.fail(log, attempt, entity.NoImageFailure())
	}
	if err := target.Validate(); err != nil {
		return o.fail(log, attempt, entity.InvalidTargetFailure(err))
	}
	baseURL, err := device.ResolveBaseURL(ctx, o.resolver)
	if err != nil {
		return o.fail(log, attempt, entity.TransportFailure(err.Error()))
	}

	if err := attempt.Transition(entity.UploadEncoding, entity.ProgressStart, "encoding image"); err != nil {
		return attempt.Snapshot()
	}
	encoded := base64.StdEncoding.EncodeToString(payload.Data)
	attempt.Report(entity.ProgressEncoded, "connecting, "+processor.DescribeSize(payload))

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := device.NewUploadRequest(reqCtx, baseURL, target, encoded)
	if err != nil {
		return o.fail(log, attempt, entity.TransportFailure(err.Error()))
	}

	if err := attempt.Transition(entity.UploadTransmitting, entity.ProgressTransmitting, "sending to device"); err != nil {
		return attempt.Snapshot()
	}

	start := time.Now()
	resp, err := o.http.Do(req)
	if err != nil {
		return o.fail(log, attempt, classifyTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadResponseBytes))
	if err != nil {
		return o.fail(log, attempt, classifyTransportError(err))
	}
	attempt.Report(entity.ProgressResponse, fmt.Sprintf("device answered HTTP %d", resp.StatusCode))

	log = log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
		"bytes":   payload.Size(),
	})

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return o.fail(log, attempt, entity.HTTPStatusFailure(resp.StatusCode))
	}

	result, err := device.ParseResult(body)
	if err != nil {
		return o.fail(log, attempt, entity.TransportFailure(err.Error()))
	}
	strict := device.RequiresSuccessField(target.Kind)
	if strict && !result.HasSuccess() {
		return o.fail(log, attempt, entity.TransportFailure("device response has no success field"))
	}
	if !result.Accepted(strict) {
		return o.fail(log, attempt, entity.RejectedFailure(result.Message))
	}

	message := result.Message
	if message == "" {
		message = "image sent"
	}
	if err := attempt.Succeed(result.FileName, message); err != nil {
		log.WithError(err).Error("could not mark upload as succeeded")
	}
	log.WithField("file_name", result.FileName).Info("upload succeeded")
	return attempt.Snapshot()
}

func (o *uploadOrchestrator) fail(log *logrus.Entry, attempt *Attempt, reason *entity.FailureReason) entity.AttemptSnapshot {
	if err := attempt.Fail(reason); err != nil {
		log.WithError(err).Error("could not mark upload as failed")
	}
	log.WithFields(logrus.Fields{
		"reason":      reason.Kind,
		"status_code": reason.StatusCode,
	}).Warn(reason.Message)
	return attempt.Snapshot()
}

// classifyTransportError separates deadlines from other transport failures.
func classifyTransportError(err error) *entity.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.TimeoutFailure()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entity.TimeoutFailure()
	}
	if errors.Is(err, context.Canceled) {
		return entity.TransportFailure("upload cancelled")
	}
	return entity.TransportFailure(err.Error())
}
