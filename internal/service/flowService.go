package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/processor"
	"github.com/ds124wfegd/espdisplay/internal/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const unreadableSourceMessage = "the image could not be read, pick another one"

// Select resolves src once, registers a new flow and transcodes it in the
// background. The returned flow is busy until the transcode finishes.
func (s *flowService) Select(ctx context.Context, src entity.ImageSource, target entity.UploadTarget) (*entity.Flow, error) {
	if err := s.validateTarget(target); err != nil {
		return nil, err
	}
	spec, err := s.profiles.For(target.Kind)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	data, err := entity.ReadSource(src)
	if err != nil {
		return nil, err
	}
	name := src.Name()

	runCtx, cancel := context.WithCancel(context.Background())
	now := s.now()
	run := &flowRun{
		flow: entity.Flow{
			ID:         uuid.New().String(),
			Target:     target,
			Spec:       spec,
			Status:     entity.FlowProcessing,
			Busy:       true,
			SourceName: name,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		ctx:    runCtx,
		cancel: cancel,
	}
	id := run.flow.ID

	var view *entity.Flow
	var startErr error
	err = s.dispatcher.Call(ctx, func() {
		handle, err := s.pool.Go(runCtx, "transcode "+id, func(taskCtx context.Context) {
			s.transcode(taskCtx, id, entity.BytesSource(name, data), spec)
		})
		if err != nil {
			startErr = err
			return
		}
		run.handle = handle
		s.runs[id] = run
		view = copyFlow(&run.flow)
	})
	if err != nil {
		cancel()
		s.dispatcher.Post(func() { delete(s.runs, id) })
		return nil, err
	}
	if startErr != nil {
		cancel()
		return nil, startErr
	}

	logrus.WithFields(logrus.Fields{
		"flow_id": id,
		"target":  target.String(),
		"source":  name,
		"bytes":   len(data),
	}).Info("flow selected")
	return view, nil
}

func (s *flowService) transcode(ctx context.Context, id string, src entity.ImageSource, spec entity.TargetSpec) {
	log := logrus.WithField("flow_id", id)

	img, err := s.processor.Transcode(ctx, src, spec)
	hasPreview := false
	if err == nil {
		hasPreview = s.storePreview(id, img)
	}
	if ctx.Err() != nil {
		log.Debug("transcode abandoned")
		return
	}
	if err != nil {
		log.WithError(err).Warn("source image unreadable")
	}

	var view *entity.Flow
	_ = s.dispatcher.Call(context.Background(), func() {
		run, ok := s.runs[id]
		if !ok {
			return
		}
		run.flow.Busy = false
		run.flow.UpdatedAt = s.now()
		if err != nil {
			run.flow.Status = entity.FlowInvalidSource
			run.flow.Error = unreadableSourceMessage
		} else {
			run.image = img
			run.flow.Status = entity.FlowReady
			run.flow.HasPreview = hasPreview
			run.flow.ImageInfo = describeSpec(spec)
		}
		view = copyFlow(&run.flow)
	})
	if view == nil {
		return
	}

	s.persist(view)
	if view.Status == entity.FlowInvalidSource {
		s.publish(view, 0)
	}
}

func (s *flowService) storePreview(id string, img image.Image) bool {
	png, err := s.processor.EncodePreview(img)
	if err == nil {
		err = s.repo.SavePreview(id, bytes.NewReader(png))
	}
	if err != nil {
		logrus.WithError(err).WithField("flow_id", id).Warn("preview not stored")
		return false
	}
	return true
}

// Upload starts the first attempt of a flow.
func (s *flowService) Upload(ctx context.Context, id string) (*entity.Flow, error) {
	return s.startAttempt(ctx, id, func(run *flowRun) (*Attempt, error) {
		if run.attempt != nil {
			return nil, fmt.Errorf("%w: flow %s was already uploaded, retry it instead", entity.ErrInvalidTransition, id)
		}
		if run.flow.Status != entity.FlowReady && run.flow.Status != entity.FlowInvalidSource {
			return nil, fmt.Errorf("%w: flow %s is %s", entity.ErrFlowNotReady, id, run.flow.Status)
		}
		return NewAttempt(s.observer(id)), nil
	})
}

// Retry re-runs the whole upload after a failed attempt. The image is encoded again.
func (s *flowService) Retry(ctx context.Context, id string) (*entity.Flow, error) {
	return s.startAttempt(ctx, id, func(run *flowRun) (*Attempt, error) {
		if run.attempt == nil || run.flow.Status != entity.FlowFailed {
			return nil, fmt.Errorf("%w: flow %s is %s", entity.ErrRetryNotAllowed, id, run.flow.Status)
		}
		return run.attempt.Retry()
	})
}

func (s *flowService) startAttempt(ctx context.Context, id string, next func(run *flowRun) (*Attempt, error)) (*entity.Flow, error) {
	var view *entity.Flow
	var opErr error
	found := true

	err := s.dispatcher.Call(ctx, func() {
		run, ok := s.runs[id]
		if !ok {
			found = false
			return
		}
		if run.flow.Busy {
			opErr = fmt.Errorf("%w: %s", entity.ErrFlowBusy, id)
			return
		}
		attempt, err := next(run)
		if err != nil {
			opErr = err
			return
		}

		img, target, spec := run.image, run.flow.Target, run.flow.Spec
		handle, err := s.pool.Go(run.ctx, "upload "+id, func(taskCtx context.Context) {
			s.upload(taskCtx, id, attempt, img, target, spec)
		})
		if err != nil {
			if run.attempt != nil && run.attempt != attempt {
				run.attempt.releaseRetry(attempt)
			}
			opErr = err
			return
		}

		snap := attempt.Snapshot()
		run.attempt = attempt
		run.handle = handle
		run.flow.Busy = true
		run.flow.Status = entity.FlowUploading
		run.flow.Error = ""
		run.flow.Attempt = &snap
		run.flow.UpdatedAt = s.now()
		view = copyFlow(&run.flow)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		if _, err := s.repo.FindByID(id); err == nil {
			return nil, fmt.Errorf("%w: flow %s already finished", entity.ErrInvalidTransition, id)
		}
		return nil, fmt.Errorf("%w: %s", entity.ErrFlowNotFound, id)
	}
	if opErr != nil {
		return nil, opErr
	}
	return view, nil
}

func (s *flowService) upload(ctx context.Context, id string, attempt *Attempt, img *image.NRGBA, target entity.UploadTarget, spec entity.TargetSpec) {
	snap, size, info := s.deliver(ctx, attempt, img, target, spec)
	if ctx.Err() != nil {
		logrus.WithField("flow_id", id).Debug("upload abandoned")
		return
	}

	var run *flowRun
	var view *entity.Flow
	_ = s.dispatcher.Call(context.Background(), func() {
		r, ok := s.runs[id]
		if !ok || r.attempt != attempt {
			return
		}
		r.flow.Busy = false
		r.flow.Attempt = &snap
		r.flow.UpdatedAt = s.now()
		if info != "" {
			r.flow.ImageInfo = info
		}
		if snap.State == entity.UploadSucceeded {
			r.flow.Status = entity.FlowSucceeded
			r.flow.Error = ""
			r.image = nil
		} else {
			r.flow.Status = entity.FlowFailed
			r.flow.Error = snap.Message
		}
		run = r
		view = copyFlow(&r.flow)
	})
	if view == nil {
		return
	}

	s.persist(view)
	s.publish(view, size)

	if view.Status == entity.FlowSucceeded {
		s.dispatcher.Post(func() {
			if s.runs[id] == run {
				run.cancel()
				delete(s.runs, id)
			}
		})
	}
}

// deliver encodes img for this attempt only and hands it to the orchestrator.
// The payload does not outlive the call.
func (s *flowService) deliver(ctx context.Context, attempt *Attempt, img *image.NRGBA, target entity.UploadTarget, spec entity.TargetSpec) (entity.AttemptSnapshot, int, string) {
	var payload *entity.EncodedPayload
	if img != nil {
		p, err := s.processor.Encode(img, spec)
		if err != nil {
			logrus.WithError(err).WithField("target", target.String()).Error("encode failed")
			return failBeforeSend(attempt, entity.TransportFailure("encode image: "+err.Error())), 0, ""
		}
		payload = p
	}

	snap := s.orchestrator.Upload(ctx, attempt, payload, target)
	return snap, payload.Size(), processor.DescribeSize(payload)
}

func failBeforeSend(attempt *Attempt, reason *entity.FailureReason) entity.AttemptSnapshot {
	if err := attempt.Transition(entity.UploadPreparing, entity.ProgressStart, "preparing image"); err == nil {
		_ = attempt.Fail(reason)
	}
	return attempt.Snapshot()
}

// observer mirrors attempt progress into the flow view.
func (s *flowService) observer(id string) ProgressFunc {
	return func(snap entity.AttemptSnapshot) {
		s.dispatcher.Post(func() {
			run, ok := s.runs[id]
			if !ok || run.attempt == nil || run.attempt.Snapshot().Number != snap.Number {
				return
			}
			run.flow.Attempt = &snap
			run.flow.UpdatedAt = s.now()
		})
	}
}

// Cancel tears a flow down: its task is cancelled, its image released and
// its stored snapshot and preview removed.
func (s *flowService) Cancel(ctx context.Context, id string) error {
	var handle *worker.Handle
	found := false

	err := s.dispatcher.Call(ctx, func() {
		run, ok := s.runs[id]
		if !ok {
			return
		}
		found = true
		run.cancel()
		run.image = nil
		run.attempt = nil
		handle = run.handle
		delete(s.runs, id)
	})
	if err != nil {
		return err
	}

	if handle != nil {
		select {
		case <-handle.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !found {
		if _, err := s.repo.FindByID(id); err != nil {
			return err
		}
	}

	logrus.WithField("flow_id", id).Info("flow cancelled")
	return s.repo.Delete(id)
}

// Get returns the live view of a flow, or its stored snapshot once it left memory.
func (s *flowService) Get(ctx context.Context, id string) (*entity.Flow, error) {
	var view *entity.Flow
	err := s.dispatcher.Call(ctx, func() {
		if run, ok := s.runs[id]; ok {
			view = copyFlow(&run.flow)
		}
	})
	if err != nil {
		return nil, err
	}
	if view != nil {
		return view, nil
	}
	return s.repo.FindByID(id)
}

func (s *flowService) Preview(ctx context.Context, id string) (io.ReadCloser, error) {
	flow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !flow.HasPreview {
		return nil, fmt.Errorf("%w: %s has no preview", entity.ErrFlowNotReady, id)
	}
	return s.repo.OpenPreview(id)
}

// Close cancels every live flow and waits for their tasks. Stored snapshots are kept.
func (s *flowService) Close(ctx context.Context) error {
	var handles []*worker.Handle
	err := s.dispatcher.Call(ctx, func() {
		for id, run := range s.runs {
			run.cancel()
			run.image = nil
			if run.handle != nil {
				handles = append(handles, run.handle)
			}
			delete(s.runs, id)
		}
	})
	if err != nil {
		return err
	}

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *flowService) validateTarget(target entity.UploadTarget) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if target.Kind == entity.TargetSlot {
		return s.limits.Check(target.Screen, target.Slot)
	}
	return nil
}

func (s *flowService) persist(flow *entity.Flow) {
	if err := s.repo.Save(flow); err != nil {
		logrus.WithError(err).WithField("flow_id", flow.ID).Error("flow snapshot not stored")
	}
}

func (s *flowService) publish(flow *entity.Flow, size int) {
	event := entity.FlowEvent{
		FlowID:    flow.ID,
		Target:    flow.Target,
		Status:    flow.Status,
		Bytes:     size,
		Timestamp: s.now(),
	}
	if flow.Attempt != nil {
		event.Attempt = flow.Attempt.Number
		event.Failure = flow.Attempt.Failure
	}
	if err := s.producer.Publish(context.Background(), event); err != nil {
		logrus.WithError(err).WithField("flow_id", flow.ID).Warn("flow event not published")
	}
}

func copyFlow(f *entity.Flow) *entity.Flow {
	c := *f
	if f.Attempt != nil {
		a := *f.Attempt
		c.Attempt = &a
	}
	return &c
}

func describeSpec(spec entity.TargetSpec) string {
	if spec.Encoding == entity.EncodingRGB565 {
		return fmt.Sprintf("%d x %d %s %s", spec.Width, spec.Height, spec.Encoding, spec.ByteOrder)
	}
	return fmt.Sprintf("%d x %d %s", spec.Width, spec.Height, spec.Encoding)
}
