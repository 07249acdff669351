package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ds124wfegd/espdisplay/internal/database"
	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/kafka"
	"github.com/ds124wfegd/espdisplay/internal/pkg/processor"
	"github.com/ds124wfegd/espdisplay/internal/pkg/storage"
	"github.com/ds124wfegd/espdisplay/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProfiles map[entity.TargetKind]entity.TargetSpec

func (p testProfiles) For(kind entity.TargetKind) (entity.TargetSpec, error) {
	spec, ok := p[kind]
	if !ok {
		return entity.TargetSpec{}, fmt.Errorf("%w: %s", entity.ErrInvalidTarget, kind)
	}
	return spec, nil
}

var smallProfiles = testProfiles{
	entity.TargetGallery: {Width: 16, Height: 16, Encoding: entity.EncodingRGB565, ByteOrder: entity.LittleEndian},
	entity.TargetGroup:   {Width: 16, Height: 16, Encoding: entity.EncodingCompressed, Quality: 70, MaxBytes: 50 * 1024},
	entity.TargetSlot:    {Width: 18, Height: 18, Encoding: entity.EncodingRGB565, ByteOrder: entity.BigEndian},
}

type flowFixture struct {
	svc      FlowService
	doer     *scriptedDoer
	repo     database.FlowRepository
	producer *kafka.MockProducer
	pool     *worker.Pool
}

func newFlowFixture(t *testing.T, reply func(int, *http.Request) (*http.Response, error)) *flowFixture {
	t.Helper()
	doer := &scriptedDoer{reply: reply}
	repo := database.NewFlowRepository(storage.NewFileStorage(t.TempDir()))
	producer := kafka.NewMockProducer()
	pool := worker.NewPool(2)
	dispatcher := worker.NewDispatcher(16)

	svc := NewFlowService(FlowDeps{
		Profiles:     smallProfiles,
		Limits:       SlotLimits{Screens: 4, SlotsPerScreen: 3},
		Processor:    processor.NewImageProcessor(0),
		Orchestrator: NewUploadOrchestrator(doer, testDevice, time.Second),
		Repo:         repo,
		Producer:     producer,
		Pool:         pool,
		Dispatcher:   dispatcher,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		_ = pool.Shutdown(ctx)
		dispatcher.Close()
	})
	return &flowFixture{svc: svc, doer: doer, repo: repo, producer: producer, pool: pool}
}

func pngSource(t *testing.T) entity.ImageSource {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 6), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return entity.BytesSource("photo.png", buf.Bytes())
}

// waitFor polls the flow until it is idle in status.
func (f *flowFixture) waitFor(t *testing.T, id string, status entity.FlowStatus) *entity.Flow {
	t.Helper()
	var last *entity.Flow
	require.Eventually(t, func() bool {
		flow, err := f.svc.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = flow
		return flow.Status == status && !flow.Busy
	}, 5*time.Second, 5*time.Millisecond, "flow never reached %s", status)
	return last
}

func TestFlowSelectTranscodesInBackground(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true}`))
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, pngSource(t), entity.SlotTarget(2, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, "photo.png", flow.SourceName)

	ready := f.waitFor(t, flow.ID, entity.FlowReady)
	assert.True(t, ready.HasPreview)
	assert.Equal(t, "18 x 18 rgb565 big_endian", ready.ImageInfo)
	assert.Nil(t, ready.Attempt)
	assert.Zero(t, f.doer.calls())

	rc, err := f.svc.Preview(ctx, flow.ID)
	require.NoError(t, err)
	defer rc.Close()
	preview, err := imaging.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(18, 18), preview.Bounds().Size())
}

func TestFlowUploadSucceeds(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true,"fileName":"s2_3.bin"}`))
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, pngSource(t), entity.SlotTarget(2, 3))
	require.NoError(t, err)
	f.waitFor(t, flow.ID, entity.FlowReady)

	started, err := f.svc.Upload(ctx, flow.ID)
	require.NoError(t, err)
	assert.True(t, started.Busy)
	assert.Equal(t, entity.FlowUploading, started.Status)

	done := f.waitFor(t, flow.ID, entity.FlowSucceeded)
	require.NotNil(t, done.Attempt)
	assert.Equal(t, entity.UploadSucceeded, done.Attempt.State)
	assert.Equal(t, "s2_3.bin", done.Attempt.FileName)
	assert.Equal(t, "0.63 KB (18 x 18)", done.ImageInfo)

	require.Equal(t, 1, f.doer.calls())
	req := f.doer.request(0)
	assert.Equal(t, "/upload-slot", req.path)
	assert.Equal(t, float64(2), req.body["screen"])
	assert.Equal(t, float64(3), req.body["slot"])

	require.Eventually(t, func() bool { return len(f.producer.Events()) == 1 }, time.Second, 5*time.Millisecond)
	event := f.producer.Events()[0]
	assert.Equal(t, flow.ID, event.FlowID)
	assert.Equal(t, entity.FlowSucceeded, event.Status)
	assert.Equal(t, 18*18*2, event.Bytes)

	// a delivered flow is final
	require.Eventually(t, func() bool {
		stored, err := f.repo.FindByID(flow.ID)
		return err == nil && stored.Status == entity.FlowSucceeded
	}, time.Second, 5*time.Millisecond)
	_, err = f.svc.Upload(ctx, flow.ID)
	assert.Error(t, err)
}

func TestFlowUnreadableSourceFailsWithoutNetwork(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true}`))
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, entity.BytesSource("notes.txt", []byte("not an image")), entity.GroupTarget(1, 1))
	require.NoError(t, err)

	invalid := f.waitFor(t, flow.ID, entity.FlowInvalidSource)
	assert.NotEmpty(t, invalid.Error)
	assert.False(t, invalid.HasPreview)

	_, err = f.svc.Preview(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrFlowNotReady)

	_, err = f.svc.Upload(ctx, flow.ID)
	require.NoError(t, err)

	failed := f.waitFor(t, flow.ID, entity.FlowFailed)
	require.NotNil(t, failed.Attempt)
	assert.Equal(t, entity.FailureNoImage, failed.Attempt.Failure.Kind)
	assert.Zero(t, f.doer.calls())
}

func TestFlowRetryAfterServerError(t *testing.T) {
	f := newFlowFixture(t, func(n int, _ *http.Request) (*http.Response, error) {
		if n == 1 {
			return jsonResponse(http.StatusInternalServerError, ``), nil
		}
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	})
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, pngSource(t), entity.GroupTarget(3, 3))
	require.NoError(t, err)
	f.waitFor(t, flow.ID, entity.FlowReady)

	_, err = f.svc.Retry(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrRetryNotAllowed)

	_, err = f.svc.Upload(ctx, flow.ID)
	require.NoError(t, err)
	failed := f.waitFor(t, flow.ID, entity.FlowFailed)
	assert.Equal(t, entity.FailureHTTPStatus, failed.Attempt.Failure.Kind)
	assert.Equal(t, 500, failed.Attempt.Failure.StatusCode)
	assert.True(t, failed.CanRetry())

	_, err = f.svc.Upload(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = f.svc.Retry(ctx, flow.ID)
	require.NoError(t, err)
	done := f.waitFor(t, flow.ID, entity.FlowSucceeded)

	assert.Equal(t, 2, done.Attempt.Number)
	assert.Equal(t, 2, f.doer.calls())
	for i := 0; i < 2; i++ {
		body := f.doer.request(i).body
		assert.Equal(t, float64(3), body["groupId"])
		assert.Equal(t, float64(3), body["groupNumber"])
		assert.NotEmpty(t, body["image"])
	}
}

func TestFlowRetryKeptWhenWorkersAreGone(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusInternalServerError, ``))
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, pngSource(t), entity.SlotTarget(1, 1))
	require.NoError(t, err)
	f.waitFor(t, flow.ID, entity.FlowReady)
	_, err = f.svc.Upload(ctx, flow.ID)
	require.NoError(t, err)
	f.waitFor(t, flow.ID, entity.FlowFailed)

	require.NoError(t, f.pool.Shutdown(ctx))
	_, err = f.svc.Retry(ctx, flow.ID)
	require.ErrorIs(t, err, worker.ErrPoolClosed)

	after, err := f.svc.Get(ctx, flow.ID)
	require.NoError(t, err)
	assert.True(t, after.CanRetry())
	assert.Equal(t, 1, after.Attempt.Number)

	var retryErr error
	svc := f.svc.(*flowService)
	require.NoError(t, svc.dispatcher.Call(ctx, func() {
		_, retryErr = svc.runs[flow.ID].attempt.Retry()
	}))
	assert.NoError(t, retryErr)
}

func TestFlowBusyWhileUploading(t *testing.T) {
	f := newFlowFixture(t, blockUntilCancelled)
	ctx := context.Background()

	flow, err := f.svc.Select(ctx, pngSource(t), entity.GalleryTarget("sunset", 1, 2))
	require.NoError(t, err)
	f.waitFor(t, flow.ID, entity.FlowReady)

	_, err = f.svc.Upload(ctx, flow.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.doer.calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.svc.Upload(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrFlowBusy)
	_, err = f.svc.Retry(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrFlowBusy)

	cancelCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Cancel(cancelCtx, flow.ID))

	_, err = f.svc.Get(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrFlowNotFound)
	_, err = f.svc.Preview(ctx, flow.ID)
	assert.ErrorIs(t, err, entity.ErrFlowNotFound)
	assert.Empty(t, f.producer.Events())
}

func TestFlowCancelUnknown(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true}`))

	err := f.svc.Cancel(context.Background(), "missing")

	assert.ErrorIs(t, err, entity.ErrFlowNotFound)
}

func TestFlowSelectValidation(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true}`))
	ctx := context.Background()

	tests := []struct {
		name    string
		src     entity.ImageSource
		target  entity.UploadTarget
		wantErr error
	}{
		{"screen out of range", pngSource(t), entity.SlotTarget(5, 1), entity.ErrInvalidTarget},
		{"slot out of range", pngSource(t), entity.SlotTarget(1, 4), entity.ErrInvalidTarget},
		{"gallery without title", pngSource(t), entity.GalleryTarget("", 0, 0), entity.ErrInvalidTarget},
		{"no source", nil, entity.GroupTarget(1, 1), entity.ErrSourceUnreadable},
		{"empty source", entity.BytesSource("empty.png", nil), entity.GroupTarget(1, 1), entity.ErrSourceUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Select(ctx, tt.src, tt.target)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFlowsAreIndependent(t *testing.T) {
	f := newFlowFixture(t, respond(http.StatusOK, `{"success":true}`))
	ctx := context.Background()

	a, err := f.svc.Select(ctx, pngSource(t), entity.SlotTarget(1, 1))
	require.NoError(t, err)
	b, err := f.svc.Select(ctx, pngSource(t), entity.GroupTarget(2, 2))
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	f.waitFor(t, a.ID, entity.FlowReady)
	f.waitFor(t, b.ID, entity.FlowReady)
	require.NoError(t, f.svc.Cancel(ctx, a.ID))

	_, err = f.svc.Upload(ctx, b.ID)
	require.NoError(t, err)
	done := f.waitFor(t, b.ID, entity.FlowSucceeded)
	assert.Equal(t, entity.TargetGroup, done.Target.Kind)

	rc, err := f.repo.OpenPreview(b.ID)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, rc)
	rc.Close()
}
