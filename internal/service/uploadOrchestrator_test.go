package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPayload(n int) *entity.EncodedPayload {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return &entity.EncodedPayload{Kind: entity.PayloadRawRGB565, Data: data, ByteOrder: entity.BigEndian, Width: 130, Height: 130}
}

func TestUploadToGroupSucceeds(t *testing.T) {
	doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true,"fileName":"img_7.jpg","message":"stored"}`)}
	log := &progressLog{}
	payload := rawPayload(64)

	snap := NewUploadOrchestrator(doer, testDevice, time.Second).
		Upload(context.Background(), NewAttempt(log.observe), payload, entity.GroupTarget(3, 3))

	assert.Equal(t, entity.UploadSucceeded, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "img_7.jpg", snap.FileName)
	assert.Equal(t, "stored", snap.Message)

	require.Equal(t, 1, doer.calls())
	req := doer.request(0)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/groups/upload", req.path)
	assert.Equal(t, map[string]any{
		"groupId":     float64(3),
		"groupNumber": float64(3),
		"image":       base64.StdEncoding.EncodeToString(payload.Data),
	}, req.body)

	assert.Equal(t, []checkpoint{
		{entity.UploadPreparing, 0},
		{entity.UploadEncoding, 0},
		{entity.UploadEncoding, 25},
		{entity.UploadTransmitting, 50},
		{entity.UploadTransmitting, 75},
		{entity.UploadSucceeded, 100},
	}, log.checkpoints())
}

func TestUploadGalleryBody(t *testing.T) {
	doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true}`)}

	snap := NewUploadOrchestrator(doer, testDevice, time.Second).
		Upload(context.Background(), NewAttempt(nil), rawPayload(8), entity.GalleryTarget("cat", 2, 5))

	require.Equal(t, entity.UploadSucceeded, snap.State)
	assert.Equal(t, "image sent", snap.Message)
	req := doer.request(0)
	assert.Equal(t, "/upload", req.path)
	assert.Equal(t, "cat", req.body["title"])
	assert.Equal(t, float64(2), req.body["category"])
	assert.Equal(t, float64(5), req.body["subcategory"])
}

func TestUploadWithoutImageNeverTouchesNetwork(t *testing.T) {
	for _, payload := range []*entity.EncodedPayload{nil, {Kind: entity.PayloadCompressed}} {
		doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true}`)}

		snap := NewUploadOrchestrator(doer, testDevice, time.Second).
			Upload(context.Background(), NewAttempt(nil), payload, entity.SlotTarget(1, 1))

		assert.Equal(t, entity.UploadFailed, snap.State)
		require.NotNil(t, snap.Failure)
		assert.Equal(t, entity.FailureNoImage, snap.Failure.Kind)
		assert.Zero(t, doer.calls())
	}
}

func TestUploadFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		target     entity.UploadTarget
		reply      func(int, *http.Request) (*http.Response, error)
		wantState  entity.UploadState
		wantKind   entity.FailureKind
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "server error",
			target:     entity.GroupTarget(3, 3),
			reply:      respond(http.StatusInternalServerError, `oops`),
			wantState:  entity.UploadFailed,
			wantKind:   entity.FailureHTTPStatus,
			wantStatus: 500,
		},
		{
			name:      "rejected by device",
			target:    entity.SlotTarget(2, 1),
			reply:     respond(http.StatusOK, `{"success":false,"message":"storage full"}`),
			wantState: entity.UploadFailed,
			wantKind:  entity.FailureApplicationRejected,
			wantMsg:   "storage full",
		},
		{
			name:      "slot answer without success field",
			target:    entity.SlotTarget(2, 1),
			reply:     respond(http.StatusOK, `{"message":"ok"}`),
			wantState: entity.UploadFailed,
			wantKind:  entity.FailureTransport,
		},
		{
			name:      "group answer without success field",
			target:    entity.GroupTarget(1, 1),
			reply:     respond(http.StatusOK, ``),
			wantState: entity.UploadFailed,
			wantKind:  entity.FailureTransport,
		},
		{
			name:      "gallery answer without success field",
			target:    entity.GalleryTarget("x", 0, 0),
			reply:     respond(http.StatusOK, `{"fileName":"a.bin"}`),
			wantState: entity.UploadSucceeded,
		},
		{
			name:      "garbage answer",
			target:    entity.GalleryTarget("x", 0, 0),
			reply:     respond(http.StatusOK, `<html>`),
			wantState: entity.UploadFailed,
			wantKind:  entity.FailureTransport,
		},
		{
			name:   "connection refused",
			target: entity.SlotTarget(1, 1),
			reply: func(int, *http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp 192.168.4.1:80: connection refused")
			},
			wantState: entity.UploadFailed,
			wantKind:  entity.FailureTransport,
			wantMsg:   "dial tcp 192.168.4.1:80: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &scriptedDoer{reply: tt.reply}

			snap := NewUploadOrchestrator(doer, testDevice, time.Second).
				Upload(context.Background(), NewAttempt(nil), rawPayload(16), tt.target)

			assert.Equal(t, tt.wantState, snap.State)
			assert.Equal(t, 1, doer.calls())
			if tt.wantState == entity.UploadSucceeded {
				assert.Nil(t, snap.Failure)
				return
			}
			require.NotNil(t, snap.Failure)
			assert.Equal(t, tt.wantKind, snap.Failure.Kind)
			assert.Equal(t, 0, snap.Progress)
			if tt.wantStatus != 0 {
				assert.Equal(t, tt.wantStatus, snap.Failure.StatusCode)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, snap.Failure.Message)
			}
		})
	}
}

func TestUploadTimeout(t *testing.T) {
	doer := &scriptedDoer{reply: blockUntilCancelled}

	snap := NewUploadOrchestrator(doer, testDevice, 20*time.Millisecond).
		Upload(context.Background(), NewAttempt(nil), rawPayload(16), entity.SlotTarget(1, 1))

	assert.Equal(t, entity.UploadFailed, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, entity.FailureTimeout, snap.Failure.Kind)
}

func TestUploadCancelledByCaller(t *testing.T) {
	doer := &scriptedDoer{reply: blockUntilCancelled}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	snap := NewUploadOrchestrator(doer, testDevice, time.Minute).
		Upload(ctx, NewAttempt(nil), rawPayload(16), entity.SlotTarget(1, 1))

	require.NotNil(t, snap.Failure)
	assert.Equal(t, entity.FailureTransport, snap.Failure.Kind)
	assert.Equal(t, "upload cancelled", snap.Failure.Message)
}

func TestUploadInvalidTargetIsNotATransportFailure(t *testing.T) {
	doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true}`)}

	snap := NewUploadOrchestrator(doer, testDevice, time.Second).
		Upload(context.Background(), NewAttempt(nil), rawPayload(16), entity.GalleryTarget("", 0, 0))

	assert.Equal(t, entity.UploadFailed, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, entity.FailureInvalidTarget, snap.Failure.Kind)
	assert.Equal(t, "invalid upload target: title is required", snap.Failure.Message)
	assert.Zero(t, doer.calls())
}

func TestUploadUnresolvableDevice(t *testing.T) {
	doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true}`)}
	resolver := staticResolver{addr: entity.DeviceAddress{Host: "", Port: 80}}

	snap := NewUploadOrchestrator(doer, resolver, time.Second).
		Upload(context.Background(), NewAttempt(nil), rawPayload(16), entity.SlotTarget(1, 1))

	require.NotNil(t, snap.Failure)
	assert.Equal(t, entity.FailureTransport, snap.Failure.Kind)
	assert.Zero(t, doer.calls())
}

func TestRetryAfterServerErrorStartsFromPreparing(t *testing.T) {
	doer := &scriptedDoer{reply: func(n int, _ *http.Request) (*http.Response, error) {
		if n == 1 {
			return jsonResponse(http.StatusInternalServerError, ``), nil
		}
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	}}
	orchestrator := NewUploadOrchestrator(doer, testDevice, time.Second)
	log := &progressLog{}
	payload := rawPayload(32)

	first := NewAttempt(log.observe)
	snap := orchestrator.Upload(context.Background(), first, payload, entity.GroupTarget(3, 3))
	require.Equal(t, entity.UploadFailed, snap.State)
	assert.Equal(t, 500, snap.Failure.StatusCode)

	second, err := first.Retry()
	require.NoError(t, err)
	snap = orchestrator.Upload(context.Background(), second, payload, entity.GroupTarget(3, 3))

	assert.Equal(t, entity.UploadSucceeded, snap.State)
	assert.Equal(t, 2, snap.Number)
	assert.Equal(t, 2, doer.calls())

	points := log.checkpoints()
	require.GreaterOrEqual(t, len(points), 7)
	assert.Equal(t, checkpoint{entity.UploadFailed, 0}, points[5])
	assert.Equal(t, checkpoint{entity.UploadPreparing, 0}, points[6])
}

func TestUploadOnFinishedAttemptDoesNothing(t *testing.T) {
	doer := &scriptedDoer{reply: respond(http.StatusOK, `{"success":true}`)}
	orchestrator := NewUploadOrchestrator(doer, testDevice, time.Second)
	a := NewAttempt(nil)
	orchestrator.Upload(context.Background(), a, rawPayload(4), entity.SlotTarget(1, 1))

	snap := orchestrator.Upload(context.Background(), a, rawPayload(4), entity.SlotTarget(1, 1))

	assert.Equal(t, entity.UploadSucceeded, snap.State)
	assert.Equal(t, 1, doer.calls())
}
