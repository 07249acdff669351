package device

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUploadRequest(t *testing.T) {
	tests := []struct {
		name     string
		target   entity.UploadTarget
		wantPath string
		wantBody map[string]any
	}{
		{
			name:     "gallery",
			target:   entity.GalleryTarget("Sunset", 2, 7),
			wantPath: "/upload",
			wantBody: map[string]any{"image": "QUJD", "title": "Sunset", "category": float64(2), "subcategory": float64(7)},
		},
		{
			name:     "group",
			target:   entity.GroupTarget(3, 3),
			wantPath: "/groups/upload",
			wantBody: map[string]any{"groupId": float64(3), "groupNumber": float64(3), "image": "QUJD"},
		},
		{
			name:     "slot",
			target:   entity.SlotTarget(2, 1),
			wantPath: "/upload-slot",
			wantBody: map[string]any{"screen": float64(2), "slot": float64(1), "image": "QUJD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewUploadRequest(context.Background(), "http://192.168.4.1:80", tt.target, "QUJD")
			require.NoError(t, err)

			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, tt.wantPath, req.URL.Path)
			assert.Equal(t, "192.168.4.1:80", req.URL.Host)
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestNewUploadRequestGroupBodyIsCompact(t *testing.T) {
	req, err := NewUploadRequest(context.Background(), "http://dev", entity.GroupTarget(3, 3), "AAAA")
	require.NoError(t, err)

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"groupId":3,"groupNumber":3`)
}

func TestNewUploadRequestUnknownKind(t *testing.T) {
	_, err := NewUploadRequest(context.Background(), "http://dev", entity.UploadTarget{Kind: "poster"}, "AAAA")

	assert.ErrorIs(t, err, entity.ErrInvalidTarget)
}

func TestSlotImageURL(t *testing.T) {
	got := SlotImageURL("http://10.0.0.7:8080", 4, 2, 1700000000000)

	assert.Equal(t, "http://10.0.0.7:8080/imagen?screen=4&slot=2&t=1700000000000", got)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess *bool
		wantFile    string
		wantErr     bool
	}{
		{name: "success true", body: `{"success":true,"message":"ok","fileName":"img_3.jpg"}`, wantSuccess: boolPtr(true), wantFile: "img_3.jpg"},
		{name: "success false", body: `{"success":false,"message":"full"}`, wantSuccess: boolPtr(false)},
		{name: "no success field", body: `{"message":"stored"}`},
		{name: "empty body", body: "  "},
		{name: "not json", body: "OK", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResult([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantFile, res.FileName)
		})
	}
}

func TestResultAccepted(t *testing.T) {
	missing := &Result{}

	assert.True(t, missing.Accepted(false))
	assert.False(t, missing.Accepted(true))
	assert.True(t, (&Result{Success: boolPtr(true)}).Accepted(true))
	assert.False(t, (&Result{Success: boolPtr(false)}).Accepted(false))
	assert.False(t, (*Result)(nil).Accepted(true))
}

func TestRequiresSuccessField(t *testing.T) {
	assert.False(t, RequiresSuccessField(entity.TargetGallery))
	assert.True(t, RequiresSuccessField(entity.TargetGroup))
	assert.True(t, RequiresSuccessField(entity.TargetSlot))
}

func boolPtr(v bool) *bool { return &v }
