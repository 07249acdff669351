package entity

import "time"

type FlowStatus string

const (
	FlowProcessing    FlowStatus = "processing"
	FlowReady         FlowStatus = "ready"
	FlowUploading     FlowStatus = "uploading"
	FlowSucceeded     FlowStatus = "succeeded"
	FlowFailed        FlowStatus = "failed"
	FlowInvalidSource FlowStatus = "invalid_source"
)

// Flow is the view of one transcode-then-upload flow as the UI sees it.
type Flow struct {
	ID         string           `json:"id"`
	Target     UploadTarget     `json:"target"`
	Spec       TargetSpec       `json:"spec"`
	Status     FlowStatus       `json:"status"`
	Busy       bool             `json:"busy"`
	SourceName string           `json:"sourceName,omitempty"`
	ImageInfo  string           `json:"imageInfo,omitempty"`
	HasPreview bool             `json:"hasPreview"`
	Error      string           `json:"error,omitempty"`
	Attempt    *AttemptSnapshot `json:"attempt,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// CanRetry reports whether the UI should offer a retry action.
func (f *Flow) CanRetry() bool {
	return !f.Busy && f.Status == FlowFailed && f.Attempt != nil
}

// FlowEvent is published when a flow reaches a terminal state.
type FlowEvent struct {
	FlowID    string         `json:"flow_id"`
	Target    UploadTarget   `json:"target"`
	Status    FlowStatus     `json:"status"`
	Attempt   int            `json:"attempt,omitempty"`
	Failure   *FailureReason `json:"failure,omitempty"`
	Bytes     int            `json:"bytes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
