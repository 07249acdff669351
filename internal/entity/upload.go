package entity

import "fmt"

type UploadState string

const (
	UploadIdle         UploadState = "idle"
	UploadPreparing    UploadState = "preparing"
	UploadEncoding     UploadState = "encoding"
	UploadTransmitting UploadState = "transmitting"
	UploadSucceeded    UploadState = "succeeded"
	UploadFailed       UploadState = "failed"
)

func (s UploadState) Terminal() bool {
	return s == UploadSucceeded || s == UploadFailed
}

type FailureKind string

const (
	FailureNoImage             FailureKind = "no_image"
	FailureHTTPStatus          FailureKind = "http_status"
	FailureApplicationRejected FailureKind = "application_rejected"
	FailureTransport           FailureKind = "transport_error"
	FailureTimeout             FailureKind = "timeout"
	FailureInvalidTarget       FailureKind = "invalid_target"
)

// FailureReason explains why an upload attempt ended in UploadFailed.
type FailureReason struct {
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"statusCode,omitempty"`
	Message    string      `json:"message,omitempty"`
}

func NoImageFailure() *FailureReason {
	return &FailureReason{Kind: FailureNoImage, Message: "no image to upload"}
}

func HTTPStatusFailure(code int) *FailureReason {
	return &FailureReason{Kind: FailureHTTPStatus, StatusCode: code, Message: fmt.Sprintf("device answered HTTP %d", code)}
}

func RejectedFailure(message string) *FailureReason {
	if message == "" {
		message = "device rejected the image"
	}
	return &FailureReason{Kind: FailureApplicationRejected, Message: message}
}

func TransportFailure(message string) *FailureReason {
	return &FailureReason{Kind: FailureTransport, Message: message}
}

// InvalidTargetFailure is reported when the destination is rejected before
// any request is built.
func InvalidTargetFailure(err error) *FailureReason {
	return &FailureReason{Kind: FailureInvalidTarget, Message: err.Error()}
}

func TimeoutFailure() *FailureReason {
	return &FailureReason{Kind: FailureTimeout, Message: "device did not answer in time"}
}

func (r *FailureReason) Error() string {
	if r == nil {
		return ""
	}
	return r.Message
}

// Progress checkpoints reported during an attempt.
const (
	ProgressStart        = 0
	ProgressEncoded      = 25
	ProgressTransmitting = 50
	ProgressResponse     = 75
	ProgressDone         = 100
)

// AttemptSnapshot is a read-only copy of one upload attempt.
type AttemptSnapshot struct {
	Number   int            `json:"number"`
	State    UploadState    `json:"state"`
	Progress int            `json:"progress"`
	Message  string         `json:"message,omitempty"`
	Failure  *FailureReason `json:"failure,omitempty"`
	FileName string         `json:"fileName,omitempty"`
}
