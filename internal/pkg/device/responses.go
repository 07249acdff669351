package device

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

// Result is the common envelope of device answers. Success is nil when the
// device did not send the field.
type Result struct {
	Success     *bool  `json:"success"`
	Message     string `json:"message"`
	FileName    string `json:"fileName"`
	GroupNumber int    `json:"groupNumber"`
	GroupID     *int   `json:"groupId"`
}

type groupsResponse struct {
	Result
	Groups []entity.Group `json:"groups"`
}

type groupImagesResponse struct {
	Result
	Images []entity.GroupImage `json:"images"`
}

// ParseResult decodes a device answer. An empty body yields a Result without
// a success flag.
func ParseResult(body []byte) (*Result, error) {
	var res Result
	if len(bytes.TrimSpace(body)) == 0 {
		return &res, nil
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode device response: %w", err)
	}
	return &res, nil
}

// RequiresSuccessField reports whether a 2xx answer from the upload endpoint of
// kind must carry "success" to count as delivered. The gallery endpoint
// historically answered without it.
func RequiresSuccessField(kind entity.TargetKind) bool {
	return kind != entity.TargetGallery
}

// HasSuccess reports whether the device sent the success flag.
func (r *Result) HasSuccess() bool {
	return r != nil && r.Success != nil
}

// Accepted reports whether the answer confirms the request. A missing success
// flag confirms it only when strict is false.
func (r *Result) Accepted(strict bool) bool {
	if !r.HasSuccess() {
		return !strict
	}
	return *r.Success
}
