package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

// Device endpoints.
const (
	PathGalleryUpload = "/upload"
	PathGroupUpload   = "/groups/upload"
	PathSlotUpload    = "/upload-slot"
	PathGroups        = "/groups"
	PathGroupRename   = "/groups/rename"
	PathGroupImages   = "/groups/images"
	PathChangeSlot    = "/change-slot"
	PathDeleteSlot    = "/delete-slot"
	PathSlotImage     = "/imagen"
)

type galleryUploadBody struct {
	Image       string `json:"image"`
	Title       string `json:"title"`
	Category    int    `json:"category"`
	Subcategory int    `json:"subcategory"`
}

type groupUploadBody struct {
	GroupID     int    `json:"groupId"`
	GroupNumber int    `json:"groupNumber"`
	Image       string `json:"image"`
}

type slotUploadBody struct {
	Screen int    `json:"screen"`
	Slot   int    `json:"slot"`
	Image  string `json:"image"`
}

type createGroupBody struct {
	Name string `json:"name"`
}

// the device expects the id of a rename as a string
type renameGroupBody struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

type deleteGroupBody struct {
	GroupID int `json:"groupId"`
}

type deleteGroupImageBody struct {
	GroupNumber int    `json:"groupNumber"`
	FileName    string `json:"fileName"`
}

type slotBody struct {
	Screen int `json:"screen"`
	Slot   int `json:"slot"`
}

// UploadPath returns the endpoint receiving images for the target's kind.
func UploadPath(kind entity.TargetKind) (string, error) {
	switch kind {
	case entity.TargetGallery:
		return PathGalleryUpload, nil
	case entity.TargetGroup:
		return PathGroupUpload, nil
	case entity.TargetSlot:
		return PathSlotUpload, nil
	}
	return "", fmt.Errorf("%w: kind %q", entity.ErrInvalidTarget, kind)
}

// UploadBody builds the JSON document for an upload. image is the base64 payload.
func UploadBody(target entity.UploadTarget, image string) (any, error) {
	switch target.Kind {
	case entity.TargetGallery:
		return galleryUploadBody{
			Image:       image,
			Title:       target.Title,
			Category:    target.Category,
			Subcategory: target.Subcategory,
		}, nil
	case entity.TargetGroup:
		return groupUploadBody{GroupID: target.GroupID, GroupNumber: target.GroupNumber, Image: image}, nil
	case entity.TargetSlot:
		return slotUploadBody{Screen: target.Screen, Slot: target.Slot, Image: image}, nil
	}
	return nil, fmt.Errorf("%w: kind %q", entity.ErrInvalidTarget, target.Kind)
}

// NewUploadRequest builds the POST carrying image to the endpoint of target.
func NewUploadRequest(ctx context.Context, baseURL string, target entity.UploadTarget, image string) (*http.Request, error) {
	path, err := UploadPath(target.Kind)
	if err != nil {
		return nil, err
	}
	body, err := UploadBody(target, image)
	if err != nil {
		return nil, err
	}
	return newJSONRequest(ctx, http.MethodPost, baseURL+path, body)
}

// SlotImageURL is the address the device serves a slot's current picture from.
// t defeats caches in front of the device.
func SlotImageURL(baseURL string, screen, slot int, t int64) string {
	q := url.Values{}
	q.Set("screen", strconv.Itoa(screen))
	q.Set("slot", strconv.Itoa(slot))
	q.Set("t", strconv.FormatInt(t, 10))
	return baseURL + PathSlotImage + "?" + q.Encode()
}

func newJSONRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s body: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
