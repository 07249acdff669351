package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/sirupsen/logrus"
)

// maxResponseBytes caps how much of a device answer is read.
const maxResponseBytes = 1 << 20

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AddressResolver returns the device address currently configured by the user.
type AddressResolver interface {
	Address(ctx context.Context) (entity.DeviceAddress, error)
}

// StatusError is returned when the device answers outside 2xx.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: device answered HTTP %d", e.Method, e.Path, e.Code)
}

// NewHTTPClient returns the client used for every device call. The device is
// a microcontroller on the LAN, so idle connections are kept few.
func NewHTTPClient(dialTimeout, requestTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}

// Client performs the management calls of the device: groups, group images and slots.
type Client struct {
	http     Doer
	resolver AddressResolver
}

func NewClient(doer Doer, resolver AddressResolver) *Client {
	return &Client{http: doer, resolver: resolver}
}

// BaseURL resolves the current device address.
func (c *Client) BaseURL(ctx context.Context) (string, error) {
	return ResolveBaseURL(ctx, c.resolver)
}

// ResolveBaseURL turns the configured address into http://host:port.
func ResolveBaseURL(ctx context.Context, resolver AddressResolver) (string, error) {
	addr, err := resolver.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve device address: %w", err)
	}
	if err := addr.Validate(); err != nil {
		return "", err
	}
	return addr.BaseURL(), nil
}

func (c *Client) ListGroups(ctx context.Context) ([]entity.Group, error) {
	var resp groupsResponse
	if err := c.call(ctx, http.MethodGet, PathGroups, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Groups == nil {
		return []entity.Group{}, nil
	}
	return resp.Groups, nil
}

// CreateGroup creates a group and returns the id the device assigned, or 0
// when the device did not report one.
func (c *Client) CreateGroup(ctx context.Context, name string) (int, error) {
	var resp Result
	if err := c.call(ctx, http.MethodPost, PathGroups, createGroupBody{Name: name}, &resp); err != nil {
		return 0, err
	}
	if resp.GroupID == nil {
		return 0, nil
	}
	return *resp.GroupID, nil
}

func (c *Client) RenameGroup(ctx context.Context, groupID int, name string) error {
	body := renameGroupBody{GroupID: strconv.Itoa(groupID), Name: name}
	return c.call(ctx, http.MethodPut, PathGroupRename, body, nil)
}

// DeleteGroup removes a group together with its images.
func (c *Client) DeleteGroup(ctx context.Context, groupID int) error {
	return c.call(ctx, http.MethodDelete, PathGroups, deleteGroupBody{GroupID: groupID}, nil)
}

func (c *Client) ListGroupImages(ctx context.Context, groupID int) ([]entity.GroupImage, error) {
	path := PathGroupImages + "?" + url.Values{"groupId": {strconv.Itoa(groupID)}}.Encode()

	var resp groupImagesResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Images == nil {
		return []entity.GroupImage{}, nil
	}
	return resp.Images, nil
}

func (c *Client) DeleteGroupImage(ctx context.Context, groupNumber int, fileName string) error {
	body := deleteGroupImageBody{GroupNumber: groupNumber, FileName: fileName}
	return c.call(ctx, http.MethodDelete, PathGroupImages, body, nil)
}

// ShowSlot makes the slot's picture the active one on its screen.
func (c *Client) ShowSlot(ctx context.Context, screen, slot int) error {
	return c.call(ctx, http.MethodPost, PathChangeSlot, slotBody{Screen: screen, Slot: slot}, nil)
}

func (c *Client) DeleteSlot(ctx context.Context, screen, slot int) error {
	return c.call(ctx, http.MethodPost, PathDeleteSlot, slotBody{Screen: screen, Slot: slot}, nil)
}

func (c *Client) SlotImageURL(ctx context.Context, screen, slot int) (string, error) {
	base, err := c.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	return SlotImageURL(base, screen, slot, time.Now().UnixMilli()), nil
}

// call sends one JSON request and decodes the answer into out when it is not nil.
// An explicit success=false becomes ErrDeviceRejected.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	base, err := c.BaseURL(ctx)
	if err != nil {
		return err
	}
	req, err := newJSONRequest(ctx, method, base+path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("device call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}

	res, err := ParseResult(data)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !res.Accepted(false) {
		if res.Message != "" {
			return fmt.Errorf("%w: %s", entity.ErrDeviceRejected, res.Message)
		}
		return entity.ErrDeviceRejected
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
