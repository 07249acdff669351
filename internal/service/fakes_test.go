package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

type staticResolver struct {
	addr entity.DeviceAddress
	err  error
}

func (r staticResolver) Address(context.Context) (entity.DeviceAddress, error) {
	return r.addr, r.err
}

var testDevice = staticResolver{addr: entity.DeviceAddress{Host: "192.168.4.1", Port: 80}}

type sentRequest struct {
	method string
	path   string
	body   map[string]any
}

// scriptedDoer answers device requests without a network. reply is called
// once per request with the 1-based call number.
type scriptedDoer struct {
	mu    sync.Mutex
	sent  []sentRequest
	reply func(n int, req *http.Request) (*http.Response, error)
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	rec := sentRequest{method: req.Method, path: req.URL.Path}
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &rec.body)
	}
	d.mu.Lock()
	d.sent = append(d.sent, rec)
	n := len(d.sent)
	d.mu.Unlock()
	return d.reply(n, req)
}

func (d *scriptedDoer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *scriptedDoer) request(i int) sentRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[i]
}

func respond(status int, body string) func(int, *http.Request) (*http.Response, error) {
	return func(int, *http.Request) (*http.Response, error) {
		return jsonResponse(status, body), nil
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// blockUntilCancelled holds every request until its context ends.
func blockUntilCancelled(_ int, req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

// progressLog records every snapshot an attempt reports.
type progressLog struct {
	mu    sync.Mutex
	snaps []entity.AttemptSnapshot
}

func (l *progressLog) observe(s entity.AttemptSnapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

type checkpoint struct {
	State    entity.UploadState
	Progress int
}

func (l *progressLog) checkpoints() []checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]checkpoint, 0, len(l.snaps))
	for _, s := range l.snaps {
		out = append(out, checkpoint{State: s.State, Progress: s.Progress})
	}
	return out
}
