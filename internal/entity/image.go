package entity

import (
	"bytes"
	"fmt"
	"io"
)

// ImageSource is a user-chosen image. It is resolved once into raw bytes.
type ImageSource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type bytesSource struct {
	name string
	data []byte
}

// BytesSource wraps already-read image bytes.
func BytesSource(name string, data []byte) ImageSource {
	return &bytesSource{name: name, data: data}
}

func (s *bytesSource) Name() string { return s.name }

func (s *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// ReadSource resolves src into raw bytes.
func ReadSource(src ImageSource) ([]byte, error) {
	if src == nil {
		return nil, &TranscodeError{Op: "open", Err: ErrNoImage}
	}
	rc, err := src.Open()
	if err != nil {
		return nil, &TranscodeError{Op: "open", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &TranscodeError{Op: "read", Err: err}
	}
	if len(data) == 0 {
		return nil, &TranscodeError{Op: "read", Err: fmt.Errorf("%s is empty", src.Name())}
	}
	return data, nil
}

type PayloadKind string

const (
	PayloadCompressed PayloadKind = "compressed"
	PayloadRawRGB565  PayloadKind = "raw_rgb565"
)

// EncodedPayload is a transcoded image ready for transmission.
// Compressed payloads carry MimeType and Quality, raw payloads carry ByteOrder.
type EncodedPayload struct {
	Kind      PayloadKind `json:"kind"`
	Data      []byte      `json:"-"`
	MimeType  string      `json:"mimeType,omitempty"`
	Quality   int         `json:"quality,omitempty"`
	ByteOrder ByteOrder   `json:"byteOrder,omitempty"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
}

func (p *EncodedPayload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}
