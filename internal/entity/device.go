package entity

import (
	"fmt"
	"net"
	"strconv"
)

// DeviceAddress is where the display's HTTP server listens.
type DeviceAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a DeviceAddress) Validate() error {
	if a.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidAddress, a.Port)
	}
	return nil
}

func (a DeviceAddress) BaseURL() string {
	return "http://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type Group struct {
	ID          int    `json:"id"`
	GroupNumber int    `json:"groupNumber"`
	Name        string `json:"name"`
	ImageCount  int    `json:"imageCount"`
}

type GroupImage struct {
	ID          int    `json:"id"`
	GroupID     int    `json:"groupId"`
	GroupNumber int    `json:"groupNumber"`
	ImageURL    string `json:"imageUrl"`
	Timestamp   int64  `json:"timestamp"`
	FileName    string `json:"fileName"`
}
