package config

import (
	"fmt"
	"time"
)

const (
	EnginePion     = "pion"
	EngineLoopback = "loopback"
)

type Engine struct {
	Kind string `default:"loopback"`
	// AutoConnect makes the loopback engine report every
	// negotiated endpoint as connected.
	AutoConnect bool

	DisableDefaultInterceptors bool
	PliInterval                time.Duration `default:"3s"`
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap   string
	IceLite    bool
	SinglePort int
	LogLevel   int `default:"2"`
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (e *Engine) HasPortRange() bool  { return e.IcePorts.Min > 0 && e.IcePorts.Max > 0 }
func (e *Engine) HasSinglePort() bool { return e.SinglePort > 0 }
func (e *Engine) HasIceIpMap() bool   { return e.IceIpMap != "" }

func (e *Engine) Validate() error {
	switch e.Kind {
	case EnginePion, EngineLoopback:
	default:
		return fmt.Errorf("unknown media engine %q", e.Kind)
	}
	if e.HasPortRange() && e.IcePorts.Min > e.IcePorts.Max {
		return fmt.Errorf("bad ICE port range %v-%v", e.IcePorts.Min, e.IcePorts.Max)
	}
	return nil
}
