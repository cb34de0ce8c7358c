// Package webrtcpeer adapts pion peer connections to peer.Conn.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
)

// Option adjusts the SettingEngine after the configured settings are applied.
type Option func(se *webrtc.SettingEngine)

// NewAPI builds a pion API with default codecs and the configured network
// settings. pion's own logs go to logger.
func NewAPI(cfg config.WebRTC, logger *slog.Logger, opts ...Option) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	if logger != nil {
		se.LoggerFactory = NewLoggerFactory(logger)
	}
	for _, opt := range opts {
		opt(&se)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.WebRTC) error {
	if cfg.UDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortRange.Min, cfg.UDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.NAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.NAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost, "":
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.NAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.NAT1To1IPs, candidateType)
	}

	// SettingEngine has no bind-address option; an IP filter restricts both
	// gathering and socket binding.
	if !config.IsUnspecifiedIP(cfg.UDPListenIP) {
		listenIP := cfg.UDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
