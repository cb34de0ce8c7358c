package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

const (
	envVarRelayURL           = "WEBRTC_CALL_RELAY_URL"
	envVarUsername           = "WEBRTC_CALL_USERNAME"
	envVarPassword           = "WEBRTC_CALL_PASSWORD"
	envVarToken              = "WEBRTC_CALL_TOKEN"
	envVarOrigin             = "WEBRTC_CALL_ORIGIN"
	envVarCallTarget         = "WEBRTC_CALL_TARGET"
	envVarAudio              = "WEBRTC_CALL_AUDIO"
	envVarVideo              = "WEBRTC_CALL_VIDEO"
	envVarNegotiationTimeout = "WEBRTC_CALL_NEGOTIATION_TIMEOUT"
	envVarClientPingInterval = "WEBRTC_CALL_PING_INTERVAL"

	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"
)

const (
	DefaultRelayURL           = "ws://127.0.0.1:8080/ws"
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultWebRTCUDPListenIP  = "0.0.0.0"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// WebRTC holds the peer-connection network settings of the client.
type WebRTC struct {
	ICEServers []webrtc.ICEServer

	// UDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// ephemeral ports.
	UDPPortRange *UDPPortRange

	NAT1To1IPs             []string
	NAT1To1IPCandidateType NAT1To1IPCandidateType

	// UDPListenIP restricts which local interface address ICE binds to.
	// 0.0.0.0 or :: means all interfaces.
	UDPListenIP net.IP
}

// ClientConfig configures the participant binary.
type ClientConfig struct {
	Logging

	RelayURL string
	Username string
	Password string
	Token    string
	Origin   string

	// CallTarget, when set, is called as soon as the client is connected.
	CallTarget string

	Audio bool
	Video bool

	NegotiationTimeout time.Duration
	PingInterval       time.Duration
	MaxMessageBytes    int64

	WebRTC WebRTC
}

func LoadClient(args []string) (ClientConfig, error) {
	return loadClient(os.LookupEnv, args)
}

func loadClient(lookup func(string) (string, bool), args []string) (ClientConfig, error) {
	relayURL := envOrDefault(lookup, envVarRelayURL, DefaultRelayURL)
	username := envOrDefault(lookup, envVarUsername, "")
	password := envOrDefault(lookup, envVarPassword, "")
	token := envOrDefault(lookup, envVarToken, "")
	originStr := envOrDefault(lookup, envVarOrigin, "")
	callTarget := envOrDefault(lookup, envVarCallTarget, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	audio, err := envBoolOrDefault(lookup, envVarAudio, true)
	if err != nil {
		return ClientConfig{}, err
	}
	video, err := envBoolOrDefault(lookup, envVarVideo, true)
	if err != nil {
		return ClientConfig{}, err
	}
	negotiationTimeout, err := envDurationOrDefault(lookup, envVarNegotiationTimeout, DefaultNegotiationTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarClientPingInterval, DefaultPingInterval)
	if err != nil {
		return ClientConfig{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return ClientConfig{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := pflag.NewFlagSet("webrtc-call", pflag.ContinueOnError)
	logFlags := bindLoggingFlags(fs, lookup)
	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay websocket URL")
	fs.StringVarP(&username, "username", "u", username, "Participant username")
	fs.StringVar(&password, "password", password, "Participant password (relay --auth-mode=password)")
	fs.StringVar(&token, "token", token, "Participant JWT (relay --auth-mode=jwt)")
	fs.StringVar(&originStr, "origin", originStr, "Origin header sent to the relay")
	fs.StringVar(&callTarget, "call", callTarget, "Participant to call once connected")
	fs.BoolVar(&audio, "audio", audio, "Send an audio track")
	fs.BoolVar(&video, "video", video, "Send a video track")
	fs.DurationVar(&negotiationTimeout, "negotiation-timeout", negotiationTimeout, "Fail a call that has not finished negotiating within this time (0 disables)")
	fs.DurationVar(&pingInterval, "ping-interval", pingInterval, "Keepalive ping interval towards the relay (0 disables)")
	fs.UintVar(&webrtcUDPPortMin, "webrtc-udp-port-min", webrtcUDPPortMin, "Minimum UDP port for ICE (requires --webrtc-udp-port-max)")
	fs.UintVar(&webrtcUDPPortMax, "webrtc-udp-port-max", webrtcUDPPortMax, "Maximum UDP port for ICE (requires --webrtc-udp-port-min)")
	fs.StringVar(&webrtcUDPListenIPStr, "webrtc-udp-listen-ip", webrtcUDPListenIPStr, "Local IP ICE binds to (0.0.0.0 = all)")
	fs.StringVar(&webrtcNAT1To1IPsStr, "webrtc-nat-1to1-ips", webrtcNAT1To1IPsStr, "Comma-separated public IPs advertised for NAT 1:1")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, "webrtc-nat-1to1-ip-candidate-type", webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	logging, err := logFlags.resolve()
	if err != nil {
		return ClientConfig{}, err
	}
	if strings.TrimSpace(username) == "" {
		return ClientConfig{}, fmt.Errorf("%s (or --username) is required", envVarUsername)
	}
	u, err := url.Parse(relayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ClientConfig{}, fmt.Errorf("invalid %s %q (expected ws:// or wss:// URL)", envVarRelayURL, relayURL)
	}
	normalizedOrigin, err := normalizeOriginValue(originStr)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarOrigin, originStr, err)
	}
	if callTarget == username {
		return ClientConfig{}, fmt.Errorf("cannot call yourself (%q)", username)
	}
	if !audio && !video {
		return ClientConfig{}, fmt.Errorf("at least one of audio or video must be enabled")
	}
	if negotiationTimeout < 0 {
		return ClientConfig{}, fmt.Errorf("%s must be >= 0", envVarNegotiationTimeout)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return ClientConfig{}, err
	}

	wcfg := WebRTC{ICEServers: iceServers}
	if (webrtcUDPPortMin == 0) != (webrtcUDPPortMax == 0) {
		return ClientConfig{}, fmt.Errorf("--webrtc-udp-port-min and --webrtc-udp-port-max must be set together")
	}
	if webrtcUDPPortMin != 0 {
		minPort, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid --webrtc-udp-port-min: %w", err)
		}
		maxPort, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid --webrtc-udp-port-max: %w", err)
		}
		if minPort > maxPort {
			return ClientConfig{}, fmt.Errorf("webrtc udp port range min %d > max %d", minPort, maxPort)
		}
		wcfg.UDPPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}
	listenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if listenIP == nil {
		return ClientConfig{}, fmt.Errorf("invalid %s %q", envVarWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}
	wcfg.UDPListenIP = listenIP
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		ips, err := parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid %s: %w", envVarWebRTCNAT1To1IPs, err)
		}
		wcfg.NAT1To1IPs = ips
	}
	candidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("invalid %s: %w", envVarWebRTCNAT1To1IPCandidateType, err)
	}
	wcfg.NAT1To1IPCandidateType = candidateType

	return ClientConfig{
		Logging:            logging,
		RelayURL:           relayURL,
		Username:           strings.TrimSpace(username),
		Password:           password,
		Token:              token,
		Origin:             normalizedOrigin,
		CallTarget:         strings.TrimSpace(callTarget),
		Audio:              audio,
		Video:              video,
		NegotiationTimeout: negotiationTimeout,
		PingInterval:       pingInterval,
		MaxMessageBytes:    int64(maxMessageBytes),
		WebRTC:             wcfg,
	}, nil
}

func parsePortString(s string) (uint16, error) {
	var v uint
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(v)
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
