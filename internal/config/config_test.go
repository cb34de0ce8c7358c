package config

import (
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.AuthMode != AuthModePassword {
		t.Fatalf("authMode=%q, want %q", cfg.AuthMode, AuthModePassword)
	}
	if got := strings.Join(cfg.UserNames(), ","); got != "alice,bob" {
		t.Fatalf("users=%q, want %q", got, "alice,bob")
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.IdleTimeout != DefaultIdleTimeout || cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("idle=%v ping=%v, want %v %v", cfg.IdleTimeout, cfg.PingInterval, DefaultIdleTimeout, DefaultPingInterval)
	}
	if cfg.TLSEnabled() {
		t.Fatalf("TLSEnabled=true, want false")
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("RedisAddr=%q, want empty", cfg.RedisAddr)
	}
}

func TestDefaultsProd(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:  "0.0.0.0:9000",
		envVarIdleTimeout: "2m",
	}), []string{"--listen-addr", "127.0.0.1:9001", "--ping-interval", "30s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, "127.0.0.1:9001")
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Fatalf("idleTimeout=%v, want 2m", cfg.IdleTimeout)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Fatalf("pingInterval=%v, want 30s", cfg.PingInterval)
	}
}

func TestUsersParsing(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarUsers: " carol:pa:ss , dave:x "}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Users["carol"]; got != "pa:ss" {
		t.Fatalf("carol password=%q, want %q", got, "pa:ss")
	}
	if got := cfg.Users["dave"]; got != "x" {
		t.Fatalf("dave password=%q, want %q", got, "x")
	}
}

func TestAuthModeNoneIgnoresUsers(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarAuthMode: "none", envVarUsers: "broken"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("authMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if len(cfg.Users) != 0 {
		t.Fatalf("users=%v, want none", cfg.Users)
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "HTTPS://Example.com:443, *"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(cfg.AllowedOrigins, ","); got != "https://example.com,*" {
		t.Fatalf("allowedOrigins=%q, want %q", got, "https://example.com,*")
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad mode", env: map[string]string{envVarMode: "staging"}},
		{name: "bad log format", args: []string{"--log-format", "xml"}},
		{name: "bad auth mode", env: map[string]string{envVarAuthMode: "oauth"}},
		{name: "jwt without secret", env: map[string]string{envVarAuthMode: "jwt"}},
		{name: "user without password", env: map[string]string{envVarUsers: "alice"}},
		{name: "duplicate user", env: map[string]string{envVarUsers: "alice:a,alice:b"}},
		{name: "tls cert without key", env: map[string]string{envVarTLSCertFile: "cert.pem"}},
		{name: "negative participants", args: []string{"--max-participants", "-1"}},
		{name: "zero message size", env: map[string]string{envVarMaxMessageBytes: "0"}},
		{name: "queue below message size", env: map[string]string{envVarSendQueueBytes: "10"}},
		{name: "ping not below idle", env: map[string]string{envVarPingInterval: "60s"}},
		{name: "bad origin", env: map[string]string{envVarAllowedOrigins: "example.com"}},
		{name: "bad duration", env: map[string]string{envVarIdleTimeout: "soon"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestClientDefaults(t *testing.T) {
	cfg, err := loadClient(lookupMap(map[string]string{envVarUsername: "alice"}), nil)
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Fatalf("relayURL=%q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
	if !cfg.Audio || !cfg.Video {
		t.Fatalf("audio=%v video=%v, want both", cfg.Audio, cfg.Video)
	}
	if cfg.NegotiationTimeout != DefaultNegotiationTimeout {
		t.Fatalf("negotiationTimeout=%v, want %v", cfg.NegotiationTimeout, DefaultNegotiationTimeout)
	}
	if cfg.WebRTC.UDPPortRange != nil {
		t.Fatalf("expected UDPPortRange unset, got %+v", *cfg.WebRTC.UDPPortRange)
	}
	if !cfg.WebRTC.UDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("UDPListenIP=%v, want 0.0.0.0", cfg.WebRTC.UDPListenIP)
	}
	if cfg.WebRTC.NAT1To1IPCandidateType != NAT1To1CandidateTypeHost {
		t.Fatalf("NAT1To1IPCandidateType=%q, want %q", cfg.WebRTC.NAT1To1IPCandidateType, NAT1To1CandidateTypeHost)
	}
	if len(cfg.WebRTC.ICEServers) != 1 || cfg.WebRTC.ICEServers[0].URLs[0] != DefaultSTUNURL {
		t.Fatalf("ICEServers=%+v, want default STUN", cfg.WebRTC.ICEServers)
	}
}

func TestClientFlags(t *testing.T) {
	cfg, err := loadClient(emptyLookup, []string{
		"-u", "bob",
		"--relay-url", "wss://relay.example.com/ws",
		"--origin", "https://app.example.com",
		"--call", "alice",
		"--video=false",
		"--webrtc-udp-port-min", "50000",
		"--webrtc-udp-port-max", "50100",
		"--webrtc-nat-1to1-ips", "203.0.113.7",
		"--webrtc-nat-1to1-ip-candidate-type", "srflx",
	})
	if err != nil {
		t.Fatalf("loadClient: %v", err)
	}
	if cfg.Username != "bob" || cfg.CallTarget != "alice" {
		t.Fatalf("username=%q call=%q", cfg.Username, cfg.CallTarget)
	}
	if cfg.Origin != "https://app.example.com" {
		t.Fatalf("origin=%q", cfg.Origin)
	}
	if cfg.Video {
		t.Fatalf("video=true, want false")
	}
	if r := cfg.WebRTC.UDPPortRange; r == nil || r.Min != 50000 || r.Max != 50100 {
		t.Fatalf("UDPPortRange=%+v, want 50000-50100", r)
	}
	if got := strings.Join(cfg.WebRTC.NAT1To1IPs, ","); got != "203.0.113.7" {
		t.Fatalf("NAT1To1IPs=%q", got)
	}
	if cfg.WebRTC.NAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("NAT1To1IPCandidateType=%q, want %q", cfg.WebRTC.NAT1To1IPCandidateType, NAT1To1CandidateTypeSrflx)
	}
}

func TestClientErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "missing username"},
		{name: "http relay url", args: []string{"-u", "a", "--relay-url", "http://x/ws"}},
		{name: "call self", args: []string{"-u", "a", "--call", "a"}},
		{name: "no media", args: []string{"-u", "a", "--audio=false", "--video=false"}},
		{name: "bad bool env", env: map[string]string{envVarUsername: "a", envVarAudio: "maybe"}},
		{name: "half port range", args: []string{"-u", "a", "--webrtc-udp-port-min", "5000"}},
		{name: "inverted port range", args: []string{"-u", "a", "--webrtc-udp-port-min", "6000", "--webrtc-udp-port-max", "5000"}},
		{name: "bad listen ip", args: []string{"-u", "a", "--webrtc-udp-listen-ip", "nope"}},
		{name: "bad nat ip", args: []string{"-u", "a", "--webrtc-nat-1to1-ips", "1.2.3"}},
		{name: "bad candidate type", args: []string{"-u", "a", "--webrtc-nat-1to1-ip-candidate-type", "relay"}},
		{name: "bad origin", args: []string{"-u", "a", "--origin", "example.com"}},
		{name: "turn without creds", env: map[string]string{envVarUsername: "a", envTurnURLs: "turn:t.example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadClient(lookupMap(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
