package main

import (
	"log/slog"
	"net"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
)

const minJWTSecretBytes = 32

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none lets any client claim any username",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModePassword {
		var weak []string
		for _, name := range cfg.UserNames() {
			if cfg.Users[name] == name {
				weak = append(weak, name)
			}
		}
		if len(weak) > 0 {
			logger.Warn("startup security warning: RELAY_USERS has accounts whose password equals the username",
				"warning_code", "password_equals_username",
				"users", weak,
				"mode", cfg.Mode,
			)
		}
	}

	if cfg.AuthMode == config.AuthModeJWT && len(cfg.JWTSecret) < minJWTSecretBytes {
		logger.Warn("startup security warning: JWT_SECRET is shorter than 32 bytes",
			"warning_code", "jwt_secret_short",
			"jwt_secret_bytes", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxParticipants <= 0 {
		logger.Warn("startup security warning: MAX_PARTICIPANTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_participants_unlimited_in_prod",
			"max_participants", cfg.MaxParticipants,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "message_rate_unlimited_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if !cfg.TLSEnabled() && !loopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: listening on a non-loopback address without TLS (credentials travel in cleartext unless a proxy terminates TLS)",
			"warning_code", "plaintext_non_loopback",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}
}

func loopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
