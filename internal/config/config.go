package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
)

const (
	envVarListenAddr      = "WEBRTC_CALL_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "WEBRTC_CALL_LOG_FORMAT"
	envVarLogLevel        = "WEBRTC_CALL_LOG_LEVEL"
	envVarMode            = "WEBRTC_CALL_MODE"
	envVarShutdownTimeout = "WEBRTC_CALL_RELAY_SHUTDOWN_TIMEOUT"
	envVarStaticDir       = "WEBRTC_CALL_RELAY_STATIC_DIR"
	envVarTLSCertFile     = "WEBRTC_CALL_RELAY_TLS_CERT_FILE"
	envVarTLSKeyFile      = "WEBRTC_CALL_RELAY_TLS_KEY_FILE"

	envVarAuthMode  = "AUTH_MODE"
	envVarUsers     = "RELAY_USERS"
	envVarJWTSecret = "JWT_SECRET"

	envVarMaxParticipants      = "MAX_PARTICIPANTS"
	envVarMaxMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarIdleTimeout          = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarPingInterval         = "SIGNALING_WS_PING_INTERVAL"
	envVarSendQueueBytes       = "SIGNALING_SEND_QUEUE_BYTES"

	envVarRedisAddr     = "REDIS_ADDR"
	envVarRedisPassword = "REDIS_PASSWORD"
	envVarRedisDB       = "REDIS_DB"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultMode                 = ModeDev
	DefaultShutdown             = 15 * time.Second
	DefaultAuthMode             = AuthModePassword
	DefaultUsers                = "alice:alice,bob:bob"
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultSendQueueBytes       = 1 << 20
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone     AuthMode = "none"
	AuthModePassword AuthMode = "password"
	AuthModeJWT      AuthMode = "jwt"
)

// Logging is shared by the relay and the client.
type Logging struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level
}

// Config configures the relay binary.
type Config struct {
	Logging

	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	// StaticDir, when set, is served at / so browsers can load a client page
	// from the relay.
	StaticDir   string
	TLSCertFile string
	TLSKeyFile  string

	AuthMode AuthMode
	// Users maps username to password for AUTH_MODE=password.
	Users     map[string]string
	JWTSecret string

	// MaxParticipants caps concurrently connected participants. Zero means
	// unlimited.
	MaxParticipants      int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	SendQueueBytes       int

	// RedisAddr selects the Redis presence store. Empty keeps presence in
	// memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	tlsCertFile := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsKeyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	authModeStr := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	usersStr := envOrDefault(lookup, envVarUsers, DefaultUsers)
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	redisAddr := envOrDefault(lookup, envVarRedisAddr, "")
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarIdleTimeout, DefaultIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarPingInterval, DefaultPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipants, 0)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("webrtc-call-relay", pflag.ContinueOnError)
	logFlags := bindLoggingFlags(fs, lookup)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (* allows any)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory served at / (optional)")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "TLS certificate file (enables HTTPS together with --tls-key-file)")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "TLS private key file")
	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Participant authentication: none, password, or jwt")
	fs.StringVar(&usersStr, "users", usersStr, "Comma-separated username:password pairs for --auth-mode=password")
	fs.IntVar(&maxParticipants, "max-participants", maxParticipants, "Maximum concurrently connected participants (0 = unlimited)")
	fs.IntVar(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Maximum inbound signaling frame size")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Per-connection inbound message rate (0 = unlimited)")
	fs.DurationVar(&idleTimeout, "idle-timeout", idleTimeout, "Close connections with no inbound traffic for this long")
	fs.DurationVar(&pingInterval, "ping-interval", pingInterval, "Server keepalive ping interval")
	fs.IntVar(&sendQueueBytes, "send-queue-bytes", sendQueueBytes, "Per-connection outbound queue budget")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address for the presence store (empty = in-memory)")
	fs.IntVar(&redisDB, "redis-db", redisDB, "Redis database number")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logging, err := logFlags.resolve()
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Logging:              logging,
		ListenAddr:           listenAddr,
		AllowedOrigins:       allowedOrigins,
		ShutdownTimeout:      shutdownTimeout,
		StaticDir:            staticDir,
		TLSCertFile:          tlsCertFile,
		TLSKeyFile:           tlsKeyFile,
		AuthMode:             authMode,
		JWTSecret:            jwtSecret,
		MaxParticipants:      maxParticipants,
		MaxMessageBytes:      int64(maxMessageBytes),
		MaxMessagesPerSecond: maxMessagesPerSecond,
		IdleTimeout:          idleTimeout,
		PingInterval:         pingInterval,
		SendQueueBytes:       sendQueueBytes,
		RedisAddr:            redisAddr,
		RedisPassword:        redisPassword,
		RedisDB:              redisDB,
	}

	switch authMode {
	case AuthModePassword:
		users, err := parseUsers(usersStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarUsers, err)
		}
		cfg.Users = users
	case AuthModeJWT:
		if strings.TrimSpace(jwtSecret) == "" {
			return Config{}, fmt.Errorf("%s is required when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
		}
	}

	if (tlsCertFile == "") != (tlsKeyFile == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", envVarTLSCertFile, envVarTLSKeyFile)
	}
	if maxParticipants < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarMaxParticipants)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarMaxMessagesPerSecond)
	}
	if sendQueueBytes < maxMessageBytes {
		return Config{}, fmt.Errorf("%s must be >= %s", envVarSendQueueBytes, envVarMaxMessageBytes)
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarIdleTimeout)
	}
	if pingInterval <= 0 || pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s must be > 0 and < %s", envVarPingInterval, envVarIdleTimeout)
	}
	return cfg, nil
}

// loggingFlags binds mode/log flags whose defaults depend on the mode.
type loggingFlags struct {
	mode      string
	logFormat string
	logLevel  string
}

func bindLoggingFlags(fs *pflag.FlagSet, lookup func(string) (string, bool)) *loggingFlags {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	lf := &loggingFlags{
		mode:      modeDefault,
		logFormat: envOrDefault(lookup, envVarLogFormat, ""),
		logLevel:  envOrDefault(lookup, envVarLogLevel, ""),
	}
	fs.StringVar(&lf.mode, "mode", lf.mode, "Deployment mode: dev or prod")
	fs.StringVar(&lf.logFormat, "log-format", lf.logFormat, "Log format: text or json (default depends on --mode)")
	fs.StringVar(&lf.logLevel, "log-level", lf.logLevel, "Log level: debug, info, warn, error (default depends on --mode)")
	return lf
}

func (lf *loggingFlags) resolve() (Logging, error) {
	mode, err := parseMode(lf.mode)
	if err != nil {
		return Logging{}, err
	}
	formatStr := lf.logFormat
	if strings.TrimSpace(formatStr) == "" {
		formatStr = defaultLogFormatForMode(mode)
	}
	format, err := parseLogFormat(formatStr)
	if err != nil {
		return Logging{}, err
	}
	levelStr := lf.logLevel
	if strings.TrimSpace(levelStr) == "" {
		levelStr = defaultLogLevelForMode(mode)
	}
	level, err := parseLogLevel(levelStr)
	if err != nil {
		return Logging{}, err
	}
	return Logging{Mode: mode, LogFormat: format, LogLevel: level}, nil
}

func NewLogger(cfg Logging) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModePassword):
		return AuthModePassword, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModePassword, AuthModeJWT)
	}
}

// parseUsers parses "alice:secret,bob:hunter2". Passwords may contain ':'.
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range splitCommaSeparated(raw) {
		name, password, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || password == "" {
			return nil, fmt.Errorf("entry %q: expected username:password", entry)
		}
		if _, dup := users[name]; dup {
			return nil, fmt.Errorf("duplicate user %q", name)
		}
		users[name] = password
	}
	if len(users) == 0 {
		return nil, errors.New("at least one user is required")
	}
	return users, nil
}

// UserNames returns the configured usernames in sorted order.
func (c Config) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for name := range c.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}

func normalizeOriginValue(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if raw == "null" {
		return "null", nil
	}

	normalized, _, ok := origin.NormalizeHeader(raw)
	if !ok {
		return "", fmt.Errorf("expected full origin like https://example.com")
	}
	return normalized, nil
}
