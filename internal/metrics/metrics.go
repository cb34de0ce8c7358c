package metrics

import "sync"

// Relay events.
const (
	ParticipantsConnected    = "participants_connected"
	ParticipantsDisconnected = "participants_disconnected"
	MessagesRouted           = "messages_routed"
	DropReasonUnknownTarget  = "drop_unknown_target"
	DropReasonMalformed      = "drop_malformed"
	DropReasonClientPresence = "drop_client_presence"
	DropReasonRateLimited    = "drop_rate_limited"
	DropReasonQueueFull      = "drop_queue_full"
	DropReasonDuplicateLogin = "drop_duplicate_login"
	DropReasonTooManyClients = "drop_too_many_participants"
	AuthFailures             = "auth_failures"
)

// Call events.
const (
	DecodeErrors         = "decode_errors"
	MessagesRejected     = "messages_rejected"
	CandidateApplyErrors = "candidate_apply_errors"
	CandidatesBuffered   = "candidates_buffered"
	SessionsStarted      = "sessions_started"
	SessionsConnected    = "sessions_connected"
	SessionsFailed       = "sessions_failed"
	SessionsClosed       = "sessions_closed"
	StaleStepResults     = "stale_step_results"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics
// ignores updates.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
