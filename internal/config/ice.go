package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICE server sources, in priority order: the JSON list wins over the
// STUN/TURN convenience variables.
const (
	envICEServersJSON = "WEBRTC_CALL_ICE_SERVERS_JSON"

	envStunURLs       = "WEBRTC_CALL_STUN_URLS"
	envTurnURLs       = "WEBRTC_CALL_TURN_URLS"
	envTurnUsername   = "WEBRTC_CALL_TURN_USERNAME"
	envTurnCredential = "WEBRTC_CALL_TURN_CREDENTIAL"
)

// DefaultSTUNURL is used when no ICE server is configured at all.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	servers, err := ICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}
	}
	return servers, nil
}

type iceServerJSON struct {
	URLs       stringList `json:"urls"`
	Username   string     `json:"username,omitempty"`
	Credential string     `json:"credential,omitempty"`
}

// stringList accepts either a JSON string or an array of strings, matching
// the RTCIceServer.urls shape browsers accept.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a JSON array of RTCIceServer-shaped objects.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var in []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(in))
	for i, entry := range in {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(entry.URLs, ",")),
			Username: strings.TrimSpace(entry.Username),
		}
		if strings.TrimSpace(entry.Credential) != "" {
			server.Credential = entry.Credential
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ICEServersFromURLs builds at most one STUN and one TURN entry from
// comma-separated URL lists. TURN URLs need both a username and a credential.
func ICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("%s and %s must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: turnUsername, Credential: turnCredential}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, url := range server.URLs {
		scheme, _, ok := strings.Cut(url, ":")
		if !ok {
			return fmt.Errorf("url without scheme: %q", url)
		}
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if needsCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
