package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478"]},
	  {"urls": "turn:turn.example.com:3478?transport=udp", "username": "user", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"not json":         `{`,
		"no urls":          `[{"urls": []}]`,
		"bad scheme":       `[{"urls": "http://example.com"}]`,
		"turn no creds":    `[{"urls": "turn:turn.example.com"}]`,
		"turn no password": `[{"urls": "turns:turn.example.com", "username": "u"}]`,
	} {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestICEServersFromURLs(t *testing.T) {
	t.Parallel()

	servers, err := ICEServersFromURLs("stun:a.example.com, stun:b.example.com", "turn:t.example.com", "u", "p")
	if err != nil {
		t.Fatalf("ICEServersFromURLs: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:b.example.com" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if servers[1].Username != "u" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}
}

func TestParseICEServersFromValues_JSONWins(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example.com"}]`, "stun:env.example.com", "", "", "")
	if err != nil {
		t.Fatalf("parseICEServersFromValues: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
}
