package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantOrigin string
		wantHost   string
		wantOK     bool
	}{
		{"simple http", "http://example.com", "http://example.com", "example.com", true},
		{"uppercase host", "https://ChatApp.Example.COM", "https://chatapp.example.com", "chatapp.example.com", true},
		{"default http port stripped", "http://example.com:80", "http://example.com", "example.com", true},
		{"default https port stripped", "https://example.com:443", "https://example.com", "example.com", true},
		{"custom port kept", "http://localhost:3000", "http://localhost:3000", "localhost:3000", true},
		{"ipv6 literal", "http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"null origin", "null", "null", "", true},
		{"trailing slash ok", "http://example.com/", "http://example.com", "example.com", true},
		{"path rejected", "http://example.com/app", "", "", false},
		{"query rejected", "http://example.com?x=1", "", "", false},
		{"userinfo rejected", "http://user@example.com", "", "", false},
		{"ws scheme rejected", "ws://example.com", "", "", false},
		{"empty", "", "", "", false},
		{"garbage", "not a url", "", "", false},
		{"zero port rejected", "http://example.com:0", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOrigin, gotHost, ok := Normalize(tt.header)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if gotOrigin != tt.wantOrigin || gotHost != tt.wantHost {
				t.Fatalf("got (%q, %q), want (%q, %q)", gotOrigin, gotHost, tt.wantOrigin, tt.wantHost)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		requestHost string
		allowlist   []string
		want        bool
	}{
		{"allowlist exact match", "http://localhost:3000", "relay.internal:8080", []string{"http://localhost:3000"}, true},
		{"allowlist wildcard", "https://anything.example", "relay.internal", []string{"*"}, true},
		{"allowlist miss", "http://evil.example", "relay.internal", []string{"http://localhost:3000"}, false},
		{"same host default", "http://relay.example:8080", "relay.example:8080", nil, true},
		{"same host default port equivalence", "https://relay.example", "relay.example:443", nil, true},
		{"cross host default", "http://other.example", "relay.example", nil, false},
		{"null origin never matches host", "null", "relay.example", nil, false},
		{"null origin allowlisted", "null", "relay.example", []string{"null"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, host, ok := Normalize(tt.origin)
			if !ok {
				t.Fatalf("Normalize(%q) failed", tt.origin)
			}
			if got := Allowed(normalized, host, tt.requestHost, tt.allowlist); got != tt.want {
				t.Fatalf("Allowed=%v, want %v", got, tt.want)
			}
		})
	}
}
