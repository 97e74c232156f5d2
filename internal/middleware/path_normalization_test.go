package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Static routes pass through untouched.
		{"/", "/"},
		{"/api/v1/reports", "/api/v1/reports"},
		{"/api/v1/reports/recent", "/api/v1/reports/recent"},
		{"/api/v1/reports/user", "/api/v1/reports/user"},
		{"/api/v1/contacts", "/api/v1/contacts"},
		{"/api/v1/monitor", "/api/v1/monitor"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/metrics", "/metrics"},

		// Parameterized report routes.
		{"/api/v1/reports/radius/19.076/72.8777/5", "/api/v1/reports/radius/{lat}/{lng}/{distance}"},
		{"/api/v1/reports/radius/-33.8688/151.2093/10", "/api/v1/reports/radius/{lat}/{lng}/{distance}"},
		{"/api/v1/reports/550e8400-e29b-41d4-a716-446655440000", "/api/v1/reports/{id}"},
		{"/api/v1/reports/550e8400-e29b-41d4-a716-446655440000/status", "/api/v1/reports/{id}/status"},

		// Parameterized contact routes.
		{"/api/v1/contacts/contact-123", "/api/v1/contacts/{id}"},
		{"/api/v1/contacts/contact-123/primary", "/api/v1/contacts/{id}/primary"},

		{"/api/v1/reports/", "/api/v1/reports/"},
		{"/unknown/path", "/unknown/path"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNormalizePathRadiusCardinality(t *testing.T) {
	paths := []string{
		"/api/v1/reports/radius/19.076/72.8777/5",
		"/api/v1/reports/radius/28.6139/77.209/2",
		"/api/v1/reports/radius/51.5074/-0.1278/25",
		"/api/v1/reports/radius/0/0/1",
	}

	seen := make(map[string]bool)
	for _, path := range paths {
		seen[normalizePath(path)] = true
	}
	if len(seen) != 1 || !seen["/api/v1/reports/radius/{lat}/{lng}/{distance}"] {
		t.Errorf("radius queries normalized to %v, want a single pattern", seen)
	}
}
