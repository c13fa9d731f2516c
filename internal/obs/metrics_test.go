package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/sessions":              "/v1/sessions",
		"/v1/sessions/abc-123":      "/v1/sessions/:id",
		"/v1/sessions/current":      "/v1/sessions/current",
		"/v1/sessions/others":       "/v1/sessions/others",
		"/v1/sessions/abc?limit=10": "/v1/sessions/:id",
		"/healthz":                  "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
