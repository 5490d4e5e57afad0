package config

import "testing"

func TestValidateBaseURL(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"origin only", "https://api.example.com", false},
		{"origin with trailing slash", "https://api.example.com/", false},
		{"with path", "https://api.example.com/v1", true},
		{"with query", "https://api.example.com?x=1", true},
		{"no scheme", "api.example.com", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBaseURL(tc.raw)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q, got nil", tc.raw)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.raw, err)
			}
		})
	}
}

func TestCacheBypassPaths(t *testing.T) {
	c := &Config{CacheBypassPathsRaw: " /a , /b/c ,, /d "}
	got := c.CacheBypassPaths()
	want := []string{"/a", "/b/c", "/d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCacheBypassPathsEmpty(t *testing.T) {
	c := &Config{}
	if got := c.CacheBypassPaths(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
