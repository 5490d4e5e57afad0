package apierr

import "testing"

func TestHTTPStatusDerivesFromKind(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Unauthorized("no key"), 401},
		{Throttled("slow down", 5), 429},
		{BadRequest("nope"), 400},
		{Upstream("boom", nil), 502},
		{Unavailable("down", nil), 503},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.want {
			t.Fatalf("kind %v: got status %d, want %d", c.err.Kind, got, c.want)
		}
	}
}

func TestBadRequestWithStatusOverridesDerivation(t *testing.T) {
	err := BadRequestWithStatus(415, "bad content type")
	if err.HTTPStatus() != 415 {
		t.Fatalf("expected explicit status to win, got %d", err.HTTPStatus())
	}
}

func TestAsExtractsTypedError(t *testing.T) {
	wrapped := Unauthorized("missing key")
	e, ok := As(wrapped)
	if !ok || e.Kind != KindUnauthorized {
		t.Fatalf("expected to extract unauthorized error, got %+v ok=%v", e, ok)
	}

	if _, ok := As(nil); ok {
		t.Fatal("As(nil) should report ok=false")
	}
}
