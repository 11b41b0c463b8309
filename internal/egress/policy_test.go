package egress

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"webweaver/engine/internal/llm"
)

type okRT struct{ calls int }

func (r *okRT) RoundTrip(req *http.Request) (*http.Response, error) {
	r.calls++
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header)}, nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestPolicyCheck(t *testing.T) {
	p := NewPolicy("api.openai.com", "ESM.SH")

	if err := p.Check(mustURL(t, "https://api.openai.com/v1/models")); err != nil {
		t.Fatalf("allowed host refused: %v", err)
	}
	if err := p.Check(mustURL(t, "https://esm.sh/react@18.3.1")); err != nil {
		t.Fatalf("host matching must ignore case: %v", err)
	}

	cases := map[string]string{
		"plain http":   "http://api.openai.com/v1/models",
		"unknown host": "https://evil.example.com/",
		"ip literal":   "https://93.184.216.34/",
		"empty host":   "https:///nope",
	}
	for name, raw := range cases {
		if err := p.Check(mustURL(t, raw)); !errors.Is(err, llm.ErrEgressBlocked) {
			t.Fatalf("%s: expected egress blocked, got %v", name, err)
		}
	}
	if err := p.Check(nil); !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("nil url: expected egress blocked, got %v", err)
	}
}

func TestTransportRefusesBeforeDialing(t *testing.T) {
	base := &okRT{}
	rt := NewPolicy("api.openai.com").Transport(base)

	req, _ := http.NewRequest(http.MethodGet, "https://api.openai.com/v1/models", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("allowed request failed: %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected base round trip, got %d calls", base.calls)
	}

	blocked, _ := http.NewRequest(http.MethodGet, "https://elsewhere.example.com/", nil)
	if _, err := rt.RoundTrip(blocked); !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("expected egress blocked, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("blocked request must not reach the base transport, got %d calls", base.calls)
	}
}
