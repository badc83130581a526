package broker

import "testing"

func TestHasCredentials(t *testing.T) {
	t.Parallel()

	a := NewAuth(Credentials{})
	if a.HasCredentials() {
		t.Fatal("expected no credentials on zero value")
	}

	a = NewAuth(Credentials{APIKey: "k", APISecret: "s"})
	if !a.HasCredentials() {
		t.Fatal("expected credentials to be present")
	}
}

func TestHeadersRequiresCredentials(t *testing.T) {
	t.Parallel()

	a := NewAuth(Credentials{})
	if _, err := a.Headers("GET", "/account", ""); err == nil {
		t.Fatal("expected error with no credentials configured")
	}
}

func TestHeadersAreDeterministicForSameInputs(t *testing.T) {
	t.Parallel()

	a := NewAuth(Credentials{APIKey: "k", APISecret: "c2VjcmV0"})
	h1, err := a.Headers("POST", "/orders", `{"symbol":"AAPL"}`)
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if h1["X-API-KEY"] != "k" {
		t.Fatalf("got api key header %q, want %q", h1["X-API-KEY"], "k")
	}
	if h1["X-SIGNATURE"] == "" || h1["X-TIMESTAMP"] == "" {
		t.Fatal("expected non-empty signature and timestamp headers")
	}

	s1, _ := a.sign("1700000000", "POST", "/orders", `{"symbol":"AAPL"}`)
	s2, _ := a.sign("1700000000", "POST", "/orders", `{"symbol":"AAPL"}`)
	if s1 != s2 {
		t.Fatal("expected identical signatures for identical inputs")
	}
}

func TestHeadersDifferByPath(t *testing.T) {
	t.Parallel()

	a := NewAuth(Credentials{APIKey: "k", APISecret: "c2VjcmV0"})
	h1, _ := a.Headers("GET", "/account", "")
	h2, _ := a.Headers("GET", "/positions", "")
	if h1["X-SIGNATURE"] == h2["X-SIGNATURE"] {
		t.Fatal("expected different signatures for different request paths")
	}
}
