package providers

import "testing"

func TestCloudflareProviderBaseURLEmbedsAccount(t *testing.T) {
	p := NewCloudflareProvider(1, 0, "acct-123")
	if got := p.inner.baseURL; got == "" || got[len(got)-1] == '/' {
		t.Fatalf("unexpected base URL: %q", got)
	}
	if p.Name() != "cloudflare" {
		t.Fatalf("Name() = %q, want cloudflare", p.Name())
	}
	if p.SupportsCaching("any-model") {
		t.Error("cloudflare adapter should not claim cache support")
	}
	if p.SupportsVision("any-model") {
		t.Error("cloudflare adapter should not claim vision support")
	}
}
