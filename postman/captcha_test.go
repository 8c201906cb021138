package postman

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCaptchaKeysFallBackToEnvironment(t *testing.T) {
	t.Setenv("RECAPTCHA_SITE_KEY", "generic-site")
	t.Setenv("RECAPTCHA_SECRET_KEY", "generic-secret")
	t.Setenv("RECAPTCHA_3_SITE_KEY", "v3-site")

	c := NewReCaptcha3("", "")

	// the versioned variable wins over the generic one
	if c.SiteKey() != "v3-site" {
		t.Errorf("got site key %q", c.SiteKey())
	}
	if !c.Active() {
		t.Error("both keys resolved, captcha should be active")
	}

	explicit := NewReCaptcha3("explicit-site", "explicit-secret")
	if explicit.SiteKey() != "explicit-site" {
		t.Error("explicit keys must not be overridden by the environment")
	}
}

func TestCaptchaMisconfiguredMeansHalfConfigured(t *testing.T) {
	tests := []struct {
		site, secret  string
		active        bool
		misconfigured bool
	}{
		{"", "", false, false},
		{"site", "", false, true},
		{"", "secret", false, true},
		{"site", "secret", true, false},
	}

	for _, tt := range tests {
		c := NewTurnstile(tt.site, tt.secret)
		if c.Active() != tt.active {
			t.Errorf("site=%q secret=%q: active=%v", tt.site, tt.secret, c.Active())
		}
		if c.Misconfigured() != tt.misconfigured {
			t.Errorf("site=%q secret=%q: misconfigured=%v", tt.site, tt.secret, c.Misconfigured())
		}
	}
}

func TestVerifyInactiveCaptcha(t *testing.T) {
	c := NewTurnstile("", "")

	_, err := c.Verify(context.Background(), "token", "")
	if !errors.Is(err, ErrCaptchaInactive) {
		t.Errorf("got %v, want ErrCaptchaInactive", err)
	}
}

func TestVerifySendsTokenAndRemoteIP(t *testing.T) {
	var seen map[string]string

	verifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		seen = map[string]string{
			"secret":   r.PostForm.Get("secret"),
			"response": r.PostForm.Get("response"),
			"remoteip": r.PostForm.Get("remoteip"),
		}
		w.Write([]byte(`{"success": true}`))
	}))
	defer verifier.Close()

	c := NewTurnstile("site", "secret")
	c.endpoint = verifier.URL

	ok, err := c.Verify(context.Background(), "the-token", "203.0.113.9")
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	if seen["secret"] != "secret" || seen["response"] != "the-token" || seen["remoteip"] != "203.0.113.9" {
		t.Errorf("unexpected verification request: %v", seen)
	}
}

func TestRemoteIPPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.0.2.1:50000"

	if got := RemoteIP(r); got != "192.0.2.1" {
		t.Errorf("connection address: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := RemoteIP(r); got != "203.0.113.7" {
		t.Errorf("forwarded-for should win over the connection: got %q", got)
	}

	r.Header.Set("Client-IP", "198.51.100.2")
	if got := RemoteIP(r); got != "198.51.100.2" {
		t.Errorf("client-ip should win over forwarded-for: got %q", got)
	}
}

func TestFormRegistryMergesIdempotently(t *testing.T) {
	reg := NewFormRegistry()

	reg.Add("key-a", "contact")
	reg.Add("key-a", "contact")
	reg.Add("key-a", "booking")
	reg.Add("key-b", "newsletter")

	forms := reg.Forms()

	if got := forms["key-a"]; len(got) != 2 || got[0] != "booking" || got[1] != "contact" {
		t.Errorf("key-a forms: %v", got)
	}
	if got := forms["key-b"]; len(got) != 1 || got[0] != "newsletter" {
		t.Errorf("key-b forms: %v", got)
	}

	// callers get a copy
	forms["key-a"] = nil
	if got := reg.Forms()["key-a"]; len(got) != 2 {
		t.Error("mutating the returned map must not affect the registry")
	}
}
