package postman

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// Well-known challenge-response field names and verification endpoints.
const (
	ReCaptchaFieldName = "g-recaptcha-response"
	TurnstileFieldName = "cf-turnstile-response"

	recaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"
	turnstileEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
)

// ErrCaptchaInactive is returned by Verify when the captcha has no keys
// configured. The caller must check Active before treating the result
// as meaningful.
var ErrCaptchaInactive = errors.New("captcha not active")

// Captcha verifies a challenge-response token against a remote
// provider. Unlike the spam screener, captcha verification fails
// closed: a transport failure surfaces as "not validated", because the
// whole point of the widget is to block unverified traffic.
type Captcha struct {
	FieldName string

	siteKey   string
	secretKey string
	endpoint  string
	client    *http.Client
}

// newCaptcha builds a verifier, falling back to the named environment
// variables for each missing key. The first non-empty variable wins.
func newCaptcha(fieldName, endpoint, siteKey, secretKey string, siteVars, secretVars []string) *Captcha {
	if siteKey == "" {
		siteKey = firstEnv(siteVars)
	}
	if secretKey == "" {
		secretKey = firstEnv(secretVars)
	}

	return &Captcha{
		FieldName: fieldName,
		siteKey:   siteKey,
		secretKey: secretKey,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 8 * time.Second},
	}
}

// NewTurnstile creates a Cloudflare Turnstile verifier. Empty keys fall
// back to the TURNSTILE_SITE_KEY and TURNSTILE_SECRET_KEY environment
// variables.
func NewTurnstile(siteKey, secretKey string) *Captcha {
	return newCaptcha(TurnstileFieldName, turnstileEndpoint, siteKey, secretKey,
		[]string{"TURNSTILE_SITE_KEY"},
		[]string{"TURNSTILE_SECRET_KEY"})
}

// NewReCaptcha2 creates a ReCaptcha v2 verifier. Empty keys fall back
// to the RECAPTCHA_2_SITE_KEY then RECAPTCHA_SITE_KEY environment
// variables, and likewise for the secret key.
func NewReCaptcha2(siteKey, secretKey string) *Captcha {
	return newCaptcha(ReCaptchaFieldName, recaptchaEndpoint, siteKey, secretKey,
		[]string{"RECAPTCHA_2_SITE_KEY", "RECAPTCHA_SITE_KEY"},
		[]string{"RECAPTCHA_2_SECRET_KEY", "RECAPTCHA_SECRET_KEY"})
}

// NewReCaptcha3 creates a ReCaptcha v3 verifier. Empty keys fall back
// to the RECAPTCHA_3_SITE_KEY then RECAPTCHA_SITE_KEY environment
// variables, and likewise for the secret key.
func NewReCaptcha3(siteKey, secretKey string) *Captcha {
	return newCaptcha(ReCaptchaFieldName, recaptchaEndpoint, siteKey, secretKey,
		[]string{"RECAPTCHA_3_SITE_KEY", "RECAPTCHA_SITE_KEY"},
		[]string{"RECAPTCHA_3_SECRET_KEY", "RECAPTCHA_SECRET_KEY"})
}

// SiteKey returns the public key, for embedding in the client widget.
func (c *Captcha) SiteKey() string {
	return c.siteKey
}

// Active reports whether both keys are configured.
func (c *Captcha) Active() bool {
	return c.siteKey != "" && c.secretKey != ""
}

// Misconfigured reports whether exactly one of the two keys is set,
// which is a configuration error rather than an inactive verifier.
func (c *Captcha) Misconfigured() bool {
	return (c.siteKey == "") != (c.secretKey == "")
}

// Verify posts the response token and the client IP to the provider's
// verification endpoint and interprets the success flag in the JSON
// response. An inactive verifier returns ErrCaptchaInactive; a
// transport failure returns false with the underlying error.
func (c *Captcha) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !c.Active() {
		return false, ErrCaptchaInactive
	}

	form := url.Values{
		"secret":   {c.secretKey},
		"response": {token},
		"remoteip": {remoteIP},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}

	if !result.Success && len(result.ErrorCodes) > 0 {
		return false, errors.New("captcha rejected: " + strings.Join(result.ErrorCodes, ", "))
	}

	return result.Success, nil
}

// RemoteIP resolves the client address of a request by checking, in
// order, the Client-IP header, the X-Forwarded-For header, then the
// raw connection address. The first non-empty value wins. The headers
// are spoofable; this is a diagnostic aid, not a security boundary.
func RemoteIP(r *http.Request) string {
	if ip := r.Header.Get("Client-IP"); ip != "" {
		return ip
	}

	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.Index(ip, ","); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// FormRegistry accumulates form ID to site key associations across the
// forms created during a single page render, so that the client-side
// script can request background verification tokens for each of them.
// One registry is created per render and shared between form instances;
// registering the same form twice is a no-op.
type FormRegistry struct {
	forms map[string][]string
}

// NewFormRegistry creates an empty registry.
func NewFormRegistry() *FormRegistry {
	return &FormRegistry{forms: make(map[string][]string)}
}

// Add records a form ID under a site key. The merge is idempotent and
// keeps form IDs sorted.
func (reg *FormRegistry) Add(siteKey, formID string) {
	for _, id := range reg.forms[siteKey] {
		if id == formID {
			return
		}
	}

	reg.forms[siteKey] = append(reg.forms[siteKey], formID)
	sort.Strings(reg.forms[siteKey])
}

// Forms returns a copy of the registered associations.
func (reg *FormRegistry) Forms() map[string][]string {
	out := make(map[string][]string, len(reg.forms))
	for key, ids := range reg.forms {
		out[key] = append([]string(nil), ids...)
	}

	return out
}

func firstEnv(names []string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}

	return ""
}
