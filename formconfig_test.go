package main

import (
	"strings"
	"testing"

	"github.com/castlegate/mailroom/postman"
)

const testFormSet = `
site:
  name: Example Corp
  url: https://www.example.com
  admin_email: admin@example.com
  locale: en_GB

forms:
  - id: contact
    fields:
      - name: visitor
        label: Your name
        required: true
      - name: email
        label: Email
        required: true
        rules:
          - type: email
      - name: message
        label: Message
        rules:
          - maxlength: 2000
      - name: submit-button
        exclude: true

  - id: booking
    method: get
    to: bookings@example.com
    subject: New booking
    error_template: "<span>%s</span>"
    captcha:
      kind: turnstile
      site_key: site-key
      secret_key: secret-key
    fields:
      - name: date
        required: true
`

func TestParseFormSet(t *testing.T) {
	fs, err := ParseFormSet([]byte(testFormSet))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(fs.Forms) != 2 {
		t.Fatalf("expected 2 forms, got %d", len(fs.Forms))
	}
	if fs.Site.Name != "Example Corp" || fs.Site.AdminEmail != "admin@example.com" {
		t.Errorf("site config mismatch: %+v", fs.Site)
	}

	contact := fs.Find("contact")
	if contact == nil {
		t.Fatal("contact form not found")
	}
	if len(contact.Fields) != 4 {
		t.Errorf("expected 4 fields, got %d", len(contact.Fields))
	}

	if fs.Find("missing") != nil {
		t.Error("unknown id should return nil")
	}
}

func TestParseFormSetRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"duplicate id",
			"forms:\n  - id: a\n  - id: a\n",
			"duplicate id",
		},
		{
			"missing id",
			"forms:\n  - method: post\n",
			"without id",
		},
		{
			"unknown captcha kind",
			"forms:\n  - id: a\n    captcha:\n      kind: hcaptcha\n",
			"unknown captcha kind",
		},
		{
			"unknown value type",
			"forms:\n  - id: a\n    fields:\n      - name: f\n        rules:\n          - type: date\n",
			"unknown value type",
		},
		{
			"invalid pattern",
			"forms:\n  - id: a\n    fields:\n      - name: f\n        rules:\n          - pattern: '['\n",
			"invalid pattern",
		},
		{
			"two constraints in one rule",
			"forms:\n  - id: a\n    fields:\n      - name: f\n        rules:\n          - maxlength: 10\n            minlength: 2\n",
			"exactly one constraint",
		},
		{
			"empty rule",
			"forms:\n  - id: a\n    fields:\n      - name: f\n        rules:\n          - {}\n",
			"exactly one constraint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFormSet([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildFillsSiteDefaults(t *testing.T) {
	fs, err := ParseFormSet([]byte(testFormSet))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	contact := fs.Build(fs.Find("contact"))

	if contact.To != "admin@example.com" {
		t.Errorf("recipient should default to the admin address, got %q", contact.To)
	}
	if contact.From != "postman@example.com" {
		t.Errorf("sender should be derived from the site url, got %q", contact.From)
	}
	if contact.Subject != "[Example Corp] Website Enquiry" {
		t.Errorf("subject should name the site, got %q", contact.Subject)
	}

	booking := fs.Build(fs.Find("booking"))

	if booking.To != "bookings@example.com" || booking.Subject != "New booking" {
		t.Errorf("explicit settings should win: to=%q subject=%q", booking.To, booking.Subject)
	}
	if booking.Method != "get" {
		t.Errorf("method should carry over, got %q", booking.Method)
	}
	if c := booking.Captcha(); c == nil || c.SiteKey() != "site-key" {
		t.Error("captcha should be enabled from the definition")
	}
}

func TestBuildRules(t *testing.T) {
	n := 2000
	rules := buildRules([]RuleConfig{
		{Type: postman.TypeEmail},
		{MaxLength: &n},
		{Pattern: "^[a-z]+$"},
		{Match: "email"},
	})

	if len(rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(rules))
	}

	want := []string{"type", "maxlength", "pattern", "match"}
	for i, rule := range rules {
		if rule.Name() != want[i] {
			t.Errorf("rule %d: got %q, want %q", i, rule.Name(), want[i])
		}
	}
}

func TestDefaultSenderStripsSchemeAndWWW(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.example.com", "postman@example.com"},
		{"https://example.com", "postman@example.com"},
		{"http://www.example.com:8080", "postman@example.com"},
		{"example.com", "postman@example.com"},
	}

	for _, tt := range tests {
		if got := defaultSender(tt.url); got != tt.want {
			t.Errorf("defaultSender(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
