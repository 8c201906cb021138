package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/castlegate/mailroom/postman"
	"gopkg.in/yaml.v3"
)

// SiteConfig carries the site-wide settings used to fill in form
// defaults and the spam screener parameters.
type SiteConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	AdminEmail string `yaml:"admin_email"`
	Locale     string `yaml:"locale"`
}

// CaptchaConfig enables one challenge-response verifier for a form.
// Empty keys fall back to the environment.
type CaptchaConfig struct {
	Kind      string `yaml:"kind"`
	SiteKey   string `yaml:"site_key"`
	SecretKey string `yaml:"secret_key"`
}

// AkismetConfig enables reputation screening for a form. Fields maps
// screener parameters to form field names.
type AkismetConfig struct {
	Key    string              `yaml:"key"`
	Type   string              `yaml:"type"`
	Fields map[string][]string `yaml:"fields"`
}

// RuleConfig declares a single constraint. Exactly one attribute must
// be set per entry.
type RuleConfig struct {
	Type      string   `yaml:"type"`
	MaxLength *int     `yaml:"maxlength"`
	MinLength *int     `yaml:"minlength"`
	Max       *float64 `yaml:"max"`
	Min       *float64 `yaml:"min"`
	Pattern   string   `yaml:"pattern"`
	Match     string   `yaml:"match"`
	Function  string   `yaml:"function"`
}

type FieldConfig struct {
	Name     string            `yaml:"name"`
	Label    string            `yaml:"label"`
	Required bool              `yaml:"required"`
	Exclude  bool              `yaml:"exclude"`
	Default  string            `yaml:"default"`
	Error    string            `yaml:"error"`
	Errors   map[string]string `yaml:"errors"`
	Rules    []RuleConfig      `yaml:"rules"`
}

type FormConfig struct {
	ID            string            `yaml:"id"`
	Method        string            `yaml:"method"`
	To            string            `yaml:"to"`
	From          string            `yaml:"from"`
	Subject       string            `yaml:"subject"`
	ErrorMessage  string            `yaml:"error_message"`
	ErrorTemplate string            `yaml:"error_template"`
	Headers       map[string]string `yaml:"headers"`
	DisableLogs   bool              `yaml:"disable_logs"`
	Captcha       *CaptchaConfig    `yaml:"captcha"`
	Akismet       *AkismetConfig    `yaml:"akismet"`
	Fields        []FieldConfig     `yaml:"fields"`
}

// FormSet is the parsed content of the form definition file.
type FormSet struct {
	Site  SiteConfig   `yaml:"site"`
	Forms []FormConfig `yaml:"forms"`
}

// LoadFormSet reads and validates a YAML form definition file.
func LoadFormSet(path string) (*FormSet, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseFormSet(buf)
}

// ParseFormSet parses a YAML form definition.
func ParseFormSet(buf []byte) (*FormSet, error) {
	var fs FormSet

	if err := yaml.Unmarshal(buf, &fs); err != nil {
		return nil, fmt.Errorf("cannot parse form definitions: %w", err)
	}

	seen := make(map[string]bool)

	for _, form := range fs.Forms {
		if form.ID == "" {
			return nil, fmt.Errorf("form without id")
		}
		if seen[form.ID] {
			return nil, fmt.Errorf("form %s: duplicate id", form.ID)
		}
		seen[form.ID] = true

		if err := validateForm(&form); err != nil {
			return nil, fmt.Errorf("form %s: %w", form.ID, err)
		}
	}

	return &fs, nil
}

func validateForm(form *FormConfig) error {
	if form.Captcha != nil {
		switch form.Captcha.Kind {
		case "turnstile", "recaptcha2", "recaptcha3":
		default:
			return fmt.Errorf("unknown captcha kind %q", form.Captcha.Kind)
		}
	}

	for _, field := range form.Fields {
		if field.Name == "" {
			return fmt.Errorf("field without name")
		}

		for _, rule := range field.Rules {
			if err := validateRule(rule); err != nil {
				return fmt.Errorf("field %s: %w", field.Name, err)
			}
		}
	}

	return nil
}

func validateRule(rc RuleConfig) error {
	n := 0
	if rc.Type != "" {
		switch rc.Type {
		case postman.TypeEmail, postman.TypeNumber, postman.TypeTel, postman.TypeURL:
		default:
			return fmt.Errorf("unknown value type %q", rc.Type)
		}
		n++
	}
	if rc.MaxLength != nil {
		n++
	}
	if rc.MinLength != nil {
		n++
	}
	if rc.Max != nil {
		n++
	}
	if rc.Min != nil {
		n++
	}
	if rc.Pattern != "" {
		if _, err := regexp.Compile(rc.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		n++
	}
	if rc.Match != "" {
		n++
	}
	if rc.Function != "" {
		n++
	}

	if n != 1 {
		return fmt.Errorf("rule must declare exactly one constraint")
	}

	return nil
}

// Find returns the form definition with the given id, or nil.
func (fs *FormSet) Find(id string) *FormConfig {
	for i := range fs.Forms {
		if fs.Forms[i].ID == id {
			return &fs.Forms[i]
		}
	}
	return nil
}

// Build assembles a form pipeline from a definition, filling in the
// site-wide mail defaults: recipient is the admin address, sender is a
// postman address on the site domain and the subject names the site.
func (fs *FormSet) Build(cfg *FormConfig, options ...postman.Option) *postman.Postman {
	if cfg.Method != "" {
		options = append(options, postman.WithMethod(cfg.Method))
	}

	p := postman.New(cfg.ID, options...)

	p.To = cfg.To
	if p.To == "" {
		p.To = fs.Site.AdminEmail
	}

	p.From = cfg.From
	if p.From == "" {
		p.From = defaultSender(fs.Site.URL)
	}

	p.Subject = cfg.Subject
	if p.Subject == "" {
		p.Subject = fmt.Sprintf("[%s] Website Enquiry", fs.Site.Name)
	}

	if cfg.ErrorMessage != "" {
		p.ErrorMessage = cfg.ErrorMessage
	}
	p.ErrorTemplate = cfg.ErrorTemplate

	for key, value := range cfg.Headers {
		p.Header(key, value)
	}

	if cfg.DisableLogs {
		p.DisableLogs()
	}

	for _, field := range cfg.Fields {
		p.AddField(postman.Field{
			Name:     field.Name,
			Label:    field.Label,
			Required: field.Required,
			Exclude:  field.Exclude,
			Default:  field.Default,
			Error:    field.Error,
			Errors:   field.Errors,
			Rules:    buildRules(field.Rules),
		})
	}

	if cfg.Captcha != nil {
		switch cfg.Captcha.Kind {
		case "turnstile":
			p.EnableTurnstile(cfg.Captcha.SiteKey, cfg.Captcha.SecretKey)
		case "recaptcha2":
			p.EnableReCaptcha2(cfg.Captcha.SiteKey, cfg.Captcha.SecretKey)
		case "recaptcha3":
			p.EnableReCaptcha3(cfg.Captcha.SiteKey, cfg.Captcha.SecretKey)
		}
	}

	if cfg.Akismet != nil {
		lang, _, _ := strings.Cut(fs.Site.Locale, "_")
		screener := postman.NewSpamScreener(cfg.Akismet.Key, fs.Site.URL,
			postman.WithBlogLocale(lang, "UTF-8"),
		)
		p.EnableSpamScreening(screener, cfg.Akismet.Type, cfg.Akismet.Fields)
	}

	return p
}

func buildRules(configs []RuleConfig) []postman.Rule {
	var rules []postman.Rule

	for _, rc := range configs {
		switch {
		case rc.Type != "":
			rules = append(rules, postman.Type(rc.Type))
		case rc.MaxLength != nil:
			rules = append(rules, postman.MaxLength(*rc.MaxLength))
		case rc.MinLength != nil:
			rules = append(rules, postman.MinLength(*rc.MinLength))
		case rc.Max != nil:
			rules = append(rules, postman.Max(*rc.Max))
		case rc.Min != nil:
			rules = append(rules, postman.Min(*rc.Min))
		case rc.Pattern != "":
			rules = append(rules, postman.Pattern(rc.Pattern))
		case rc.Match != "":
			rules = append(rules, postman.MatchField(rc.Match))
		case rc.Function != "":
			rules = append(rules, postman.Function(rc.Function))
		}
	}

	return rules
}

// defaultSender derives a no-reply style sender address from the site
// URL, stripping any scheme and www prefix.
func defaultSender(siteURL string) string {
	host := siteURL

	if u, err := url.Parse(siteURL); err == nil && u.Host != "" {
		host = u.Host
	}

	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	return "postman@" + host
}
