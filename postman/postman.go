// Package postman processes contact-form submissions: it collects
// submitted field data, validates it against declarative per-field
// rules, optionally screens it through anti-spam and challenge-response
// services, assembles an email message, dispatches it and persists a
// record of the submission.
package postman

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// MarkerParam is the reserved request parameter that carries a form ID.
// A request is a submission for a form when this parameter equals the
// form's configured identifier.
const MarkerParam = "postman_form_id"

// captchaPredicate is the reserved predicate name backing the synthetic
// captcha field.
const captchaPredicate = "postman_captcha"

// Default user-facing error messages.
const (
	defaultErrorMessage    = "Invalid input"
	recaptcha2ErrorMessage = "Please confirm you are not a robot"
	recaptcha3ErrorMessage = "An issue occurred during the validation process. Please try again."
	turnstileErrorMessage  = "Please complete the verification and try again."
	spamErrorMessage       = "Your message appears to be spam. Please check it and try again."
)

// Postman drives the submission pipeline for a single form: it owns the
// field schema, reads the request data, runs per-field validation,
// coordinates the external verifiers, and on success assembles and
// delivers the message and persists a log entry.
//
// A Postman is set up once (fields, verifiers, mail settings) and then
// asked to handle at most one submission per request lifecycle; it holds
// no locks because the host processes one request per instance.
type Postman struct {
	// ID is the unique form identifier matched against the marker
	// parameter.
	ID string

	// Method selects the request bucket the fields are read from:
	// "post" (default) or "get".
	Method string

	// ErrorMessage is the form-wide default validation message.
	ErrorMessage string

	// ErrorTemplate optionally wraps user-facing error messages. It
	// must contain a %s placeholder; anything else is ignored.
	ErrorTemplate string

	// Mail settings. From, Cc and Bcc are folded into the headers at
	// send time.
	To      string
	From    string
	Subject string

	headers map[string]string

	fields []*Field
	index  map[string]*Field

	predicates map[string]Predicate

	data url.Values
	errs map[string]string

	submitted bool
	attempted bool
	sent      bool

	logsEnabled bool

	validator Validator
	mailer    Mailer
	store     LogStore
	hooks     *Hooks
	logger    *log.Logger

	captcha           *Captcha
	captchaErrMessage string
	registry          *FormRegistry

	screener     *SpamScreener
	screenerType string
	screenerMap  map[string][]string
	SpamMessage  string

	// Host request metadata recorded with each log entry.
	SiteID int
	PostID int
	UserID int

	now func() time.Time
}

// Option configures a Postman.
type Option func(*Postman)

// WithMethod selects "get" or "post" (case-insensitive) as the request
// bucket.
func WithMethod(method string) Option {
	return func(p *Postman) { p.Method = strings.ToLower(method) }
}

// WithValidator injects a validator capability. The default is a
// RuleValidator with the system resolver.
func WithValidator(v Validator) Option {
	return func(p *Postman) { p.validator = v }
}

// WithMailer injects the mail-transport capability.
func WithMailer(m Mailer) Option {
	return func(p *Postman) { p.mailer = m }
}

// WithStore injects the persistence store for submission logs.
func WithStore(s LogStore) Option {
	return func(p *Postman) { p.store = s }
}

// WithHooks attaches an extension-point registry, which may be shared
// between several forms.
func WithHooks(h *Hooks) Option {
	return func(p *Postman) { p.hooks = h }
}

// WithLogger sets the logger used for operator-facing diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(p *Postman) { p.logger = logger }
}

// WithFormRegistry attaches the per-render registry used by the
// background (v3) captcha integration.
func WithFormRegistry(reg *FormRegistry) Option {
	return func(p *Postman) { p.registry = reg }
}

// New creates a form with the given identifier. Mail settings default
// to empty and should be set by the caller before a submission is
// processed.
func New(id string, options ...Option) *Postman {
	p := &Postman{
		ID:           id,
		Method:       "post",
		ErrorMessage: defaultErrorMessage,
		SpamMessage:  spamErrorMessage,

		headers:     make(map[string]string),
		index:       make(map[string]*Field),
		predicates:  make(map[string]Predicate),
		data:        url.Values{},
		errs:        make(map[string]string),
		logsEnabled: true,

		hooks:  NewHooks(),
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),

		now: time.Now,
	}

	for _, o := range options {
		o(p)
	}

	if p.validator == nil {
		p.validator = NewRuleValidator()
	}

	return p
}

// Header adds or changes a mail header.
func (p *Postman) Header(key, value string) {
	p.headers[key] = value
}

// AddField registers a field. A reserved name is refused with a warning
// and the field is skipped; re-registering an existing name replaces
// the definition in place.
func (p *Postman) AddField(f Field) {
	if IsReservedName(f.Name) {
		p.logger.Printf("cannot use reserved field name %q", f.Name)
		return
	}

	if existing, ok := p.index[f.Name]; ok {
		*existing = f
		return
	}

	field := f
	p.fields = append(p.fields, &field)
	p.index[f.Name] = &field
}

// AddFields registers several fields in order.
func (p *Postman) AddFields(fields ...Field) {
	for _, f := range fields {
		p.AddField(f)
	}
}

// RegisterPredicate registers a named predicate for Function rules.
func (p *Postman) RegisterPredicate(name string, fn Predicate) {
	p.predicates[name] = fn
}

// EnableLogs enables submission logging (the default).
func (p *Postman) EnableLogs() { p.logsEnabled = true }

// DisableLogs disables submission logging for this form instance.
func (p *Postman) DisableLogs() { p.logsEnabled = false }

// EnableTurnstile enables the Cloudflare Turnstile challenge for this
// form. Keys fall back to environment variables.
func (p *Postman) EnableTurnstile(siteKey, secretKey string) {
	p.setCaptcha(NewTurnstile(siteKey, secretKey), turnstileErrorMessage)
}

// EnableReCaptcha2 enables the interactive (v2) ReCaptcha challenge.
func (p *Postman) EnableReCaptcha2(siteKey, secretKey string) {
	p.setCaptcha(NewReCaptcha2(siteKey, secretKey), recaptcha2ErrorMessage)
}

// EnableReCaptcha3 enables the background (v3) ReCaptcha challenge and
// records the form in the render registry so the client script can
// fetch a token for it.
func (p *Postman) EnableReCaptcha3(siteKey, secretKey string) {
	p.setCaptcha(NewReCaptcha3(siteKey, secretKey), recaptcha3ErrorMessage)

	if p.registry != nil && p.captcha != nil && p.captcha.SiteKey() != "" {
		p.registry.Add(p.captcha.SiteKey(), p.ID)
	}
}

// EnableReCaptcha enables the interactive ReCaptcha challenge.
//
// Deprecated: use EnableReCaptcha2.
func (p *Postman) EnableReCaptcha(siteKey, secretKey string) {
	p.EnableReCaptcha2(siteKey, secretKey)
}

func (p *Postman) setCaptcha(c *Captcha, message string) {
	if p.captcha != nil {
		p.logger.Println("captcha already enabled")
		return
	}

	p.captcha = c
	p.captchaErrMessage = message
}

// HasCaptcha reports whether a challenge verifier is enabled and fully
// configured.
func (p *Postman) HasCaptcha() bool {
	return p.captcha != nil && p.captcha.Active()
}

// Captcha returns the enabled challenge verifier, or nil.
func (p *Postman) Captcha() *Captcha {
	return p.captcha
}

// EnableSpamScreening enables the reputation screener. The commentType
// must be one of the provider's submission types (comment, forum-post,
// reply, blog-post, contact-form, signup, or message). The field map
// associates screener parameters with form field names; mapping a
// parameter to several fields concatenates their values.
func (p *Postman) EnableSpamScreening(s *SpamScreener, commentType string, fieldMap map[string][]string) {
	p.screener = s
	p.screenerType = commentType
	p.screenerMap = fieldMap
}

// Value returns the current value of a field: the submitted value if
// present, the field default otherwise. The value is escaped for HTML
// output and passed through the field's value filters.
func (p *Postman) Value(name string) string {
	value := ""

	if f, ok := p.index[name]; ok {
		if len(f.value) > 0 {
			value = strings.Join(f.value, ", ")
		} else {
			value = f.Default
		}
	}

	value = html.EscapeString(value)

	return p.hooks.applyString(p.hooks.value[name], value, p.ID)
}

// Error returns the error message for a field, or the empty string. If
// ErrorTemplate contains a %s placeholder it is applied to the message.
// The name "recaptcha" is an alias for the captcha field name.
func (p *Postman) Error(name string) string {
	if name == "recaptcha" && p.captcha != nil {
		name = p.captcha.FieldName
	}

	msg, ok := p.errs[name]
	if !ok {
		return ""
	}

	if strings.Contains(p.ErrorTemplate, "%s") {
		msg = fmt.Sprintf(p.ErrorTemplate, msg)
	}

	return p.hooks.applyString(p.hooks.errorMsg[name], msg, p.ID)
}

// Errors returns the user-facing error messages of the last submission
// keyed by field name, with the error template and filters applied.
func (p *Postman) Errors() map[string]string {
	out := make(map[string]string, len(p.errs))
	for name := range p.errs {
		out[name] = p.Error(name)
	}
	return out
}

// HasErrors reports whether the last submission accumulated errors.
func (p *Postman) HasErrors() bool {
	return len(p.errs) > 0
}

// Sent reports whether the message has been delivered.
func (p *Postman) Sent() bool {
	return p.sent
}

// Failed reports whether delivery was attempted and did not succeed,
// which is distinct from a validation failure.
func (p *Postman) Failed() bool {
	return p.attempted && !p.sent
}

// Submit processes an inbound request. It returns true only when the
// request carried this form's marker, every field validated, and the
// message was delivered. Validation and configuration problems never
// panic; they are recorded in the error map and the diagnostic log.
func (p *Postman) Submit(r *http.Request) bool {
	if p.submitted {
		p.logger.Printf("form %s: duplicate submit call ignored", p.ID)
		return false
	}

	request := p.request(r)

	if request.Get(MarkerParam) != p.ID {
		return false
	}
	p.submitted = true

	p.checkVerifierConf(r.Context())

	if p.HasCaptcha() {
		p.wireCaptchaField(r)
	}

	p.collectData(request)

	p.data = p.hooks.applyData(p.hooks.preValidate, p.data, p.ID)

	p.validateFields()

	// Never run the spam check on an already invalid submission: it
	// avoids external network calls for submissions that will be
	// rejected anyway.
	if len(p.errs) == 0 {
		p.screenSpam(r)
	}

	p.errs = p.hooks.applyErrors(p.errs, p.data, p.ID)
	p.data = p.hooks.applyData(p.hooks.postValidate, p.data, p.ID)

	if len(p.errs) > 0 {
		return false
	}

	return p.send(r)
}

// checkVerifierConf surfaces verifier configuration problems to the
// operator. A half-configured captcha is an error, not an inactive
// verifier; an unregistered spam key is only a warning because the
// screener fails open.
func (p *Postman) checkVerifierConf(ctx context.Context) {
	if p.captcha != nil && p.captcha.Misconfigured() {
		p.logger.Printf("form %s: captcha enabled but only one API key configured", p.ID)
	}

	if p.screener != nil && p.screener.Active() && !p.screener.VerifyKey(ctx) {
		p.logger.Printf("form %s: spam screener key not accepted by provider", p.ID)
	}
}

// request returns the full key-value set of the configured bucket.
func (p *Postman) request(r *http.Request) url.Values {
	if p.Method == "get" {
		return r.URL.Query()
	}

	if r.PostForm == nil {
		if err := r.ParseForm(); err != nil {
			p.logger.Printf("form %s: cannot parse request: %v", p.ID, err)
		}
	}

	return r.PostForm
}

// wireCaptchaField registers the challenge response as a synthetic
// required field so that it is validated inline with the rest of the
// schema. The field is excluded from the message body.
func (p *Postman) wireCaptchaField(r *http.Request) {
	p.RegisterPredicate(captchaPredicate, func(token string, _ url.Values) bool {
		ok, err := p.captcha.Verify(r.Context(), token, RemoteIP(r))
		if err != nil {
			// Fail closed: an unverifiable token blocks the submission.
			p.logger.Printf("form %s: captcha verification failed: %v", p.ID, err)
			return false
		}
		return ok
	})

	p.AddField(Field{
		Name:     p.captcha.FieldName,
		Required: true,
		Exclude:  true,
		Rules:    []Rule{Function(captchaPredicate)},
		Errors: map[string]string{
			"required": p.captchaErrMessage,
			"function": p.captchaErrMessage,
		},
	})
}

// collectData resolves every registered field from the request bucket.
// Missing fields resolve to an empty value, never to an absent key, and
// each value is mirrored into the field's transient slot.
func (p *Postman) collectData(request url.Values) {
	p.data = url.Values{}

	for _, field := range p.fields {
		values := request[field.Name]
		if values == nil {
			values = []string{}
		}

		p.data[field.Name] = values
		field.value = values
	}
}

// validateFields runs the required check and the rule validator for
// every field. All fields are validated even after the first failure so
// the caller can display every error at once.
func (p *Postman) validateFields() {
	for _, field := range p.fields {
		value := strings.Join(p.data[field.Name], " ")

		if field.Required && value == "" {
			p.errs[field.Name] = field.message("required", p.ErrorMessage)
			continue
		}

		if value == "" || len(field.Rules) == 0 {
			continue
		}

		failed, err := p.validator.Evaluate(p.data.Get(field.Name), field.Rules, p.data, p.predicates)
		if err != nil {
			p.logger.Printf("form %s: field %s: %v", p.ID, field.Name, err)
		}

		if len(failed) == 0 {
			continue
		}

		// The last failing rule wins: callers may register a message
		// per rule and rely on this tie-break.
		last := failed[len(failed)-1]
		p.errs[field.Name] = field.message(last, p.ErrorMessage)
	}
}

// screenSpam maps the configured fields onto screener parameters and
// rejects the submission when the screener reports spam.
func (p *Postman) screenSpam(r *http.Request) {
	if p.screener == nil {
		return
	}

	params := url.Values{}
	for param, fields := range p.screenerMap {
		params.Set(param, p.flatValue(fields))
	}
	params.Set("comment_type", p.screenerType)

	if p.screener.CheckSpam(r.Context(), params, RemoteIP(r), r.UserAgent()) {
		p.errs["akismet"] = p.SpamMessage
	}
}

// flatValue concatenates the raw values of several fields. Unknown
// field names are reported and contribute nothing.
func (p *Postman) flatValue(names []string) string {
	var values []string

	for _, name := range names {
		if _, ok := p.index[name]; !ok {
			p.logger.Printf("form %s: unknown field %q in spam screener map", p.ID, name)
			continue
		}
		values = append(values, strings.Join(p.data[name], " "))
	}

	return strings.Join(values, " ")
}

// send assembles the message, persists the log entry and attempts
// delivery. The entry is persisted regardless of delivery outcome so a
// failed send can still be recovered from the log.
func (p *Postman) send(r *http.Request) bool {
	p.data = p.hooks.applyData(p.hooks.data, p.data, p.ID)
	p.fields = p.hooks.applyFields(p.fields, p.ID)

	body := p.hooks.applyString(p.hooks.message, BuildMessage(p.fields, p.data), p.ID)

	msg := &Message{
		To:      p.hooks.applyString(p.hooks.mailTo, p.To, p.ID),
		From:    p.hooks.applyString(p.hooks.mailFrom, p.From, p.ID),
		Subject: p.hooks.applyString(p.hooks.mailSubject, p.Subject, p.ID),
		Body:    body,
		Headers: p.hooks.applyHeaders(p.headers, p.ID),
	}

	p.persist(r, msg)

	p.attempted = true

	if p.mailer == nil {
		p.logger.Printf("form %s: no mailer configured", p.ID)
		return false
	}

	if err := p.mailer.Send(r.Context(), msg); err != nil {
		p.logger.Printf("form %s: delivery failed: %v", p.ID, err)
		return false
	}

	p.sent = true

	return true
}

// persist appends a log entry for the submission unless logging has
// been disabled for this form instance.
func (p *Postman) persist(r *http.Request, msg *Message) {
	if !p.logsEnabled || p.store == nil {
		return
	}

	fieldData, err := encodeFieldData(p.fields, p.data)
	if err != nil {
		p.logger.Printf("form %s: cannot encode field data: %v", p.ID, err)
	}

	entry := &Entry{
		Date:        p.now(),
		FormID:      p.ID,
		SiteID:      p.SiteID,
		PostID:      p.PostID,
		UserID:      p.UserID,
		IP:          RemoteIP(r),
		UserAgent:   r.UserAgent(),
		MailTo:      msg.To,
		MailFrom:    msg.From,
		MailSubject: msg.Subject,
		MailBody:    msg.Body,
		MailHeaders: flattenHeaders(msg.headers()),
		FieldData:   fieldData,
	}

	entry = p.hooks.applyEntry(entry, p.ID)

	if err := p.store.Append(r.Context(), entry); err != nil {
		p.logger.Printf("form %s: cannot store log entry: %v", p.ID, err)
	}
}
