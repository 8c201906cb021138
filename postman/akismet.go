package postman

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Spam screener parameters that may be mapped from form fields.
const (
	SpamParamAuthor      = "comment_author"
	SpamParamAuthorEmail = "comment_author_email"
	SpamParamAuthorURL   = "comment_author_url"
	SpamParamContent     = "comment_content"
)

var spamParams = map[string]struct{}{
	SpamParamAuthor:      {},
	SpamParamAuthorEmail: {},
	SpamParamAuthorURL:   {},
	SpamParamContent:     {},
}

// SpamScreener checks submissions against the Akismet reputation
// service. An unavailable or unreachable screener fails open: it must
// never block legitimate submissions, unlike the challenge-response
// verifiers which fail closed.
type SpamScreener struct {
	key     string
	blog    string
	lang    string
	charset string

	// Verification endpoints. The comment-check endpoint lives under a
	// key-specific host.
	verifyURL string
	checkURL  string

	client *http.Client
	logger *log.Logger
}

// SpamScreenerOption configures a SpamScreener.
type SpamScreenerOption func(*SpamScreener)

// WithBlogLocale sets the site language and charset submitted with each
// check.
func WithBlogLocale(lang, charset string) SpamScreenerOption {
	return func(s *SpamScreener) {
		s.lang = lang
		s.charset = charset
	}
}

// WithSpamLogger sets the logger used for configuration warnings and
// transport notices.
func WithSpamLogger(logger *log.Logger) SpamScreenerOption {
	return func(s *SpamScreener) {
		s.logger = logger
	}
}

// NewSpamScreener creates a screener for the given site URL. An empty
// key falls back to the AKISMET_API_KEY environment variable. A
// screener without a key is inactive and passes everything.
func NewSpamScreener(key, blog string, options ...SpamScreenerOption) *SpamScreener {
	if key == "" {
		key = os.Getenv("AKISMET_API_KEY")
	}

	s := &SpamScreener{
		key:       key,
		blog:      blog,
		charset:   "UTF-8",
		verifyURL: "https://rest.akismet.com/1.1/verify-key",
		checkURL:  "https://" + key + ".rest.akismet.com/1.1/comment-check",
		client:    &http.Client{Timeout: 8 * time.Second},
		logger:    log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}

	for _, o := range options {
		o(s)
	}

	if !s.Active() {
		s.logger.Println("spam screener enabled but API key missing")
	}

	return s
}

// Active reports whether an API key is configured.
func (s *SpamScreener) Active() bool {
	return s.key != ""
}

// VerifyKey confirms the configured key with the provider. A screener
// with an unverifiable key still runs; this check only exists so that
// administrators see configuration problems without end users being
// blocked mid-flow.
func (s *SpamScreener) VerifyKey(ctx context.Context) bool {
	if !s.Active() {
		return false
	}

	body, err := s.post(ctx, s.verifyURL, url.Values{
		"key":  {s.key},
		"blog": {s.blog},
	})
	if err != nil {
		s.logger.Println("spam screener key verification failed:", err)
		return false
	}

	return body == "valid"
}

// CheckSpam submits the mapped parameters plus request metadata and
// reports whether the submission looks like spam. Inactive screener or
// transport failure both report not-spam.
func (s *SpamScreener) CheckSpam(ctx context.Context, params url.Values, remoteIP, userAgent string) bool {
	if !s.Active() {
		return false
	}

	args := url.Values{}
	for key := range params {
		if key == "comment_type" || key == "permalink" {
			continue
		}
		if _, ok := spamParams[key]; !ok {
			s.logger.Println("unknown spam screener parameter:", key)
			continue
		}
		if v := params.Get(key); v != "" {
			args.Set(key, v)
		}
	}

	if t := params.Get("comment_type"); t != "" {
		args.Set("comment_type", t)
	}
	if p := params.Get("permalink"); p != "" {
		args.Set("permalink", p)
	}

	args.Set("blog", s.blog)
	if remoteIP != "" {
		args.Set("user_ip", remoteIP)
	}
	if userAgent != "" {
		args.Set("user_agent", userAgent)
	}
	if s.lang != "" {
		args.Set("blog_lang", s.lang)
	}
	if s.charset != "" {
		args.Set("blog_charset", s.charset)
	}

	body, err := s.post(ctx, s.checkURL, args)
	if err != nil {
		s.logger.Println("spam check skipped:", err)
		return false
	}

	return body == "true"
}

func (s *SpamScreener) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}
