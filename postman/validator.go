package postman

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Predicate is a caller-supplied validation function. It receives the
// field value and the full submitted data map and reports whether the
// value is acceptable.
type Predicate func(value string, data url.Values) bool

// Validator evaluates one value against a set of declarative rules.
// It returns the names of the failed rules in declaration order. The
// error return is reserved for configuration problems (an unknown rule
// kind or a missing predicate); a configuration problem also counts the
// rule as failed so that it can never produce an unsafe pass.
type Validator interface {
	Evaluate(value string, rules []Rule, data url.Values, predicates map[string]Predicate) ([]string, error)
}

// Resolver looks up DNS records for the email domain check.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var telPattern = regexp.MustCompile(`^[0-9,.]+$`)

// RuleValidator is the default Validator. The zero value is not usable;
// create one with NewRuleValidator.
type RuleValidator struct {
	resolver Resolver
	timeout  time.Duration
}

// RuleValidatorOption configures a RuleValidator.
type RuleValidatorOption func(*RuleValidator)

// WithResolver overrides the DNS resolver used by the email domain
// check. Mostly useful in tests.
func WithResolver(r Resolver) RuleValidatorOption {
	return func(v *RuleValidator) {
		v.resolver = r
	}
}

// WithLookupTimeout bounds the DNS lookups performed by the email check,
// so a slow resolver cannot stall the whole submission.
func WithLookupTimeout(d time.Duration) RuleValidatorOption {
	return func(v *RuleValidator) {
		v.timeout = d
	}
}

// NewRuleValidator creates a validator with the default resolver and a
// 5 second lookup timeout.
func NewRuleValidator(options ...RuleValidatorOption) *RuleValidator {
	v := &RuleValidator{
		resolver: net.DefaultResolver,
		timeout:  5 * time.Second,
	}

	for _, o := range options {
		o(v)
	}

	return v
}

// Evaluate checks the value against every rule in declaration order and
// returns the names of the rules that did not pass.
func (v *RuleValidator) Evaluate(value string, rules []Rule, data url.Values, predicates map[string]Predicate) ([]string, error) {
	var failed []string
	var confErr error

	for _, rule := range rules {
		ok, err := v.check(value, rule, data, predicates)
		if err != nil && confErr == nil {
			confErr = err
		}
		if !ok {
			failed = append(failed, rule.Name())
		}
	}

	return failed, confErr
}

func (v *RuleValidator) check(value string, rule Rule, data url.Values, predicates map[string]Predicate) (bool, error) {
	switch rule.Kind {
	case RuleType:
		return v.checkType(value, rule.name)
	case RuleMaxLength:
		return utf8.RuneCountInString(value) <= rule.length, nil
	case RuleMinLength:
		return utf8.RuneCountInString(value) >= rule.length, nil
	case RuleMax:
		n, err := strconv.ParseFloat(value, 64)
		return err == nil && n <= rule.bound, nil
	case RuleMin:
		n, err := strconv.ParseFloat(value, 64)
		return err == nil && n >= rule.bound, nil
	case RulePattern:
		return rule.pattern != nil && rule.pattern.MatchString(value), nil
	case RuleMatch:
		other, ok := data[rule.name]
		if !ok {
			return false, nil
		}
		return looseEqual(value, strings.Join(other, " ")), nil
	case RuleFunction:
		fn, ok := predicates[rule.name]
		if !ok {
			return false, fmt.Errorf("validation predicate not registered: %s", rule.name)
		}
		return fn(value, data), nil
	}

	return false, fmt.Errorf("unknown validation rule: %s", rule.Kind)
}

func (v *RuleValidator) checkType(value, name string) (bool, error) {
	switch name {
	case TypeEmail:
		return v.checkEmail(value), nil
	case TypeNumber:
		_, err := strconv.ParseFloat(value, 64)
		return err == nil, nil
	case TypeTel:
		return telPattern.MatchString(value), nil
	case TypeURL:
		u, err := url.Parse(value)
		return err == nil && u.Scheme != "" && u.Host != "", nil
	}

	return false, fmt.Errorf("unknown value type: %s", name)
}

// checkEmail checks the syntax of an email address and performs an MX
// record check to ensure the address uses a valid domain. A failed
// lookup counts as invalid.
func (v *RuleValidator) checkEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return false
	}

	at := strings.LastIndex(value, "@")
	domain := value[at+1:]

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	if mx, err := v.resolver.LookupMX(ctx, domain); err == nil && len(mx) > 0 {
		return true
	}

	hosts, err := v.resolver.LookupHost(ctx, domain)

	return err == nil && len(hosts) > 0
}

// looseEqual compares two form values the way the match rule expects:
// numerically when both parse as numbers, byte for byte otherwise.
func looseEqual(a, b string) bool {
	if a == b {
		return true
	}

	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)

	return errA == nil && errB == nil && na == nb
}
