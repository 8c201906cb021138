package postman

import "net/url"

// DataFilter receives the collected form data and the form ID and
// returns a possibly modified data map of the same shape.
type DataFilter func(data url.Values, formID string) url.Values

// ErrorsFilter receives the accumulated error map, the form data and
// the form ID and returns a possibly modified error map. Mutating the
// map to non-empty is the only way a subscriber can reject a
// submission.
type ErrorsFilter func(errs map[string]string, data url.Values, formID string) map[string]string

// FieldsFilter receives the registered fields and the form ID and
// returns a possibly modified field list.
type FieldsFilter func(fields []*Field, formID string) []*Field

// StringFilter receives a single string value and the form ID.
type StringFilter func(s string, formID string) string

// HeadersFilter receives the mail header map and the form ID.
type HeadersFilter func(headers map[string]string, formID string) map[string]string

// EntryFilter receives the assembled log entry before it is persisted.
type EntryFilter func(e *Entry, formID string) *Entry

// Hooks is an ordered, named, multi-subscriber extension-point registry.
// The orchestrator applies the registered filters at fixed pipeline
// stages; subscribers run in registration order and each receives the
// value produced by the previous one.
//
// One Hooks instance may be shared between several forms created during
// a single request; every filter receives the form ID to tell them
// apart.
type Hooks struct {
	preValidate  []DataFilter
	postValidate []DataFilter
	data         []DataFilter
	errors       []ErrorsFilter
	fields       []FieldsFilter
	message      []StringFilter

	value    map[string][]StringFilter
	errorMsg map[string][]StringFilter

	mailTo      []StringFilter
	mailFrom    []StringFilter
	mailSubject []StringFilter
	mailHeaders []HeadersFilter
	logEntry    []EntryFilter
}

// NewHooks creates an empty registry.
func NewHooks() *Hooks {
	return &Hooks{
		value:    make(map[string][]StringFilter),
		errorMsg: make(map[string][]StringFilter),
	}
}

// OnPreValidate registers a filter applied to the collected data before
// rule evaluation.
func (h *Hooks) OnPreValidate(f DataFilter) { h.preValidate = append(h.preValidate, f) }

// OnPostValidate registers a filter applied to the data after rule
// evaluation, before the send decision.
func (h *Hooks) OnPostValidate(f DataFilter) { h.postValidate = append(h.postValidate, f) }

// OnData registers a filter applied to the data of a valid submission
// just before the message is assembled.
func (h *Hooks) OnData(f DataFilter) { h.data = append(h.data, f) }

// OnErrors registers a filter applied to the final error map.
func (h *Hooks) OnErrors(f ErrorsFilter) { h.errors = append(h.errors, f) }

// OnFields registers a filter applied to the field list of a valid
// submission before the message is assembled.
func (h *Hooks) OnFields(f FieldsFilter) { h.fields = append(h.fields, f) }

// OnMessage registers a filter applied to the assembled message body.
func (h *Hooks) OnMessage(f StringFilter) { h.message = append(h.message, f) }

// OnValue registers a filter applied when the named field's value is
// read through the Value accessor.
func (h *Hooks) OnValue(field string, f StringFilter) {
	h.value[field] = append(h.value[field], f)
}

// OnError registers a filter applied when the named field's error
// message is read through the Error accessor.
func (h *Hooks) OnError(field string, f StringFilter) {
	h.errorMsg[field] = append(h.errorMsg[field], f)
}

// OnMailTo registers a filter applied to the resolved recipient.
func (h *Hooks) OnMailTo(f StringFilter) { h.mailTo = append(h.mailTo, f) }

// OnMailFrom registers a filter applied to the resolved sender.
func (h *Hooks) OnMailFrom(f StringFilter) { h.mailFrom = append(h.mailFrom, f) }

// OnMailSubject registers a filter applied to the resolved subject.
func (h *Hooks) OnMailSubject(f StringFilter) { h.mailSubject = append(h.mailSubject, f) }

// OnMailHeaders registers a filter applied to the mail header map.
func (h *Hooks) OnMailHeaders(f HeadersFilter) { h.mailHeaders = append(h.mailHeaders, f) }

// OnLogEntry registers a filter applied to the log entry before it is
// persisted.
func (h *Hooks) OnLogEntry(f EntryFilter) { h.logEntry = append(h.logEntry, f) }

func (h *Hooks) applyData(stage []DataFilter, data url.Values, id string) url.Values {
	for _, f := range stage {
		data = f(data, id)
	}
	return data
}

func (h *Hooks) applyErrors(errs map[string]string, data url.Values, id string) map[string]string {
	for _, f := range h.errors {
		errs = f(errs, data, id)
	}
	return errs
}

func (h *Hooks) applyFields(fields []*Field, id string) []*Field {
	for _, f := range h.fields {
		fields = f(fields, id)
	}
	return fields
}

func (h *Hooks) applyString(stage []StringFilter, s, id string) string {
	for _, f := range stage {
		s = f(s, id)
	}
	return s
}

func (h *Hooks) applyHeaders(headers map[string]string, id string) map[string]string {
	for _, f := range h.mailHeaders {
		headers = f(headers, id)
	}
	return headers
}

func (h *Hooks) applyEntry(e *Entry, id string) *Entry {
	for _, f := range h.logEntry {
		e = f(e, id)
	}
	return e
}
