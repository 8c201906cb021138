package postman

// Field describes one named input slot within a form. Fields are added
// using the AddField method and validated in registration order.
type Field struct {
	// Name identifies the field within the form and in the request data.
	// It must be unique and must not be one of the reserved names used by
	// the host's own query-parameter namespace.
	Name string

	// Label is used when assembling the message body and the log record.
	// It defaults to the field name.
	Label string

	// Required fields produce an error when submitted empty.
	Required bool

	// Exclude omits the field from the assembled message body. The value
	// is still collected, validated and stored in the log field data.
	// Useful for buttons and honeypots.
	Exclude bool

	// Rules are evaluated in declaration order. See the rule constructors
	// in rules.go.
	Rules []Rule

	// Error is the default error message for this field. If empty, the
	// form-wide default message is used.
	Error string

	// Errors maps rule names, plus the literal key "required", to
	// specific messages. Missing keys fall back to Error.
	Errors map[string]string

	// Default is used as the field value when the submission does not
	// provide one.
	Default string

	// value is filled in from the request during submission handling.
	value []string
}

// label returns the display name of the field.
func (f *Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// message returns the error message associated with a rule name, falling
// back to the field default and finally to the form-wide default.
func (f *Field) message(rule, fallback string) string {
	if msg, ok := f.Errors[rule]; ok && msg != "" {
		return msg
	}
	if f.Error != "" {
		return f.Error
	}
	return fallback
}

// reservedNames are the terms reserved by the host's own URL and
// query-parameter conventions. Registering a field under one of these
// names would clash with host routing, so registration is refused.
var reservedNames = map[string]struct{}{
	"action": {}, "attachment": {}, "attachment_id": {}, "author": {},
	"author_name": {}, "calendar": {}, "cat": {}, "category": {},
	"category__and": {}, "category__in": {}, "category__not_in": {},
	"category_name": {}, "comments_per_page": {}, "comments_popup": {},
	"custom": {}, "customize_messenger_channel": {}, "customized": {},
	"cpage": {}, "day": {}, "debug": {}, "embed": {}, "error": {},
	"exact": {}, "feed": {}, "fields": {}, "hour": {},
	"link_category": {}, "m": {}, "minute": {}, "monthnum": {},
	"more": {}, "name": {}, "nav_menu": {}, "nonce": {}, "nopaging": {},
	"offset": {}, "order": {}, "orderby": {}, "p": {}, "page": {},
	"page_id": {}, "paged": {}, "pagename": {}, "pb": {}, "perm": {},
	"post": {}, "post__in": {}, "post__not_in": {}, "post_format": {},
	"post_mime_type": {}, "post_status": {}, "post_tag": {},
	"post_type": {}, "posts": {}, "posts_per_archive_page": {},
	"posts_per_page": {}, "preview": {}, "robots": {}, "s": {},
	"search": {}, "second": {}, "sentence": {}, "showposts": {},
	"static": {}, "status": {}, "subpost": {}, "subpost_id": {},
	"tag": {}, "tag__and": {}, "tag__in": {}, "tag__not_in": {},
	"tag_id": {}, "tag_slug__and": {}, "tag_slug__in": {},
	"taxonomy": {}, "tb": {}, "term": {}, "terms": {}, "theme": {},
	"title": {}, "type": {}, "types": {}, "w": {}, "withcomments": {},
	"withoutcomments": {}, "year": {},
}

// IsReservedName reports whether a field name collides with the marker
// parameter or the host's query-parameter namespace.
func IsReservedName(name string) bool {
	if name == MarkerParam {
		return true
	}
	_, ok := reservedNames[name]
	return ok
}
