package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/castlegate/mailroom/postman"
	"github.com/justinas/nosurf"
)

// buildForm assembles the submission pipeline for a form definition
// with the application capabilities wired in.
func (app *application) buildForm(cfg *FormConfig) *postman.Postman {
	return app.forms.Build(cfg,
		postman.WithMailer(app.mailer),
		postman.WithStore(app.logs),
		postman.WithHooks(app.hooks),
		postman.WithLogger(app.logger),
		postman.WithFormRegistry(app.registry),
	)
}

// submit processes a contact-form submission. The form is identified by
// the marker parameter carried with the request data.
func (app *application) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}

	cfg := app.forms.Find(r.Form.Get(postman.MarkerParam))
	if cfg == nil {
		app.clientError(w, http.StatusNotFound)
		return
	}

	form := app.buildForm(cfg)

	switch {
	case form.Submit(r):
		app.flash(r, "Your message has been sent.")

		if wantsJSON(r) {
			app.writeJSON(w, http.StatusOK, envelope{"sent": true}, nil)
			return
		}
		http.Redirect(w, r, r.Referer(), http.StatusSeeOther)

	case form.HasErrors():
		if wantsJSON(r) {
			app.writeJSON(w, http.StatusUnprocessableEntity, envelope{
				"sent":   false,
				"errors": form.Errors(),
			}, nil)
			return
		}

		app.flash(r, "Your message could not be sent. Please check the form and try again.")
		http.Redirect(w, r, r.Referer(), http.StatusSeeOther)

	default:
		// valid submission, delivery failed
		app.deliveryError(w, r, "Your message could not be sent. Please try again later.")
	}
}

func (app *application) deliveryError(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsJSON(r) {
		app.writeJSON(w, http.StatusInternalServerError, envelope{
			"sent":  false,
			"error": msg,
		}, nil)
		return
	}

	app.flash(r, msg)
	http.Redirect(w, r, r.Referer(), http.StatusSeeOther)
}

// formDetails returns the definition a client needs to render and post
// a form: fields with their current values, the captcha site key and
// the CSRF token expected by the submit endpoint.
func (app *application) formDetails(w http.ResponseWriter, r *http.Request) {
	cfg := app.forms.Find(r.URL.Query().Get(":id"))
	if cfg == nil {
		app.notFound(w, r)
		return
	}

	form := app.buildForm(cfg)

	type fieldDetail struct {
		Name     string `json:"name"`
		Label    string `json:"label,omitempty"`
		Required bool   `json:"required"`
		Value    string `json:"value,omitempty"`
	}

	var fields []fieldDetail
	for _, field := range cfg.Fields {
		fields = append(fields, fieldDetail{
			Name:     field.Name,
			Label:    field.Label,
			Required: field.Required,
			Value:    form.Value(field.Name),
		})
	}

	env := envelope{
		"id":         cfg.ID,
		"method":     cfg.Method,
		"fields":     fields,
		"csrf_token": nosurf.Token(r),
		"flash":      app.session.PopString(r, "flash"),
	}

	if c := form.Captcha(); c != nil {
		env["captcha"] = envelope{
			"field":    c.FieldName,
			"site_key": c.SiteKey(),
		}
	}

	app.writeJSON(w, http.StatusOK, env, nil)
}

// captchaForms exposes the form registry consumed by the background
// captcha bootstrap script.
func (app *application) captchaForms(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, http.StatusOK, envelope{"forms": app.registry.Forms()}, nil)
}

// findEntries lists the stored submissions of a form, most recent
// first.
func (app *application) findEntries(w http.ResponseWriter, r *http.Request) {
	formID := r.URL.Query().Get("form")
	if app.forms.Find(formID) == nil {
		app.notFound(w, r)
		return
	}

	entries, n, err := app.logs.FindEntries(r.Context(), formID)
	if err != nil {
		app.serverError(w, err)
		return
	}

	type entryDetail struct {
		Token     string          `json:"token"`
		Date      string          `json:"date"`
		IP        string          `json:"ip"`
		UserAgent string          `json:"user_agent"`
		Subject   string          `json:"subject"`
		Body      string          `json:"body"`
		Fields    json.RawMessage `json:"fields"`
	}

	details := make([]entryDetail, 0, len(entries))
	for _, e := range entries {
		details = append(details, entryDetail{
			Token:     e.Token,
			Date:      app.formatDate(e.Date),
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Subject:   e.MailSubject,
			Body:      e.MailBody,
			Fields:    json.RawMessage(e.FieldData),
		})
	}

	app.writeJSON(w, http.StatusOK, envelope{"total": n, "entries": details}, nil)
}

// pruneEntries applies a retention policy to the stored submissions of
// a form: "all" removes everything, "keep" keeps the n most recent and
// "days" removes entries older than n days.
func (app *application) pruneEntries(w http.ResponseWriter, r *http.Request) {
	formID := r.PostFormValue("form")
	if app.forms.Find(formID) == nil {
		app.notFound(w, r)
		return
	}

	n, _ := strconv.Atoi(r.PostFormValue("n"))

	var err error
	switch policy := r.PostFormValue("policy"); policy {
	case "all":
		err = app.logs.DeleteEntries(r.Context(), formID)
	case "keep":
		err = app.logs.DeleteEntriesExcept(r.Context(), formID, n)
	case "days":
		err = app.logs.DeleteEntriesOlderThan(r.Context(), formID, n)
	default:
		app.clientError(w, http.StatusBadRequest)
		return
	}
	if err != nil {
		app.serverError(w, err)
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"pruned": true}, nil)
}
