package main

import (
	"fmt"
	"net/http"

	"github.com/benbjohnson/hashfs"
	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

const api = "/api"

func (app *application) routes() http.Handler {
	chain := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	form := alice.New(app.session.Enable, injectCSRFCookie)

	mux := pat.New()
	mux.NotFound = http.HandlerFunc(app.notFound)

	// forms
	mux.Get("/forms/:id", form.Then(http.HandlerFunc(app.formDetails)))
	mux.Post("/submit", form.Then(http.HandlerFunc(app.submit)))
	mux.Get("/submit", form.Then(http.HandlerFunc(app.submit)))
	mux.Get("/forms.json", http.HandlerFunc(app.captchaForms))

	// submission logs
	mux.Get("/entries", http.HandlerFunc(app.findEntries))
	mux.Post(fmt.Sprintf("%s/prune", api), http.HandlerFunc(app.pruneEntries))

	// static assets
	mux.Get("/static/", http.StripPrefix("/static/", hashfs.FileServer(staticFS)))

	return chain.Then(mux)
}
