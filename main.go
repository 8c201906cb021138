package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/hashfs"
	"github.com/castlegate/mailroom/postman"
	"github.com/golangcollege/sessions"
	"github.com/joho/godotenv"
)

//go:embed assets
//go:embed migrations/*.sql
var embedded embed.FS

var staticFS = hashfs.NewFS(embedded)

var ErrNoRecord = errors.New("no record")

type config struct {
	port       int
	dsn        string
	forms      string
	sessionKey string

	mailDump bool
	smtpAddr string
	smtpUser string
	smtpPass string
}

type application struct {
	config config
	logger *log.Logger

	session *sessions.Session

	forms    *FormSet
	registry *postman.FormRegistry
	hooks    *postman.Hooks
	mailer   postman.Mailer

	logs *LogService
}

func main() {
	if err := run(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	// verifier keys may come from a .env file
	godotenv.Load()

	var cfg config

	flagSet := flag.NewFlagSet(args[0], flag.ExitOnError)

	flagSet.IntVar(&cfg.port, "port", 8080, "http server port")
	flagSet.StringVar(&cfg.dsn, "dsn", "mailroom.db", "database data source name")
	flagSet.StringVar(&cfg.forms, "forms", "forms.yaml", "form definition file")
	flagSet.StringVar(&cfg.sessionKey, "session-key", "0g6kFh15VxjIfRSDDoXxrK2DLivlX6xt", "session key for cookies encryption")
	flagSet.BoolVar(&cfg.mailDump, "mail-dump", false, "print messages instead of sending them")
	flagSet.StringVar(&cfg.smtpAddr, "smtp-addr", "localhost:25", "smtp server address")
	flagSet.StringVar(&cfg.smtpUser, "smtp-user", "", "smtp username")
	flagSet.StringVar(&cfg.smtpPass, "smtp-pass", "", "smtp password")

	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}

	logger := log.New(stdout, "", log.Ldate|log.Ltime)

	db := NewDB(cfg.dsn, embedded)
	if err := db.Open(); err != nil {
		return err
	}

	forms, err := LoadFormSet(cfg.forms)
	if err != nil {
		return err
	}

	session := sessions.New([]byte(cfg.sessionKey))
	session.Lifetime = 12 * time.Hour

	app := application{
		config:  cfg,
		logger:  logger,
		session: session,

		forms:    forms,
		registry: postman.NewFormRegistry(),
		hooks:    postman.NewHooks(),
		mailer:   newMailer(cfg, stdout),

		logs: &LogService{db: db},
	}

	// Building every form once at startup surfaces configuration
	// problems in the log and records the background-captcha forms in
	// the registry before the first submission comes in.
	for i := range forms.Forms {
		app.buildForm(&forms.Forms[i])
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if err := app.serve(srv); err != nil {
		return err
	}

	return db.Close()
}

func newMailer(cfg config, stdout io.Writer) postman.Mailer {
	if cfg.mailDump {
		return &postman.DumpMailer{Out: stdout}
	}

	var auth smtp.Auth
	if cfg.smtpUser != "" {
		host, _, _ := strings.Cut(cfg.smtpAddr, ":")
		auth = smtp.PlainAuth("", cfg.smtpUser, cfg.smtpPass, host)
	}

	return &postman.SMTPMailer{Addr: cfg.smtpAddr, Auth: auth}
}
