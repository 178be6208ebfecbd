package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"floodbuddy/internal/cache"
	"floodbuddy/internal/client"
	"floodbuddy/internal/config"
	"floodbuddy/internal/flow"
	"floodbuddy/internal/ids"
	"floodbuddy/internal/log"
	"floodbuddy/internal/models"
	"floodbuddy/internal/session"
)

const usage = `usage: reporter <command> [flags]

commands:
  register    create an account
  login       sign in and show the session
  submit      submit a report (-lat, -lng, -severity)
  markers     print the current markers
  watch       print markers on every snapshot until interrupted
  severities  print the severity table
`

type app struct {
	api      *client.Client
	sessions *session.Flow
	mirror   *session.Mirror
	log      zerolog.Logger
	out      io.Writer
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.ClientConfig) (*app, error) {
	logger := log.New("development", "reporter").Level(zerolog.WarnLevel)

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = ids.New()
	}

	api := client.New(client.Options{
		BaseURL:         cfg.BaseURL,
		DeviceID:        deviceID,
		DeviceName:      cfg.DeviceName,
		SignatureSecret: cfg.SignatureSecret,
		Log:             logger,
	})

	a := &app{
		api:      api,
		sessions: session.NewFlow(api, logger),
		log:      logger,
		out:      os.Stdout,
	}

	if cfg.CacheEnabled {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// the mirror is best effort; run without it
			logger.Warn().Err(err).Msg("session cache unavailable")
		} else {
			a.mirror = session.NewMirror(cache.NewKeyValue(redisClient, cache.DevicePrefix(deviceID)), logger)
			a.mirror.Watch(a.sessions)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "submit":
		return a.submit(ctx, args)
	case "markers":
		return a.markers(ctx, args)
	case "watch":
		return a.watch(ctx, args)
	case "severities":
		return a.severities(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

type credentials struct {
	email    string
	password string
}

func credentialFlags(fs *flag.FlagSet) *credentials {
	c := &credentials{}
	fs.StringVar(&c.email, "email", os.Getenv("FLOODBUDDY_EMAIL"), "account email")
	fs.StringVar(&c.password, "password", os.Getenv("FLOODBUDDY_PASSWORD"), "account password")
	return c
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.sessions.Register(ctx, creds.email, creds.password)
	if err != nil {
		return a.authError(err)
	}
	fmt.Fprintf(a.out, "registered %s (%s)\n", s.Email, s.UserID)
	return a.sessions.SignOut(ctx)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.signIn(ctx, creds)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s (%s) on device %s\n", s.Email, s.UserID, a.api.DeviceID())
	return a.sessions.SignOut(ctx)
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	creds := credentialFlags(fs)
	lat := fs.Float64("lat", 0, "latitude in decimal degrees")
	lng := fs.Float64("lng", 0, "longitude in decimal degrees")
	severityFlag := fs.String("severity", "", "minor, moderate, severe or 1-3")
	if err := fs.Parse(args); err != nil {
		return err
	}

	severity, err := models.ParseSeverity(*severityFlag)
	if err != nil {
		return err
	}

	if _, err := a.signIn(ctx, creds); err != nil {
		return err
	}
	defer a.signOut()

	controller := flow.NewController(a.api, a.log)
	if isSet(fs, "lat") && isSet(fs, "lng") {
		controller.UpdateLocation(models.Location{Latitude: *lat, Longitude: *lng})
	}
	if err := controller.SelectSeverity(severity); err != nil {
		return err
	}

	confirm, err := controller.Confirmation()
	if err != nil {
		return err
	}
	if confirm.Location != nil {
		fmt.Fprintf(a.out, "reporting %s at %.6f, %.6f\n", confirm.Severity.Label, confirm.Location.Latitude, confirm.Location.Longitude)
	}

	report, err := controller.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "report %s created (%s)\n", report.ID, report.Severity.MarkerColor())
	return nil
}

func (a *app) markers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("markers", flag.ContinueOnError)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := a.signIn(ctx, creds); err != nil {
		return err
	}
	defer a.signOut()

	markers, err := a.api.Markers(ctx)
	if err != nil {
		return err
	}
	printMarkers(a.out, markers)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := a.signIn(ctx, creds); err != nil {
		return err
	}
	defer a.signOut()

	controller := flow.NewController(a.api, a.log)
	err := controller.Render(ctx, func(markers []models.Marker) {
		fmt.Fprintf(a.out, "--- %d markers\n", len(markers))
		printMarkers(a.out, markers)
	})
	if errors.Is(err, flow.ErrStreamEnded) {
		return fmt.Errorf("server closed the stream")
	}
	return err
}

func (a *app) severities(ctx context.Context) error {
	table, err := a.api.Severities(ctx)
	if err != nil {
		return err
	}
	for _, info := range table {
		fmt.Fprintf(a.out, "%d  %-9s %-7s %s\n", info.Severity, info.Label, info.Color, info.Icon)
	}
	return nil
}

func (a *app) signIn(ctx context.Context, creds *credentials) (session.Session, error) {
	s, err := a.sessions.SignIn(ctx, creds.email, creds.password)
	if err != nil {
		return session.Session{}, a.authError(err)
	}
	return s, nil
}

// signOut runs on a fresh context so an interrupted watch still ends
// its server session.
func (a *app) signOut() {
	if err := a.sessions.SignOut(context.Background()); err != nil {
		a.log.Warn().Err(err).Msg("sign out failed")
	}
}

func (a *app) authError(err error) error {
	if msg := a.sessions.ErrorMessage(); msg != "" {
		return errors.New(msg)
	}
	return err
}

func printMarkers(w io.Writer, markers []models.Marker) {
	for _, m := range markers {
		fmt.Fprintf(w, "%s  %10.6f %11.6f  %s\n", m.ID, m.Latitude, m.Longitude, m.Color)
	}
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
