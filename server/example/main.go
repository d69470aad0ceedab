package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/acrite/libschedav/server"
	"github.com/acrite/libschedav/server/scheduling"
	"github.com/acrite/libschedav/server/storage"
	"github.com/acrite/libschedav/server/storage/memory"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "schedav-demo",
		Usage: "Run a demo CalDAV server with automatic scheduling.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Usage:   "Listen address.",
				EnvVars: []string{"SCHEDAV_ADDR"},
			},
			&cli.StringFlag{
				Name:    "prefix",
				Value:   "/caldav/",
				Usage:   "URL prefix for the CalDAV endpoint.",
				EnvVars: []string{"SCHEDAV_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: debug, info, warn, error.",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := setupLogger(c.String("log-level"))
	addr := c.String("addr")
	prefix := c.String("prefix")

	store := setupStorage()
	engine := scheduling.NewEngine(store, logger)
	engine.DefaultCalendarID = "default"

	handler := server.NewCaldavHandler(prefix, "schedav demo", store, engine, nil, logger)
	http.Handle(prefix, handler)

	logger.Info("starting CalDAV server",
		"addr", addr,
		"endpoint", "http://localhost"+addr+prefix)
	return http.ListenAndServe(addr, nil)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// setupStorage seeds the in-memory backend with two users and a sample
// meeting so scheduling can be tried out immediately.
func setupStorage() *memory.Store {
	store := memory.New()

	store.AddUser(&storage.User{
		ID:          "alice",
		DisplayName: "Alice Smith",
		Email:       "alice@example.com",
		Path:        "/alice",
	}, "password")
	store.AddUser(&storage.User{
		ID:          "bob",
		DisplayName: "Bob Johnson",
		Email:       "bob@example.com",
		Path:        "/bob",
	}, "password")

	now := time.Now()
	event := sampleMeeting("Kickoff", "alice@example.com", []string{"bob@example.com"},
		now.Add(24*time.Hour), now.Add(25*time.Hour))
	obj := &storage.CalendarObject{
		ID:   uuid.NewString() + ".ics",
		Data: event,
	}
	if _, err := store.UpdateObject(context.Background(), "alice", "default", obj); err != nil {
		slog.Error("failed to seed sample event", "error", err)
	}

	return store
}

func sampleMeeting(summary, organizer string, attendees []string, start, end time.Time) *ical.Calendar {
	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uuid.NewString())
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, end)
	event.Props.SetText(ical.PropOrganizer, "mailto:"+organizer)
	for _, attendee := range attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Params.Set(ical.ParamParticipationStatus, "NEEDS-ACTION")
		prop.Value = "mailto:" + attendee
		event.Props.Add(prop)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//libschedav//NONSGML v1.0//EN")
	cal.Children = append(cal.Children, event)
	return cal
}
