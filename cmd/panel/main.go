package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"room-panel/internal/apiclient"
	"room-panel/internal/config"
	"room-panel/internal/device"
	"room-panel/internal/models"
	"room-panel/internal/panel"
	"room-panel/internal/syncengine"

	"github.com/docopt/docopt-go"
	"github.com/jonboulle/clockwork"
)

const PanelVersion = "0.1.0"

var Out *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
}

func main() {
	usage := `Room panel client.

Settings come from the environment (PANEL_SERVER_URL, PANEL_CACHE_PATH,
ADMIN_PASSWORD, ...) and may be overridden with the options below.

Usage:
    panel display [--server=<url>] [--cache=<path>]
    panel show [--server=<url>] [--cache=<path>] [--at=<hh:mm>]
    panel admin set-status <status> [options]
    panel admin set <field> <value> [options]
    panel admin add-slide [--title=<title>] [--description=<text>] [--url=<url>] [--image=<image>] [options]
    panel admin update-slide <index> <field> <value> [options]
    panel admin remove-slide <index> [options]
    panel admin ensure-time-slots [options]
    panel admin add-time-slot [--start=<hh:mm>] [--end=<hh:mm>] [--image=<image>] [--label=<label>] [options]
    panel admin update-time-slot <index> <field> <value> [options]
    panel admin remove-time-slot <index> [options]
    panel -h | --help
    panel --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --server=<url>         Room panel server base URL.
    --cache=<path>         Device cache file.
    --password=<password>  Admin password for writes.
    --timeout=<duration>   How long to wait for the store to accept an edit [default: 10s].
    --at=<hh:mm>           Render as if it were this time of day.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PanelVersion)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if server, _ := opts.String("--server"); server != "" {
		cfg.ServerURL = server
	}
	if cache, _ := opts.String("--cache"); cache != "" {
		cfg.CachePath = cache
	}
	if password, _ := opts.String("--password"); password != "" {
		cfg.AdminPassword = password
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if display_, _ := opts.Bool("display"); display_ {
		err = display(ctx, cfg)
	} else if show_, _ := opts.Bool("show"); show_ {
		err = show(ctx, cfg, opts)
	} else if admin_, _ := opts.Bool("admin"); admin_ {
		err = admin(ctx, cfg, opts)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// newSession wires one device session: HTTP store, websocket feed, bbolt
// cache and the sibling signal.
func newSession(cfg *config.ClientConfig, onChange func(models.Document, syncengine.Origin)) (*syncengine.Session, error) {
	store := apiclient.NewClient(cfg.ServerURL, cfg.AdminPassword)
	feed, err := apiclient.NewFeed(cfg.ServerURL, cfg.ReconnectMin, cfg.ReconnectMax)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	// Views on this device share the cache file; the slot signal tells each
	// process about the others' edits.
	var cache syncengine.Cache
	var siblings syncengine.Siblings
	bolt, err := device.OpenBoltCache(cfg.CachePath, cfg.CacheSlot, cfg.CacheLimit)
	if err != nil {
		log.Printf("⚠️  Device cache unavailable, keeping it in memory: %v", err)
		cache = device.NewMemoryCache(cfg.CacheLimit)
		siblings = device.NewBus()
	} else {
		cache = bolt
		siblings = device.NewSlotSignal(bolt, clockwork.NewRealClock(), cfg.SiblingInterval)
	}

	session := syncengine.NewSession(store, feed, cache, siblings, syncengine.Options{
		Default:          panel.DefaultDocument,
		DebounceInterval: cfg.DebounceInterval,
		PollInterval:     cfg.PollInterval,
		PushTimeout:      cfg.PushTimeout,
		OnChange:         onChange,
		OnWarning: func(err error) {
			if errors.Is(err, syncengine.ErrQuotaExceeded) {
				log.Printf("⚠️  Storage limit exceeded. Use smaller images or remove some backgrounds.")
				return
			}
			log.Printf("⚠️  %v", err)
		},
	})
	return session, nil
}

// display keeps a live panel on stdout until interrupted. It redraws on
// every document change, slide advance and minute boundary.
func display(ctx context.Context, cfg *config.ClientConfig) error {
	redraw := make(chan struct{}, 1)
	poke := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	rotator := panel.NewRotator(clockwork.NewRealClock(), panel.SlideInterval, func(int) { poke() })
	defer rotator.Stop()

	session, err := newSession(cfg, func(doc models.Document, _ syncengine.Origin) {
		if data, err := panel.Parse(doc); err == nil {
			rotator.SetCount(len(data.Slides))
		}
		poke()
	})
	if err != nil {
		return err
	}
	session.Start(ctx)
	defer session.Close()

	log.Printf("🌐 Display connected to %s", cfg.ServerURL)

	minute := time.NewTicker(time.Minute)
	defer minute.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Display stopped")
			return nil
		case <-redraw:
		case <-minute.C:
		}
		snap, err := session.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
		v, err := panel.Render(snap.Doc, time.Now(), rotator.Index())
		if err != nil {
			log.Printf("⚠️  Cannot render document: %v", err)
			continue
		}
		printView(v, snap)
	}
}

func show(ctx context.Context, cfg *config.ClientConfig, opts docopt.Opts) error {
	now := time.Now()
	if at, _ := opts.String("--at"); at != "" {
		t, err := time.ParseInLocation("15:04", at, time.Local)
		if err != nil {
			return fmt.Errorf("--at must be HH:MM: %w", err)
		}
		now = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
	}

	session, err := newSession(cfg, nil)
	if err != nil {
		return err
	}
	session.Start(ctx)
	defer session.Close()

	if err := session.WaitReady(ctx); err != nil {
		return err
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		return err
	}
	v, err := panel.Render(snap.Doc, now, 0)
	if err != nil {
		return err
	}
	printView(v, snap)
	return nil
}

func admin(ctx context.Context, cfg *config.ClientConfig, opts docopt.Opts) error {
	edit, err := adminEdit(opts)
	if err != nil {
		return err
	}
	timeout := 10 * time.Second
	if raw, _ := opts.String("--timeout"); raw != "" {
		if timeout, err = time.ParseDuration(raw); err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
	}

	session, err := newSession(cfg, nil)
	if err != nil {
		return err
	}
	session.Start(ctx)
	defer session.Close()

	if err := session.WaitReady(ctx); err != nil {
		return err
	}
	if err := session.Update(ctx, panel.Updater(edit)); err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	switch err := session.Flush(flushCtx); {
	case err == nil:
		log.Println("✓ Saved")
	case errors.Is(err, syncengine.ErrRejected):
		return fmt.Errorf("server rejected the edit (check ADMIN_PASSWORD): %w", err)
	case errors.Is(err, syncengine.ErrStoreUnreachable):
		log.Printf("⚠️  Server unreachable, edit saved to the device cache only")
	default:
		return err
	}
	return nil
}

// adminEdit maps the admin subcommand to a document edit.
func adminEdit(opts docopt.Opts) (panel.Edit, error) {
	str := func(key string) string {
		s, _ := opts.String(key)
		return s
	}
	index := func() (int, error) {
		i, err := strconv.Atoi(str("<index>"))
		if err != nil {
			return 0, fmt.Errorf("<index> must be a number: %w", err)
		}
		return i, nil
	}
	cmd := func(name string) bool {
		b, _ := opts.Bool(name)
		return b
	}

	switch {
	case cmd("set-status"):
		return panel.SetStatus(strings.ToLower(str("<status>"))), nil
	case cmd("set"):
		return panel.SetField(str("<field>"), str("<value>")), nil
	case cmd("add-slide"):
		return panel.AddSlide(panel.Slide{
			Title:           str("--title"),
			Description:     str("--description"),
			URL:             str("--url"),
			BackgroundImage: str("--image"),
		}), nil
	case cmd("update-slide"):
		i, err := index()
		if err != nil {
			return nil, err
		}
		return panel.UpdateSlide(i, str("<field>"), str("<value>")), nil
	case cmd("remove-slide"):
		i, err := index()
		if err != nil {
			return nil, err
		}
		return panel.RemoveSlide(i), nil
	case cmd("ensure-time-slots"):
		return panel.EnsureTimeSlots(), nil
	case cmd("add-time-slot"):
		return panel.AddTimeSlot(panel.TimeSlot{
			StartTime: str("--start"),
			EndTime:   str("--end"),
			Image:     str("--image"),
			Label:     str("--label"),
		}), nil
	case cmd("update-time-slot"):
		i, err := index()
		if err != nil {
			return nil, err
		}
		return panel.UpdateTimeSlot(i, str("<field>"), str("<value>")), nil
	case cmd("remove-time-slot"):
		i, err := index()
		if err != nil {
			return nil, err
		}
		return panel.RemoveTimeSlot(i), nil
	}
	return nil, errors.New("unknown admin command")
}

func printView(v panel.View, snap syncengine.Snapshot) {
	mode := "online"
	if !snap.Reachable {
		mode = "offline"
	}
	Out.Printf("[%s] %s", mode, v.RoomName)
	Out.Printf("  %s", v.Meta)
	Out.Printf("  status: %s (%s)", v.StatusLabel, v.Status)
	if v.Background != "" {
		Out.Printf("  background: %s", v.Background)
	} else {
		Out.Printf("  background colour: %s", v.BackgroundColor)
	}
	if v.Slide == nil {
		Out.Printf("  %s", v.SlideText)
		return
	}
	Out.Printf("  slide %d/%d: %s", v.SlideIndex+1, v.SlideCount, v.Slide.Title)
	if v.Slide.Description != "" {
		Out.Printf("    %s", v.Slide.Description)
	}
	if v.Slide.URL != "" {
		Out.Printf("    %s", v.Slide.URL)
	}
}
