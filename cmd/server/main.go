// Package main is the entry point for the pulsegrid lighting server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veilstage/pulsegrid/internal/audioband"
	"github.com/veilstage/pulsegrid/internal/bridge"
	"github.com/veilstage/pulsegrid/internal/catalog"
	"github.com/veilstage/pulsegrid/internal/config"
	"github.com/veilstage/pulsegrid/internal/database"
	"github.com/veilstage/pulsegrid/internal/database/models"
	"github.com/veilstage/pulsegrid/internal/database/repositories"
	"github.com/veilstage/pulsegrid/internal/dmx"
	"github.com/veilstage/pulsegrid/internal/engine"
	"github.com/veilstage/pulsegrid/internal/fixture"
	"github.com/veilstage/pulsegrid/internal/kick"
	"github.com/veilstage/pulsegrid/internal/monitor"
	"github.com/veilstage/pulsegrid/internal/netmonitor"
	"github.com/veilstage/pulsegrid/internal/netrx"
	"github.com/veilstage/pulsegrid/internal/scheduler"
	"github.com/veilstage/pulsegrid/internal/sustain"
	"github.com/veilstage/pulsegrid/internal/version"
	"github.com/veilstage/pulsegrid/pkg/artnet"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// settingKey names for the key/value settings table.
const (
	settingArtNetBroadcast = "artnet_broadcast_address"
	settingKickFlash       = "kick_flash_config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	version.SetBuildInfo(Version, GitCommit, BuildTime)
	printBanner(cfg)

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close() }()

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migrations complete")

	settingRepo := repositories.NewSettingRepository(db)
	ctx := context.Background()

	broadcastAddr := cfg.ArtNetBroadcast
	if saved, err := settingRepo.FindByKey(ctx, settingArtNetBroadcast); err == nil && saved != nil && saved.Value != "" {
		log.Printf("Loading saved Art-Net broadcast address: %s", saved.Value)
		broadcastAddr = saved.Value
	}

	if targets, err := netmonitor.ListBroadcastTargets(); err != nil {
		log.Printf("Warning: could not enumerate network interfaces: %v", err)
	} else if suggestion, err := netmonitor.ValidateTarget(broadcastAddr, targets); err != nil {
		log.Printf("Warning: %v", err)
	} else if suggestion != "" {
		log.Printf("Note: a better Art-Net broadcast target may be %q", suggestion)
	}

	sender, err := artnet.NewSender(broadcastAddr)
	if err != nil {
		log.Fatalf("Failed to open Art-Net sender: %v", err)
	}
	sender.SetErrorHandler(func(err error) { log.Printf("artnet: %v", err) })
	defer func() { _ = sender.Close() }()

	buffer := dmx.NewBuffer(dmx.Config{
		Universe:  0,
		RefreshHz: cfg.RefreshHz,
		KeepAlive: cfg.KeepAlive,
	}, sender)

	registry, err := fixture.NewRegistry(defaultFixtures())
	if err != nil {
		log.Fatalf("Failed to build fixture registry: %v", err)
	}
	cat := catalog.Default()

	sched := scheduler.New(buffer, registry, cat, time.Duration(cfg.SchedulerTickMs)*time.Millisecond)

	flashCfg := bridge.FlashConfig{
		Enabled:   true,
		Intensity: 0.8,
		Mode:      bridge.ModeAlternate,
		Scenes:    []string{"flash-white"},
	}
	if saved, err := settingRepo.FindByKey(ctx, settingKickFlash); err == nil && saved != nil && saved.Value != "" {
		if parsed, ok := parseKickFlashConfig(saved.Value); ok {
			flashCfg = parsed
			log.Printf("Loaded saved kick-flash config: %+v", flashCfg)
		}
	}

	eng := engine.New(buffer, registry, sched, engine.Config{
		SampleRate: cfg.SampleRate,
		Analyzer: audioband.Config{
			SampleRate:     cfg.SampleRate,
			SmoothingAlpha: cfg.BandSmoothingAlpha,
		},
		Kick: kick.Config{
			SampleRate: cfg.SampleRate,
			CutoffHz:   cfg.KickCutoffHz,
			Threshold:  cfg.KickThreshold,
			MinEnergy:  cfg.KickMinEnergy,
			Refractory: cfg.KickRefractory,
		},
		Sustain: sustain.Config{
			WindowSize:         cfg.SustainedWindow,
			StabilityWindow:    cfg.SustainedStabilityWindow,
			StabilityThreshold: cfg.SustainedStabilityThreshold,
			SilenceThreshold:   cfg.FadeSilenceThreshold,
			FadeStartDelay:     cfg.FadeStartDelay,
			FadeDuration:       cfg.FadeDuration,
		},
		Flash: flashCfg,
		BandSequences: map[fixture.Band]string{
			fixture.Bass:    "bass-loop",
			fixture.LowMid:  "low-mid-loop",
			fixture.HighMid: "high-mid-loop",
			fixture.Treble:  "treble-loop",
		},
		QueueCapacity: 256,
	})
	eng.SetErrorHandler(func(err error) { log.Printf("engine: %v", err) })

	monitorServer := monitor.New(monitor.Config{
		CORSOrigin: cfg.CORSOrigin,
		Version:    Version,
		DMXBuffer:  buffer,
		Registry:   registry,
		Bridge:     eng.Bridge(),
		Thresholds: eng.Thresholds(),
		Bus:        eng.Bus(),
		Engine:     eng,
		Levels:     eng.Levels,
		DroppedFn:  eng.DroppedEvents,
		AudioSink: func(samples []float32) {
			eng.ProcessAudioChunk(samples, time.Now())
		},
		OnKickFlashChange: func(newCfg bridge.FlashConfig) {
			if _, err := settingRepo.Upsert(ctx, settingKickFlash, encodeKickFlashConfig(newCfg)); err != nil {
				log.Printf("Warning: failed to persist kick-flash config: %v", err)
			}
		},
	})

	var receiver *netrx.Receiver
	if cfg.NonInteractive {
		// T-net-rx runs by default; non-interactive (CI/Docker) runs skip it
		// since nothing is there to read its output.
	} else if r, err := netrx.New(0, func(f netrx.Frame) {
		log.Printf("netrx: observed inbound universe %d frame (%d bytes)", f.Universe, len(f.Data))
	}); err != nil {
		log.Printf("Warning: Art-Net receiver unavailable: %v", err)
	} else {
		receiver = r
		receiver.Start()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      monitorServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eng.Start()

	go func() {
		log.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if receiver != nil {
		receiver.Stop()
	}
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// defaultFixtures is the in-memory fixture set used when no fixture file is
// supplied; the on-disk format is out of scope (see internal/fixture's
// FromRaw for the bridge a real loader would use).
func defaultFixtures() []fixture.Fixture {
	offsets := fixture.Offsets{Red: 1, Green: 2, Blue: 3, White: 4}
	return []fixture.Fixture{
		{Name: "bass-par", StartChannel: 1, Offsets: offsets, Band: fixture.Bass, RespondsToKicks: true, KickSensitivity: 1.0},
		{Name: "low-mid-par", StartChannel: 5, Offsets: offsets, Band: fixture.LowMid, RespondsToKicks: false},
		{Name: "high-mid-par", StartChannel: 9, Offsets: offsets, Band: fixture.HighMid, RespondsToKicks: false},
		{Name: "treble-par", StartChannel: 13, Offsets: offsets, Band: fixture.Treble, RespondsToKicks: false},
	}
}

// encodeKickFlashConfig and parseKickFlashConfig (de)serialize a
// bridge.FlashConfig as "enabled|intensity|mode|scene1,scene2" for the
// persisted kick_flash_config setting — deliberately flat since the on-disk
// schema for richer config objects is out of scope; only this one composite
// value needs to survive a restart.
func encodeKickFlashConfig(cfg bridge.FlashConfig) string {
	return fmt.Sprintf("%t|%g|%s|%s", cfg.Enabled, cfg.Intensity, cfg.Mode, strings.Join(cfg.Scenes, ","))
}

func parseKickFlashConfig(raw string) (bridge.FlashConfig, bool) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return bridge.FlashConfig{}, false
	}
	enabled, err := strconv.ParseBool(parts[0])
	if err != nil {
		return bridge.FlashConfig{}, false
	}
	intensity, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return bridge.FlashConfig{}, false
	}
	var scenes []string
	if parts[3] != "" {
		scenes = strings.Split(parts[3], ",")
	}
	return bridge.FlashConfig{
		Enabled:   enabled,
		Intensity: intensity,
		Mode:      bridge.Mode(parts[2]),
		Scenes:    scenes,
	}, true
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  pulsegrid")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Art-Net:     %s:%d\n", cfg.ArtNetBroadcast, cfg.ArtNetPort)
	fmt.Println("============================================")
}
