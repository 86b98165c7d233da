package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/callrec/internal/audio"
	"github.com/petems/callrec/internal/config"
	"github.com/petems/callrec/internal/logging"
	"github.com/petems/callrec/internal/mix"
	"github.com/petems/callrec/internal/permissions"
	"github.com/petems/callrec/internal/session"
	"github.com/petems/callrec/internal/version"
)

func main() {
	var (
		label       = flag.String("label", "", "label for the recording, used in the output file name")
		configPath  = flag.String("config", "", "path to config file (defaults to the platform config dir)")
		listDevices = flag.Bool("list-devices", false, "list audio input devices and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("callrec %s (%s)\n", version.Version, version.Commit)
		return
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	if *listDevices {
		devices, err := audio.ListInputDevices()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list devices")
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, d.Name)
		}
		return
	}

	// One controller, built here; collaborators are passed in rather
	// than reached through globals.
	controller := session.NewController(
		session.Config{
			OutputDir:        cfg.OutputDir,
			MinLoopbackBytes: cfg.Mix.MinLoopbackBytes,
			CheckPeriod:      cfg.Silence.CheckPeriod(),
			AutoStopAfter:    cfg.Silence.AutoStopAfter(),
		},
		session.Deps{
			Mic: func(onActivity audio.ActivityFunc) audio.Source {
				return audio.NewMicSource(audio.MicConfig{
					DeviceID:          cfg.Audio.DeviceID,
					SampleRate:        cfg.Audio.MicSampleRate,
					ActivityThreshold: cfg.Silence.MicThreshold,
				}, onActivity, log)
			},
			Loopback: func(onActivity audio.ActivityFunc) audio.Source {
				return audio.NewLoopbackSource(audio.LoopbackConfig{
					ActivityThreshold: cfg.Silence.LoopbackThreshold,
				}, onActivity, log)
			},
			Mixer:           mix.New(cfg.Mix.Timeout(), log),
			CheckPermission: permissions.CheckMicrophoneAccess,
		},
		log,
	)

	primary, err := controller.Start(*label)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}
	fmt.Printf("Recording to %s (Ctrl+C to stop)\n", primary)
	if sess := controller.Current(); sess != nil && sess.Degraded() {
		fmt.Println("Note: system audio unavailable, recording microphone only")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for Ctrl+C or the silence monitor's auto-stop.
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-sigChan:
			artifact, err := controller.Stop(context.Background())
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to stop recording")
			}
			fmt.Println(artifact)
			return
		case <-poll.C:
			if controller.State() == session.Stopped {
				if sess := controller.Current(); sess != nil {
					fmt.Println(sess.Artifact())
				}
				return
			}
		}
	}
}
