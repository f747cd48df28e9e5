// Command worldloader loads YAML world files into a live scene graph and
// serves it over HTTP. With -load it performs a single load, prints the
// resulting scene tree and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sutera/worldloader/internal/api"
	"github.com/sutera/worldloader/internal/asset"
	"github.com/sutera/worldloader/internal/config"
	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/mqtt"
	"github.com/sutera/worldloader/internal/orchestrator"
	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/storage/postgres"
	"github.com/sutera/worldloader/internal/version"
	"github.com/sutera/worldloader/internal/world"
)

func main() {
	configPath := flag.String("config", os.Getenv("SUTERA_CONFIG"), "path to loader.yaml")
	loadPath := flag.String("load", "", "load this world file once, print the scene tree and exit")
	asJSON := flag.Bool("json", false, "with -load, print the scene as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *loadPath != "" {
		os.Exit(loadOnce(cfg, *loadPath, *asJSON))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg); err != nil {
		log.Fatalf("worldloader: %v", err)
	}
}

func newOrchestrator(cfg *config.Config, history orchestrator.History) *orchestrator.Orchestrator {
	assets := asset.NewFileLoader(cfg.World.ModelsDir)
	assets.Mount = cfg.World.MountRoot
	return orchestrator.New(scene.NewGraph(), assets, orchestrator.Options{
		RoomID:      cfg.Room.ID,
		Resolver:    world.Resolver{Root: cfg.World.MountRoot},
		Workers:     cfg.World.Workers,
		DefaultPath: cfg.World.Path,
		History:     history,
	})
}

// loadOnce loads path into an empty scene. On failure the error is logged
// and the scene is left as it was.
func loadOnce(cfg *config.Config, path string, asJSON bool) int {
	events.SetOutput(os.Stderr)
	orch := newOrchestrator(cfg, nil)

	res := orch.Load(context.Background(), orchestrator.Request{Path: path, Source: orchestrator.SourceCLI})
	if !res.OK {
		var werr *world.Error
		if errors.As(res.Err(), &werr) {
			log.Printf("world load failed: %s", werr.Detail())
		} else {
			log.Printf("world load failed: %v", res.Err())
		}
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(orch.Graph().Snapshot()); err != nil {
			log.Printf("encode scene: %v", err)
			return 1
		}
		return 0
	}
	orch.Graph().Read(func(root *scene.Node) {
		fmt.Print(root.Dump())
	})
	return 0
}

func serve(ctx context.Context, cfg *config.Config) error {
	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "worldloader starting", map[string]interface{}{
		"service":  "worldloader",
		"version":  version.Version,
		"room_id":  cfg.Room.ID,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	var pg *postgres.Client
	if cfg.Postgres.Enabled {
		var err error
		pg, err = postgres.New(ctx, postgres.Options{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, cfg.Room.ID)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		events.SetStore(pg)
	}

	var history orchestrator.History
	apiOpts := api.Options{RoomID: cfg.Room.ID, Auth: cfg.Auth}
	if pg != nil {
		history = pg
		apiOpts.History = pg
		apiOpts.PostgresPing = pg.Ping
	}
	orch := newOrchestrator(cfg, history)

	var trigger *mqtt.Trigger
	if cfg.MQTTEnabled() {
		topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix, Room: cfg.Room.ID}
		client := mqtt.NewClient(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			StatusTopic: topics.Status(),
		})
		// The client keeps retrying in the background.
		if err := client.Connect(); err != nil {
			log.Printf("mqtt: initial connect to %s failed: %v", cfg.MQTT.Broker, err)
		}
		defer client.Disconnect()

		trigger = mqtt.NewTrigger(ctx, client, orch, topics)
		if err := trigger.Start(); err != nil {
			log.Printf("mqtt: subscribe to %s failed: %v", topics.Load(), err)
		}
		apiOpts.MQTTConnected = client.IsConnected
	}

	tlsCfg, err := api.LoadTLSConfig(cfg.Network.TLSCert, cfg.Network.TLSKey)
	if err != nil {
		return err
	}
	server := api.NewServer(orch, apiOpts)
	alerter := api.NewAlerter(api.AlertOptions{
		WebhookURL:    cfg.Alerts.WebhookURL,
		RoomID:        cfg.Room.ID,
		MQTTDelay:     cfg.Alerts.MQTTDelay,
		PostgresDelay: cfg.Alerts.PostgresDelay,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.HTTPPort(), tlsCfg)
	})
	g.Go(func() error {
		alerter.WatchLoads(gctx)
		return nil
	})
	g.Go(func() error {
		alerter.Monitor(gctx, 5*time.Second, apiOpts.MQTTConnected, apiOpts.PostgresPing)
		return nil
	})
	g.Go(func() error {
		startupLoad(gctx, cfg, orch, pg)
		return nil
	})

	err = g.Wait()
	if trigger != nil {
		trigger.Wait()
	}
	alerter.Wait()
	events.Emit("info", "system.shutdown", "worldloader stopping", map[string]interface{}{
		"service": "worldloader",
	})
	return err
}

// startupLoad restores the last world when configured, falling back to the
// configured world path.
func startupLoad(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, pg *postgres.Client) {
	if cfg.World.RestoreLast && pg != nil {
		res, restored, err := orch.RestoreLastWorld(ctx, pg)
		switch {
		case err != nil:
			log.Printf("restore: %v", err)
		case restored && res.OK:
			return
		case restored:
			log.Printf("restore: reloading %s failed: %v", res.Path, res.Err())
		}
	}
	if cfg.World.Path == "" {
		return
	}
	res := orch.Load(ctx, orchestrator.Request{Path: cfg.World.Path, Source: orchestrator.SourceStartup})
	if !res.OK {
		log.Printf("startup load of %s failed: %v", cfg.World.Path, res.Err())
	}
}
