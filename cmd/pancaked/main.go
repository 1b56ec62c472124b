// pancaked runs the pancake order system: the workflow engine, the
// activity workers, or a one-shot order submission.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	pancake "github.com/andrius0/pancake"
	"github.com/andrius0/pancake/activities"

	_ "github.com/lib/pq"
)

// OrderSubject is the NATS subject where new orders are submitted.
const OrderSubject = "PANCAKE.Orders"

// Config is the daemon configuration, loaded from YAML with environment
// variable fallbacks for the connection URLs.
type Config struct {
	NATSURL        string   `yaml:"nats_url"`
	DatabaseURL    string   `yaml:"database_url"`
	RedisURL       string   `yaml:"redis_url"`
	RedisChannel   string   `yaml:"redis_channel"`
	TablePrefix    string   `yaml:"table_prefix"`
	InventoryTable string   `yaml:"inventory_table"`
	Queues         []string `yaml:"queues"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		NATSURL:      nats.DefaultURL,
		RedisChannel: pancake.DefaultStatusChannel,
		TablePrefix:  "pancake",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" && cfg.RedisURL == "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "engine":
		err = runEngine(ctx, cfg)
	case "worker":
		err = runWorker(ctx, cfg, args[1:])
	case "order":
		err = runOrder(ctx, cfg, args[1:])
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func printUsage() {
	fmt.Println(`pancaked - pancake order system daemon

Usage:
  pancaked [flags] <mode> [args]

Flags:
  -config string   Path to YAML config file

Modes:
  engine           Run the workflow engine: resume interrupted runs,
                   then accept orders from ` + OrderSubject + `
  worker           Run activity workers (-queues to select a subset)
  order <text>     Submit an order (-id and -name flags)
  help             Show this help message

Environment:
  NATS_URL, DATABASE_URL, REDIS_URL, REDIS_CHANNEL override the config.`)
}

func connectNATS(cfg *Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("pancaked"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
	}
	return nc, nil
}

func openDB(cfg *Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url required (or set DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func buildEmitter(cfg *Config) (pancake.StatusEmitter, func(), error) {
	if cfg.RedisURL == "" {
		return pancake.NopEmitter{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return pancake.NewRedisEmitter(client, cfg.RedisChannel), func() { client.Close() }, nil
}

func runEngine(ctx context.Context, cfg *Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := pancake.NewPostgresHistory(db, cfg.TablePrefix)
	if err != nil {
		return err
	}

	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	emitter, closeEmitter, err := buildEmitter(cfg)
	if err != nil {
		return err
	}
	defer closeEmitter()

	engine := pancake.NewEngine(store, pancake.NewNATSDispatcher(nc), pancake.EngineOptions{
		Lock:    pancake.NewPostgresLock(db),
		Emitter: emitter,
		Events: &pancake.RunEvents{
			OnRunComplete: func(runID string, result json.RawMessage) {
				log.Printf("run %s completed", runID)
			},
			OnRunFailed: func(runID string, err error) {
				log.Printf("run %s failed: %v", runID, err)
			},
			OnRetry: func(runID, name string, attempt int, backoff time.Duration) {
				log.Printf("run %s: retrying %s after attempt %d in %v", runID, name, attempt, backoff)
			},
			OnEmitDropped: func(runID string, err error) {
				log.Printf("run %s: status event dropped: %v", runID, err)
			},
		},
	})

	resumed, err := engine.ResumeAll(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if resumed > 0 {
		log.Printf("resumed %d interrupted runs", resumed)
	}

	var wg sync.WaitGroup
	sub, err := nc.QueueSubscribe(OrderSubject, "engine", func(msg *nats.Msg) {
		var order pancake.OrderRequest
		if err := json.Unmarshal(msg.Data, &order); err != nil {
			log.Printf("bad order payload: %v", err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Execute(ctx, order); err != nil {
				log.Printf("order %s: %v", order.OrderID, err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", OrderSubject, err)
	}

	log.Printf("engine accepting orders on %s", OrderSubject)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		log.Printf("drain: %v", err)
	}
	wg.Wait()
	return nil
}

func runWorker(ctx context.Context, cfg *Config, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	queueList := fs.String("queues", "", "Comma-separated queues to serve (default all)")
	_ = fs.Parse(args)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	selected := cfg.Queues
	if *queueList != "" {
		selected = strings.Split(*queueList, ",")
	}
	serve := map[string]bool{}
	for _, q := range selected {
		serve[strings.TrimSpace(q)] = true
	}

	workers := activities.NewWorkers(nc, activities.Deps{
		InventoryDB:    db,
		InventoryTable: cfg.InventoryTable,
	})

	var wg sync.WaitGroup
	started := 0
	for _, w := range workers {
		if len(serve) > 0 && !serve[w.Queue()] {
			continue
		}
		started++
		wg.Add(1)
		go func(w *pancake.Worker) {
			defer wg.Done()
			if err := w.Start(ctx); err != nil {
				log.Printf("worker %s: %v", w.ID(), err)
			}
		}(w)
	}
	if started == 0 {
		return fmt.Errorf("no queues selected")
	}

	log.Printf("serving %d queues", started)
	wg.Wait()
	return nil
}

func runOrder(ctx context.Context, cfg *Config, args []string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	orderID := fs.String("id", "", "Order id (required)")
	name := fs.String("name", "", "Customer name")
	instructions := fs.String("instructions", "", "Special instructions")
	_ = fs.Parse(args)

	if *orderID == "" {
		return fmt.Errorf("order id required (-id)")
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("order text required")
	}

	order := pancake.OrderRequest{
		OrderID:             *orderID,
		CustomerOrder:       strings.Join(fs.Args(), " "),
		CustomerName:        *name,
		SpecialInstructions: *instructions,
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := nc.Publish(OrderSubject, data); err != nil {
		return fmt.Errorf("publish order: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	fmt.Printf("order %s submitted as run %s\n", order.OrderID, pancake.RunID(order.OrderID))
	return nil
}
