package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redbco/redb-search/internal/cache"
	"github.com/redbco/redb-search/internal/engine"
	"github.com/redbco/redb-search/internal/index"
	"github.com/redbco/redb-search/internal/search"
	"github.com/redbco/redb-search/pkg/config"
	"github.com/redbco/redb-search/pkg/database"
	"github.com/redbco/redb-search/pkg/logger"
)

var (
	configPath     = flag.String("config", "", "Path to the YAML configuration file")
	serviceVersion = "1.0.0"
)

func main() {
	flag.Parse()

	log := logger.New("search", serviceVersion)

	cfg := config.New()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	cfg.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("Failed to run service: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	primaryDSN := cfg.GetWithDefault("database.primary", "postgres://localhost:5432/search")
	replicaDSNs := splitList(cfg.Get("database.replicas"))

	cluster, err := database.NewCluster(ctx, primaryDSN, replicaDSNs)
	if err != nil {
		return fmt.Errorf("failed to connect to database cluster: %w", err)
	}
	defer cluster.Close()
	log.Infof("Connected to primary and %d replica(s)", len(cluster.Replicas()))

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Addr = cfg.GetWithDefault("redis.addr", redisCfg.Addr)
	redisCfg.Password = cfg.Get("redis.password")
	redisConn, err := database.NewRedis(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisConn.Close()
	log.Infof("Connected to redis at %s", redisCfg.Addr)

	cacheSvc := cache.NewService(cache.NewRedisStore(redisConn), durationSetting(cfg, "cache.l1_ttl", log), log)
	defer cacheSvc.Stop()

	tracker := cache.NewWriteTracker(0)
	searchSvc := search.NewService(cacheSvc, tracker, durationSetting(cfg, "cache.result_ttl", log), log)

	replicaStores := make([]index.Store, 0, len(cluster.Replicas()))
	for _, replica := range cluster.Replicas() {
		replicaStores = append(replicaStores, replica.Pool())
	}
	replicator := index.NewReplicator(cluster.Primary().Pool(), replicaStores, cacheSvc, log)

	router := database.NewRouter(cluster, log)

	eng := engine.NewEngine(cfg, router, searchSvc, replicator, tracker, log)
	eng.RegisterHealthCheck("primary", pingCheck(cluster.Primary()))
	for i, replica := range cluster.Replicas() {
		eng.RegisterHealthCheck(fmt.Sprintf("replica-%d", i+1), pingCheck(replica))
	}
	eng.RegisterHealthCheck("redis", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return redisConn.Ping(checkCtx)
	})

	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eng.Stop(shutdownCtx)
}

func pingCheck(db *database.PostgreSQL) func() error {
	return func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.Ping(checkCtx)
	}
}

// durationSetting parses an optional duration setting; zero means use the
// consumer's default.
func durationSetting(cfg *config.Config, key string, log *logger.Logger) time.Duration {
	raw := cfg.Get(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("Ignoring invalid duration for %s: %q", key, raw)
		return 0
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
