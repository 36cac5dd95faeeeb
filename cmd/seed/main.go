package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redbco/redb-search/internal/cache"
	"github.com/redbco/redb-search/internal/index"
	"github.com/redbco/redb-search/pkg/config"
	"github.com/redbco/redb-search/pkg/database"
	"github.com/redbco/redb-search/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file")
	tenantID   = flag.Int64("tenant", 1, "Tenant to seed")
	count      = flag.Int("count", 10000, "Entities to index per entity type")
	seed       = flag.Int64("seed", 42, "Random seed for reproducible data")
)

var entityTypes = []string{"user", "post", "hashtag", "location"}

var (
	nouns      = []string{"sunset", "beach", "mountain", "coffee", "garden", "skyline", "harbor", "forest", "desert", "river", "market", "studio", "gallery", "stadium", "festival"}
	adjectives = []string{"golden", "quiet", "vivid", "hidden", "ancient", "electric", "misty", "crowded", "serene", "wild"}
	firstNames = []string{"Alex", "Sam", "Jordan", "Casey", "Riley", "Morgan", "Quinn", "Avery", "Rowan", "Sage"}
	lastNames  = []string{"Rivera", "Chen", "Okafor", "Larsson", "Tanaka", "Novak", "Iqbal", "Moreau", "Silva", "Kowalski"}
	languages  = []string{"english", "spanish", "french", "german", "japanese"}
)

func main() {
	flag.Parse()

	log := logger.New("search-seed", "1.0.0")

	cfg := config.New()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	cfg.LoadEnv()

	ctx := context.Background()

	primaryDSN := cfg.GetWithDefault("database.primary", "postgres://localhost:5432/search")
	replicaDSNs := splitList(cfg.Get("database.replicas"))

	cluster, err := database.NewCluster(ctx, primaryDSN, replicaDSNs)
	if err != nil {
		log.Fatalf("Failed to connect to database cluster: %v", err)
	}
	defer cluster.Close()

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Addr = cfg.GetWithDefault("redis.addr", redisCfg.Addr)
	redisConn, err := database.NewRedis(ctx, redisCfg)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisConn.Close()

	cacheSvc := cache.NewService(cache.NewRedisStore(redisConn), 0, log)
	defer cacheSvc.Stop()

	replicaStores := make([]index.Store, 0, len(cluster.Replicas()))
	for _, replica := range cluster.Replicas() {
		replicaStores = append(replicaStores, replica.Pool())
	}
	replicator := index.NewReplicator(cluster.Primary().Pool(), replicaStores, cacheSvc, log)

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now()
	total := 0

	log.Infof("Seeding %d entities per type for tenant %d", *count, *tenantID)

	for _, entityType := range entityTypes {
		for i := 1; i <= *count; i++ {
			fields := generate(rng, entityType, i)
			entityID := int64(i)
			if err := replicator.IndexEntity(ctx, *tenantID, entityType, entityID, fields); err != nil {
				log.Fatalf("Failed to index %s/%d: %v", entityType, entityID, err)
			}
			total++
			if total%1000 == 0 {
				log.Infof("Indexed %d entities", total)
			}
		}
		log.Infof("Finished seeding %ss", entityType)
	}

	log.Infof("Seeded %d entities in %s", total, time.Since(start).Round(time.Second))
}

func generate(rng *rand.Rand, entityType string, i int) index.Fields {
	adjective := adjectives[rng.Intn(len(adjectives))]
	noun := nouns[rng.Intn(len(nouns))]
	author := firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))]
	publishedAt := time.Now().Add(-time.Duration(rng.Intn(365*24)) * time.Hour)

	fields := index.Fields{
		PrimaryText:   fmt.Sprintf("%s %s", adjective, noun),
		SecondaryText: fmt.Sprintf("Notes about the %s %s, entry %d", adjective, noun, i),
		Slug:          fmt.Sprintf("%s-%s-%d", adjective, noun, i),
		TechnicalIDs:  uuid.NewString(),
		AuthorID:      int64(rng.Intn(10000) + 1),
		AuthorName:    author,
		FollowerCount: int64(rng.Intn(100000)),
		LikeCount:     int64(rng.Intn(50000)),
		CommentCount:  int64(rng.Intn(5000)),
		ViewCount:     int64(rng.Intn(1000000)),
		Tags:          []string{adjective, noun},
		Topics:        []string{noun},
		Language:      languages[rng.Intn(len(languages))],
		IsVerified:    rng.Float64() > 0.9,
		IsPublished:   rng.Float64() > 0.1,
		PublishedAt:   &publishedAt,
		Attributes: map[string]interface{}{
			"source": "seed",
			"batch":  i / 1000,
		},
	}

	switch entityType {
	case "user":
		fields.PrimaryText = author
		fields.SecondaryText = fmt.Sprintf("Sharing %s %s photos", adjective, noun)
	case "hashtag":
		fields.PrimaryText = "#" + noun
		fields.SecondaryText = ""
		fields.AuthorName = ""
	case "location":
		fields.PrimaryText = titleCase(adjective) + " " + titleCase(noun)
		fields.BrandID = int64(rng.Intn(500) + 1)
		fields.BrandName = titleCase(noun) + " Co"
	}

	return fields
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
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
