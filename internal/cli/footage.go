package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/bobarin/cueframe/internal/config"
	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/queue"
	"github.com/bobarin/cueframe/internal/services"
	"github.com/spf13/cobra"
)

var (
	manifestPath string
	redisCache   bool
)

// addFootageFlags registers the footage source flags shared by timeline and render.
func addFootageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML clip manifest (defaults to scout search via SCOUT_API_KEY)")
	cmd.Flags().BoolVar(&redisCache, "redis-cache", false, "Cache scout results in REDIS_URL")
}

// missResolver answers every cue with a miss.
var missResolver = footage.ResolverFunc(func(ctx context.Context, q footage.Query) (*models.ClipRef, error) {
	return nil, nil
})

// buildResolver picks the footage source: a manifest when given, scout search when
// a key is configured. With neither, required decides between an error and a
// resolver that misses every cue. The returned func releases any connections.
func buildResolver(cfg *config.Config, required bool) (footage.Resolver, func(), error) {
	noop := func() {}

	if manifestPath != "" {
		r, err := footage.LoadManifest(manifestPath)
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	}

	if cfg.ScoutAPIKey == "" {
		if required {
			return nil, noop, fmt.Errorf("no footage source: pass --manifest or set SCOUT_API_KEY")
		}
		log.Println("[CLI] no footage source configured, every cue will miss")
		return missResolver, noop, nil
	}

	var r footage.Resolver = services.NewScoutService(cfg.ScoutAPIURL, cfg.ScoutAPIKey)
	ttl := cfg.FootageCacheTTL()
	if !redisCache || ttl == 0 {
		return r, noop, nil
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return footage.NewCachedResolver(r, footage.NewRedisCache(q.Client()), ttl), func() { q.Close() }, nil
}
