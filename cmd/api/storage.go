package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/redis"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
	"github.com/kayakoyan/marketplace-backend/pkg/storage/gcs"
	"github.com/kayakoyan/marketplace-backend/pkg/storage/local"
)

const presenceTTL = time.Hour

func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, error) {
	if strings.EqualFold(cfg.Storage.Driver, config.StorageDriverGCS) {
		return gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	}
	return local.New(cfg.Storage.LocalRoot, cfg.Storage.PublicBaseURL)
}

func presenceStore(cfg *config.Config, client *redis.Client) realtime.PresenceStore {
	if strings.EqualFold(cfg.Presence.Store, "memory") || client == nil {
		return realtime.NewMemoryPresenceStore()
	}
	return realtime.NewRedisPresenceStore(client, presenceTTL)
}

// withLocalFiles serves uploads from disk when the local driver is active.
// Production deployments use the gcs driver and never reach this.
func withLocalFiles(cfg *config.Config, next http.Handler) http.Handler {
	if !strings.EqualFold(cfg.Storage.Driver, config.StorageDriverLocal) {
		return next
	}
	prefix := "/" + strings.Trim(cfg.Storage.PublicBaseURL, "/")
	if prefix == "/" {
		return next
	}
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.Storage.LocalRoot)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, prefix+"/") {
			files.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
