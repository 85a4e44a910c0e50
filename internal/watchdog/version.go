package watchdog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/store"
)

const (
	VersionNamespace = "firmware"

	keyLastVersion = "last_version"
	keyUpdateFrom  = "update_from"
	keyUpdateTime  = "update_time"
)

type VersionChange struct {
	Previous  string
	Current   string
	FirstBoot bool
	Updated   bool
}

// TrackVersion remembers the running version and records where an update
// came from. Storage errors are logged and tracking is skipped.
func TrackVersion(ctx context.Context, kv store.KV, version string, now time.Duration, log *zap.Logger) VersionChange {
	vc := VersionChange{Current: version}

	last, err := kv.GetString(ctx, keyLastVersion, "")
	if err != nil {
		log.Warn("version_tracking_disabled", zap.Error(err))
		return vc
	}
	vc.Previous = last

	if last == version {
		from, _ := kv.GetString(ctx, keyUpdateFrom, "")
		at, _ := kv.GetUint(ctx, keyUpdateTime, 0)
		log.Info("version_known", zap.String("version", version),
			zap.String("last_update_from", from), zap.Uint64("last_update_ms", at))
		return vc
	}

	if last == "" {
		vc.FirstBoot = true
		log.Info("version_first_boot", zap.String("version", version))
	} else {
		vc.Updated = true
		log.Info("version_updated", zap.String("from", last), zap.String("to", version))
		if err := kv.PutUint(ctx, keyUpdateTime, uint64(now.Milliseconds())); err != nil {
			log.Warn("version_write_failed", zap.Error(err))
		}
		if err := kv.PutString(ctx, keyUpdateFrom, last); err != nil {
			log.Warn("version_write_failed", zap.Error(err))
		}
	}
	if err := kv.PutString(ctx, keyLastVersion, version); err != nil {
		log.Warn("version_write_failed", zap.Error(err))
	}
	return vc
}
