package statecache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielabritta/argo/telemetry"
)

// DefaultTTL is how long a cached state entry survives without refresh.
const DefaultTTL = 300 * time.Second

// Cache is the ephemeral latest-state store consulted by the read path and
// refreshed by every ingested message. Put overwrites unconditionally; Get
// reports absence via the bool, indistinguishable from expiry. PurgeRover
// removes every entry referencing a rover so deleted rovers leave no stale
// keys behind.
type Cache interface {
	Put(ctx context.Context, kind telemetry.Kind, substationID, roverID string, payload []byte) error
	Get(ctx context.Context, kind telemetry.Kind, substationID, roverID string) ([]byte, bool, error)
	PurgeRover(ctx context.Context, roverID string) error
	Close() error
}

// Key builds the cache key for one (kind, substation, rover) triple:
// "telemetry:subSUB001:roverRover-Argo-N-0".
func Key(kind telemetry.Kind, substationID, roverID string) string {
	return fmt.Sprintf("%s:sub%s:rover%s", kind, substationID, roverID)
}

// roverPattern is the glob matching every key that references roverID. The
// rover segment is the key suffix, so the pattern anchors there to avoid
// sweeping rover "R-1" keys when purging rover "R-10".
func roverPattern(roverID string) string {
	return "*:rover" + roverID
}

// keyReferencesRover reports whether a cache key belongs to roverID, using
// the same suffix anchoring as roverPattern.
func keyReferencesRover(key, roverID string) bool {
	return strings.HasSuffix(key, ":rover"+roverID)
}
