package store

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/kapy/internal/record"
)

// Artifact file suffixes. All three share the <id> stem.
const (
	coreSuffix      = ".core.json"
	detailedSuffix  = ".detailed.jsonl"
	compactedSuffix = ".compacted.json"

	// lockSuffix marks lock files next to an artifact.
	lockSuffix = ".lock"
)

// RecordsDir is the subdirectory of the memories root holding buckets.
const RecordsDir = "records"

// Paths locates the artifacts of one record.
type Paths struct {
	Dir       string
	Core      string
	Detailed  string
	Compacted string
}

// PathsFor derives every artifact path of id from one bucket directory:
// <root>/records/YYYY/MM/DD/HH in UTC.
func PathsFor(root, id string, createdAt time.Time) Paths {
	return pathsIn(filepath.Join(root, RecordsDir, bucket(createdAt)), id)
}

func pathsIn(dir, id string) Paths {
	return Paths{
		Dir:       dir,
		Core:      filepath.Join(dir, id+coreSuffix),
		Detailed:  filepath.Join(dir, id+detailedSuffix),
		Compacted: filepath.Join(dir, id+compactedSuffix),
	}
}

// bucket returns the YYYY/MM/DD/HH path for t.
func bucket(t time.Time) string {
	return filepath.FromSlash(t.UTC().Format("2006/01/02/15"))
}

// pathsForID derives paths from the timestamp encoded in id.
func pathsForID(root, id string) (Paths, bool) {
	ts, err := record.TimeFromID(id)
	if err != nil {
		return Paths{}, false
	}
	return PathsFor(root, id, ts), true
}

// idFromCoreName returns the id stem of a *.core.json file name.
func idFromCoreName(name string) (string, bool) {
	if !strings.HasSuffix(name, coreSuffix) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return strings.TrimSuffix(name, coreSuffix), true
}
