package db

import (
	"io/fs"
	"strconv"
	"strings"

	"github.com/persistorai/tenantwatch/internal/db/migrations"
)

// SchemaVersion is the highest migration version this build embeds. The
// health endpoint reports it so a mismatched deploy is visible.
func SchemaVersion() int64 {
	return latestVersion(migrations.FS)
}

// latestVersion reads the numeric prefix of each "NNN_name.sql" file in fsys.
func latestVersion(fsys fs.FS) int64 {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0
	}

	var latest int64
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}

		v, err := strconv.ParseInt(prefix, 10, 64)
		if err == nil && v > latest {
			latest = v
		}
	}

	return latest
}
