package taskstore

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

// sortKey orders tasks by creation time, then id.
type sortKey struct {
	created time.Time
	id      string
}

func keyOf(t *Task) sortKey {
	return sortKey{created: t.CreatedAt, id: t.ID}
}

// compare returns -1, 0 or 1 in ascending (created, id) order.
func (k sortKey) compare(o sortKey) int {
	switch {
	case k.created.Before(o.created):
		return -1
	case k.created.After(o.created):
		return 1
	}
	return strings.Compare(k.id, o.id)
}

// encodeCursor renders the key of the last task on a page. The format is
// opaque to callers.
func encodeCursor(k sortKey) string {
	raw := strconv.FormatInt(k.created.UnixNano(), 10) + ":" + k.id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (sortKey, error) {
	invalid := herrors.NewValidationError("malformed cursor").WithField("cursor")

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return sortKey{}, invalid
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return sortKey{}, invalid
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return sortKey{}, invalid
	}
	return sortKey{created: time.Unix(0, n).UTC(), id: id}, nil
}
