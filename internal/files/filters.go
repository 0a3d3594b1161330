package files

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Filters narrows a listing. Nil bounds and empty strings match everything.
type Filters struct {
	// Search matches a case-insensitive substring of the filename.
	Search string
	// ContentType matches a case-insensitive substring of the content type.
	ContentType    string
	MinSize        *int64
	MaxSize        *int64
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
	Limit          int
	Offset         int
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const dateOnly = "2006-01-02"

// ParseFilters reads listing filters from query parameters. Unparseable values
// are ignored rather than rejected.
func ParseFilters(q url.Values) Filters {
	f := Filters{
		Search:      strings.TrimSpace(q.Get("search")),
		ContentType: strings.TrimSpace(q.Get("file_type")),
	}
	f.MinSize = parseSize(q, "min_size", "size_min")
	f.MaxSize = parseSize(q, "max_size", "size_max")
	if t, ok := parseDate(q.Get("start_date"), false); ok {
		f.UploadedAfter = &t
	}
	if t, ok := parseDate(q.Get("end_date"), true); ok {
		f.UploadedBefore = &t
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && n > 0 {
		f.Limit = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil && n > 0 {
		f.Offset = n
	}
	return f
}

func parseSize(q url.Values, keys ...string) *int64 {
	for _, key := range keys {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

// parseDate accepts a timestamp or a bare date. A bare end date covers the
// whole day.
func parseDate(raw string, endOfDay bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.Parse(dateOnly, raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Match reports whether f satisfies every filter.
func (flt Filters) Match(f File) bool {
	if flt.Search != "" && !containsFold(f.OriginalFilename, flt.Search) {
		return false
	}
	if flt.ContentType != "" && !containsFold(f.ContentType, flt.ContentType) {
		return false
	}
	if flt.MinSize != nil && f.Size < *flt.MinSize {
		return false
	}
	if flt.MaxSize != nil && f.Size > *flt.MaxSize {
		return false
	}
	if flt.UploadedAfter != nil && f.UploadedAt.Before(*flt.UploadedAfter) {
		return false
	}
	if flt.UploadedBefore != nil && f.UploadedAt.After(*flt.UploadedBefore) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
