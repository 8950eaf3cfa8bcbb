// Package logformat turns raw access log lines into records.
//
// A Format pairs one regular expression with the list of fields its
// capture groups produce, so log layouts with or without a user or a
// category path segment are handled by swapping the format, not the code.
package logformat

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/grafana/regexp"
)

// Field names a Format may capture.
const (
	FieldIP       = "ip"
	FieldUser     = "user"
	FieldTime     = "time"
	FieldMethod   = "method"
	FieldCategory = "category"
	FieldPage     = "page"
	FieldCode     = "code"
	FieldSize     = "size"
)

var knownFields = map[string]bool{
	FieldIP: true, FieldUser: true, FieldTime: true, FieldMethod: true,
	FieldCategory: true, FieldPage: true, FieldCode: true, FieldSize: true,
}

var (
	ErrNoMatch   = errors.New("line does not match log format")
	ErrTimestamp = errors.New("invalid timestamp")
	ErrField     = errors.New("invalid field value")
)

const (
	timeLayout     = "02/Jan/2006:15:04:05"
	timeZoneLayout = "02/Jan/2006:15:04:05 -0700"
)

// ApacheRegex matches combined access log lines whose path starts with a
// category segment: "GET /<category>/<page> HTTP/1.1".
const ApacheRegex = `^([^ ]*) +[^ ]* +([^ ]*) +\[([^\]]*)\] +"([^ ]*) /([^/]*)/([^ ]*) [^ ]*" ([^ ]*) ([^ ]*).*$`

// ApacheNoCategoryRegex matches combined access log lines and keeps the
// whole request path as the page.
const ApacheNoCategoryRegex = `^([^ ]*) +[^ ]* +([^ ]*) +\[([^\]]*)\] +"([^ ]*) ([^ ]*) [^ ]*" ([^ ]*) ([^ ]*).*$`

var (
	ApacheFields           = []string{FieldIP, FieldUser, FieldTime, FieldMethod, FieldCategory, FieldPage, FieldCode, FieldSize}
	ApacheNoCategoryFields = []string{FieldIP, FieldUser, FieldTime, FieldMethod, FieldPage, FieldCode, FieldSize}
)

// Format is a compiled log layout. It is safe for concurrent use.
type Format struct {
	regex  *regexp.Regexp
	fields []string
	index  map[string]int
}

// NewFormat compiles expr and maps capture group i+1 to fields[i].
func NewFormat(expr string, fields []string) (*Format, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling log regex: %w", err)
	}
	if re.NumSubexp() != len(fields) {
		return nil, fmt.Errorf("log regex has %d groups for %d fields", re.NumSubexp(), len(fields))
	}

	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if !knownFields[f] {
			return nil, fmt.Errorf("unknown log field %q", f)
		}
		if _, dup := index[f]; dup {
			return nil, fmt.Errorf("duplicate log field %q", f)
		}
		index[f] = i + 1
	}
	if _, ok := index[FieldTime]; !ok {
		return nil, fmt.Errorf("log format must capture %q", FieldTime)
	}

	return &Format{regex: re, fields: fields, index: index}, nil
}

// Apache is the default format, with a category segment.
func Apache() *Format {
	f, err := NewFormat(ApacheRegex, ApacheFields)
	if err != nil {
		panic(err)
	}
	return f
}

func ApacheNoCategory() *Format {
	f, err := NewFormat(ApacheNoCategoryRegex, ApacheNoCategoryFields)
	if err != nil {
		panic(err)
	}
	return f
}

// Fields returns the captured field names in group order.
func (f *Format) Fields() []string {
	return append([]string(nil), f.fields...)
}

func (f *Format) Has(field string) bool {
	_, ok := f.index[field]
	return ok
}

// Parse extracts a record from line. Lines that do not match, or whose
// timestamp or numeric fields are malformed, return an error wrapping
// ErrNoMatch, ErrTimestamp or ErrField.
func (f *Format) Parse(line string) (Record, error) {
	m := f.regex.FindStringSubmatch(line)
	if m == nil {
		return Record{}, ErrNoMatch
	}
	get := func(field string) string {
		if i, ok := f.index[field]; ok {
			return m[i]
		}
		return ""
	}

	ts, err := parseTime(get(FieldTime))
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ClientAddress: get(FieldIP),
		UserID:        get(FieldUser),
		Timestamp:     ts,
		Method:        get(FieldMethod),
		Category:      get(FieldCategory),
		Path:          get(FieldPage),
	}

	if f.Has(FieldCode) {
		code, err := strconv.ParseInt(get(FieldCode), 10, 32)
		if err != nil {
			return Record{}, fmt.Errorf("%w: code %q", ErrField, get(FieldCode))
		}
		rec.StatusCode = int32(code)
	}
	if f.Has(FieldSize) {
		// Apache writes "-" when no body was sent.
		if s := get(FieldSize); s != "-" {
			size, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Record{}, fmt.Errorf("%w: size %q", ErrField, s)
			}
			rec.ResponseBytes = size
		}
	}

	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(timeZoneLayout, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, s)
	}
	return ts, nil
}
