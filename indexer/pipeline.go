// Package indexer assembles the access log pipeline: every line is parsed
// into the logs table and counted per aggregation key into the analytics
// table.
package indexer

import (
	"fmt"
	"strings"
	"time"

	"log-indexer/dataflow"
	"log-indexer/logformat"
	"log-indexer/schema"
)

// Tail names. They double as table names in the tablespace.
const (
	TableLogs      = "logs"
	TableAnalytics = "analytics"
)

var dateFields = []string{"day", "month", "year"}

// LogFields are the fields of the logs tail.
var LogFields = dataflow.NewFields(
	logformat.FieldIP, logformat.FieldUser, logformat.FieldTime, logformat.FieldMethod,
	logformat.FieldCategory, logformat.FieldPage, logformat.FieldCode, logformat.FieldSize,
	"day", "month", "year",
)

// LogsSchema declares the logs table. Its types are the ones parse emits,
// so the table is typed even when every line was dropped.
var LogsSchema = schema.ColumnSchema{
	{Name: logformat.FieldIP, Type: schema.Text},
	{Name: logformat.FieldUser, Type: schema.Text},
	{Name: logformat.FieldTime, Type: schema.Text},
	{Name: logformat.FieldMethod, Type: schema.Text},
	{Name: logformat.FieldCategory, Type: schema.Text},
	{Name: logformat.FieldPage, Type: schema.Text},
	{Name: logformat.FieldCode, Type: schema.Int32},
	{Name: logformat.FieldSize, Type: schema.Int64},
	{Name: "day", Type: schema.Int32},
	{Name: "month", Type: schema.Int32},
	{Name: "year", Type: schema.Int32},
}

// AnalyticsFields are the fields of the analytics tail.
var AnalyticsFields = dataflow.NewFields("day", "month", "year", "count", "metric", "value")

// AnalyticsSchema declares the analytics table.
var AnalyticsSchema = schema.ColumnSchema{
	{Name: "day", Type: schema.Int32},
	{Name: "month", Type: schema.Int32},
	{Name: "year", Type: schema.Int32},
	{Name: "count", Type: schema.Int64},
	{Name: "metric", Type: schema.Text},
	{Name: "value", Type: schema.Text},
}

// ValueSeparator joins the key values of multi-field aggregations.
const ValueSeparator = "/"

// parse turns a text line into a logs tuple. Lines that do not parse are
// skipped.
type parse struct {
	format *logformat.Format
}

func (p parse) Fields() dataflow.Fields {
	return LogFields
}

func (p parse) Operate(in dataflow.Tuple, emit func([]any)) error {
	line, _ := in.Get("line").(string)
	rec, err := p.format.Parse(line)
	if err != nil {
		return fmt.Errorf("%w: %v", dataflow.ErrSkip, err)
	}
	emit([]any{
		rec.ClientAddress,
		rec.UserID,
		rec.Timestamp.Format(time.RFC3339),
		rec.Method,
		rec.Category,
		rec.Path,
		rec.StatusCode,
		rec.ResponseBytes,
		rec.Day(),
		rec.Month(),
		rec.Year(),
	})
	return nil
}

// normalize maps the output of one aggregation onto AnalyticsFields.
type normalize struct {
	key AggregationKey
}

func (n normalize) Fields() dataflow.Fields {
	return AnalyticsFields
}

func (n normalize) Operate(in dataflow.Tuple, emit func([]any)) error {
	values := make([]string, len(n.key.Fields))
	for i, f := range n.key.Fields {
		values[i] = fmt.Sprint(in.Get(f))
	}
	emit([]any{
		in.Get("day"),
		in.Get("month"),
		in.Get("year"),
		in.Get("count"),
		n.key.Metric,
		strings.Join(values, ValueSeparator),
	})
	return nil
}

// Assembly is the pipe graph of one indexing run.
type Assembly struct {
	Logs      *dataflow.Pipe
	Analytics *dataflow.Pipe
}

func (a Assembly) Tails() []*dataflow.Pipe {
	return []*dataflow.Pipe{a.Logs, a.Analytics}
}

// Build assembles the pipeline for format and keys. Each key runs as an
// independent GroupBy over the parsed logs; the normalized results are
// merged into the analytics tail.
func Build(format *logformat.Format, keys []AggregationKey) (Assembly, error) {
	if err := ValidateKeys(format, keys); err != nil {
		return Assembly{}, err
	}

	logs := dataflow.NewPipe(TableLogs).Each(parse{format: format}, dataflow.Results)

	branches := make([]*dataflow.Pipe, 0, len(keys))
	for _, k := range keys {
		group := append(append([]string{}, dateFields...), k.Fields...)
		branch := logs.
			GroupBy("analyze-"+strings.ToLower(k.Metric), group...).
			Every(dataflow.Count{}).
			Each(normalize{key: k}, dataflow.Results)
		branches = append(branches, branch)
	}

	return Assembly{
		Logs:      logs,
		Analytics: dataflow.Merge(TableAnalytics, branches...),
	}, nil
}
