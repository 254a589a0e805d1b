package metrics

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxDimensionNameLength  = 100
	maxDimensionValueLength = 250
)

// DimensionValue is one resolved dimension on a data point.
type DimensionValue struct {
	Name  string
	Value string
}

// Summary holds the aggregate of a distribution point.
type Summary struct {
	Min   float64
	Max   float64
	Sum   float64
	Count int64
}

// IngestLine is a fully dimensioned data point ready to push.
type IngestLine struct {
	ProjectID  string
	Service    ServiceKey
	MetricKey  string
	MetricType string
	Value      float64
	// Summary is set for distribution points and replaces Value when formatting.
	Summary    *Summary
	Dimensions []DimensionValue
	Timestamp  time.Time
	// EntityID links the point to a topology entity, empty when none applies.
	EntityID string
}

// WithDimensions returns a copy of the line with extra dimensions appended.
// The receiver's dimension slice is never shared with the result.
func (l IngestLine) WithDimensions(extra ...DimensionValue) IngestLine {
	dims := make([]DimensionValue, 0, len(l.Dimensions)+len(extra))
	dims = append(dims, l.Dimensions...)
	dims = append(dims, extra...)
	l.Dimensions = dims
	return l
}

// Format renders the line in the metric ingest line protocol:
//
//	key,dim1="v1",dim2="v2" gauge,42 1600000000000
func (l IngestLine) Format() string {
	var b strings.Builder
	b.WriteString(l.MetricKey)
	for _, d := range l.Dimensions {
		if d.Name == "" || d.Value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(truncate(d.Name, maxDimensionNameLength))
		b.WriteString(`="`)
		b.WriteString(escapeValue(truncate(d.Value, maxDimensionValueLength)))
		b.WriteByte('"')
	}
	b.WriteByte(' ')

	metricType := l.MetricType
	if metricType == "" {
		metricType = "gauge"
	}
	if l.Summary != nil {
		b.WriteString("gauge,min=")
		b.WriteString(formatFloat(l.Summary.Min))
		b.WriteString(",max=")
		b.WriteString(formatFloat(l.Summary.Max))
		b.WriteString(",sum=")
		b.WriteString(formatFloat(l.Summary.Sum))
		b.WriteString(",count=")
		b.WriteString(strconv.FormatInt(l.Summary.Count, 10))
	} else {
		b.WriteString(metricType)
		b.WriteByte(',')
		b.WriteString(formatFloat(l.Value))
	}

	if !l.Timestamp.IsZero() {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(l.Timestamp.UnixMilli(), 10))
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeValue(s string) string {
	return valueEscaper.Replace(s)
}
