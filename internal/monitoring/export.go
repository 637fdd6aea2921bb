package monitoring

import (
	"io"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// ExportXLSX writes a dashboard as a workbook with one sheet per metric kind.
func ExportXLSX(w io.Writer, d Dashboard) error {
	f := xlsx.NewFile()

	sheets := []struct {
		name string
		rows [][]string
	}{
		{"success", successRows(d.Success)},
		{"confidence", confidenceRows(d.Confidence)},
		{"performance", performanceRows(d.Performance)},
		{"errors", errorRows(d.Errors)},
	}
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", s.name)
		}
		header := sheet.AddRow()
		header.AddCell().SetString("window")
		header.AddCell().SetString(string(d.Window))
		header.AddCell().SetString(d.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
		for _, r := range s.rows {
			row := sheet.AddRow()
			for _, v := range r {
				row.AddCell().SetString(v)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func sortedMethods[V any](m map[model.Method]V) []model.Method {
	out := make([]model.Method, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b model.Method) int { return a.Priority() - b.Priority() })
	return out
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func itoa(v int) string { return strconv.Itoa(v) }

func successRows(s SuccessStats) [][]string {
	rows := [][]string{
		{"method", "total", "successful", "success_rate"},
		{"all", itoa(s.TotalProcessed), itoa(s.Successful), f2(s.SuccessRate)},
	}
	for _, m := range sortedMethods(s.ByMethod) {
		b := s.ByMethod[m]
		rows = append(rows, []string{string(m), itoa(b.Total), itoa(b.Successful), f2(b.SuccessRate)})
	}
	return rows
}

func confidenceRows(c ConfidenceStats) [][]string {
	rows := [][]string{
		{"method", "average", "high", "medium", "low"},
		{"all", f2(c.Average), itoa(c.Distribution.High), itoa(c.Distribution.Medium), itoa(c.Distribution.Low)},
	}
	for _, m := range sortedMethods(c.ByMethod) {
		rows = append(rows, []string{string(m), f2(c.ByMethod[m])})
	}
	return rows
}

func latencyRow(name string, l Latency) []string {
	return []string{name, f2(l.Average), f2(l.Median), f2(l.P95),
		strconv.FormatInt(l.Min, 10), strconv.FormatInt(l.Max, 10)}
}

func performanceRows(p PerformanceStats) [][]string {
	rows := [][]string{
		{"method", "average_ms", "median_ms", "p95_ms", "min_ms", "max_ms"},
		latencyRow("all", p.Overall),
	}
	for _, m := range sortedMethods(p.ByMethod) {
		rows = append(rows, latencyRow(string(m), p.ByMethod[m]))
	}
	return rows
}

func errorRows(e ErrorStats) [][]string {
	rows := [][]string{
		{"total_errors", itoa(e.TotalErrors)},
		{"error_rate", f2(e.ErrorRate)},
		{"critical_or_service", itoa(e.CriticalOrService)},
		{"error_type", "count"},
	}
	types := make([]string, 0, len(e.ByType))
	for t := range e.ByType {
		types = append(types, string(t))
	}
	slices.Sort(types)
	for _, t := range types {
		rows = append(rows, []string{t, itoa(e.ByType[model.ErrorType(t)])})
	}
	return rows
}
