package pipeline

import (
	"context"
	"log/slog"
)

// StageVisualization is the step kind of the visualization stage.
const StageVisualization = "visualization"

// maxChartRows bounds how many rows a derived chart carries.
const maxChartRows = 50

// VisualizationStage derives a chart payload from the structured rows the
// generation stage retrieved. Rule-based: one text column becomes labels and
// the first numeric column becomes values. Rows it cannot interpret simply
// produce no visualization; the stage never errors.
type VisualizationStage struct {
	logger *slog.Logger
}

// NewVisualizationStage creates the stage.
func NewVisualizationStage(logger *slog.Logger) *VisualizationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisualizationStage{logger: logger}
}

func (s *VisualizationStage) Name() string    { return StageVisualization }
func (s *VisualizationStage) AlwaysRun() bool { return false }

func (s *VisualizationStage) Process(_ context.Context, req *Request, emit EmitFunc) error {
	if len(req.Rows) == 0 || req.Visualization != nil {
		return nil
	}

	viz := buildChart(req.Rows)
	if viz == nil {
		return nil
	}

	req.Visualization = viz
	_ = emit(VisualizationEvent(viz))
	return nil
}

// buildChart picks a label column (first string-valued) and a value column
// (first numeric-valued) from the first row, then projects every row onto
// them. Returns nil when the rows don't fit that shape.
func buildChart(rows []map[string]any) map[string]any {
	if len(rows) > maxChartRows {
		rows = rows[:maxChartRows]
	}

	labelCol, valueCol := chartColumns(rows[0])
	if labelCol == "" || valueCol == "" {
		return nil
	}

	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		label, ok := row[labelCol].(string)
		if !ok {
			continue
		}
		value, ok := numericValue(row[valueCol])
		if !ok {
			continue
		}
		labels = append(labels, label)
		values = append(values, value)
	}
	if len(labels) == 0 {
		return nil
	}

	return map[string]any{
		"type":   "bar",
		"title":  valueCol + " by " + labelCol,
		"labels": labels,
		"values": values,
	}
}

func chartColumns(row map[string]any) (labelCol, valueCol string) {
	for col, v := range row {
		switch v.(type) {
		case string:
			if labelCol == "" || col < labelCol {
				labelCol = col
			}
		case float64, float32, int, int32, int64:
			if valueCol == "" || col < valueCol {
				valueCol = col
			}
		}
	}
	return labelCol, valueCol
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
