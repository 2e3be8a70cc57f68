package main

import (
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// logMetrics writes the request counters gathered during the command at
// debug level.
func (o *rootOptions) logMetrics() {
	if o.logger == nil || o.metrics == nil {
		return
	}
	families, err := o.metrics.Gather()
	if err != nil {
		o.logger.Debug("gather metrics", zap.Error(err))
		return
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			fields := []zap.Field{zap.String("metric", family.GetName())}
			for _, label := range metric.GetLabel() {
				fields = append(fields, zap.String(label.GetName(), label.GetValue()))
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				fields = append(fields, zap.Float64("value", metric.GetCounter().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				fields = append(fields,
					zap.Uint64("count", h.GetSampleCount()),
					zap.Float64("sum", h.GetSampleSum()))
			default:
				continue
			}
			o.logger.Debug("registry metrics", fields...)
		}
	}
}
