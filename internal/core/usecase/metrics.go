package usecase

import (
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

type noopMetrics struct{}

func (noopMetrics) ObserveStage(string, string, time.Duration, error) {}
func (noopMetrics) ObserveReasoning(string, error)                    {}
func (noopMetrics) IncStructureParseFailure()                         {}
func (noopMetrics) IncLedgerAppend(bool)                              {}

func metricsOrNoop(m ports.PipelineMetrics) ports.PipelineMetrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
