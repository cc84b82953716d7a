package api

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tabwatch/internal/config"
	"tabwatch/internal/logger"
	"tabwatch/internal/service"
	"tabwatch/pkg/model"
)

// Service is the embeddable browser-monitoring surface.
type Service interface {
	// Start connects to the DevTools endpoint and begins monitoring.
	Start(ctx context.Context) error

	// Stop halts monitoring and closes the event stream.
	Stop() error

	// Targets lists the browser's current targets.
	Targets(ctx context.Context) ([]model.TargetInfo, error)

	// FocusTarget marks a tab as focused and attaches monitoring to it.
	FocusTarget(ctx context.Context, target model.TargetID) error

	// Subscribe registers a browser event subscriber.
	Subscribe() (<-chan model.Event, func())

	// Recent returns the latest completed requests, oldest first.
	Recent(limit int) []model.RequestRecord

	// Active returns requests still in flight.
	Active() []model.RequestRecord

	// APICalls returns the latest completed API requests.
	APICalls(limit int) []model.RequestRecord

	// UIResources returns the latest completed page resource requests.
	UIResources(limit int) []model.RequestRecord

	// Failed returns the latest failed requests.
	Failed(limit int) []model.RequestRecord

	// ByStatus returns the latest requests with the given HTTP status.
	ByStatus(status, limit int) []model.RequestRecord

	// ByTrigger returns the latest requests whose trigger matches pattern.
	ByTrigger(pattern string, limit int) []model.RequestRecord

	// BySection returns the latest requests whose section matches pattern.
	BySection(pattern string, limit int) []model.RequestRecord

	// UserTriggered returns the latest user-driven requests.
	UserTriggered(limit int) []model.RequestRecord

	// Summary reports aggregate traffic counters.
	Summary() model.ActivitySummary

	// AnalyzeRecentActivity reports on traffic inside the trailing window.
	AnalyzeRecentActivity(window time.Duration) model.ActivityWindow

	// SectionSummary groups completed requests by page section.
	SectionSummary() model.SectionSummary

	// Clear drops the completed request history.
	Clear()
}

// NewService creates the production implementation. Metrics register with
// the default Prometheus registry.
func NewService(cfg *config.Config, l logger.Logger) Service {
	return service.New(cfg, l, prometheus.DefaultRegisterer)
}
