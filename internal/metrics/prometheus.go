package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeNoUser   = "no_user"
	OutcomeRedirect = "redirect"
	OutcomeDeclined = "declined"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

var (
	LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sociallink_logins_total",
		Help: "Total number of social login attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	AssociateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sociallink_associations_total",
		Help: "Total number of account associations by provider and outcome.",
	}, []string{"provider", "outcome"})
	UnlinkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sociallink_unlinks_total",
		Help: "Total number of unlink requests by provider and outcome.",
	}, []string{"provider", "outcome"})
	CallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sociallink_provider_callbacks_total",
		Help: "Total number of provider callbacks by provider and outcome.",
	}, []string{"provider", "outcome"})
)

// InitCustomMetrics registers the custom Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"LoginTotal":     LoginTotal,
		"AssociateTotal": AssociateTotal,
		"UnlinkTotal":    UnlinkTotal,
		"CallbackTotal":  CallbackTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
