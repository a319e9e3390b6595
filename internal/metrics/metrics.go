package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BuildsTotal counts finished recipe builds by outcome.
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipeforge_builds_total",
		Help: "Recipe builds by final status.",
	}, []string{"status"})

	// BuildDuration observes wall-clock build+test time per recipe.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recipeforge_build_duration_seconds",
		Help:    "Wall-clock duration of recipe build and test phases.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// ResolutionFailures counts recipes rejected for unresolved dependencies.
	ResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipeforge_resolution_failures_total",
		Help: "Recipes that failed dependency resolution.",
	})
)

// Handler exposes the default registry for the status server.
func Handler() http.Handler {
	return promhttp.Handler()
}
