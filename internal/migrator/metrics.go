package migrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpt_rows_moved_total",
			Help: "Total rows moved between table pairs",
		},
		[]string{"post_type", "direction", "shape"},
	)

	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpt_migrations_total",
			Help: "Completed and failed migration runs",
		},
		[]string{"direction", "result"},
	)
)
