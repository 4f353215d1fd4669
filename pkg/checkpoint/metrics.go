package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// savesTotal tracks checkpoint writes by phase
	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubspot_checkpoint_saves_total",
			Help: "Total number of checkpoints written to storage",
		},
		[]string{"phase"},
	)

	// storeErrors tracks storage operation errors
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubspot_checkpoint_store_errors_total",
			Help: "Total number of checkpoint storage operation errors",
		},
		[]string{"operation"}, // "save", "load", "delete"
	)
)
