package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SubmissionsTotal    *prometheus.CounterVec
	ProposalsTotal      *prometheus.CounterVec
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	CooldownDenials     prometheus.Counter
	SafeModeSkips       prometheus.Counter
	GuardRejections     prometheus.Counter
	DedupHits           prometheus.Counter
	ExpiredProposals    prometheus.Counter
	ChainVerifyFailures prometheus.Counter
}

// New creates and registers all pipeline metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on reg; tests pass a private registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_enforcement_submissions_total",
			Help: "Scoring contexts submitted to the pipeline, by outcome of the synchronous gates",
		}, []string{"outcome"}),
		ProposalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_enforcement_proposals_total",
			Help: "Proposals registered, by action and whether they run automatically",
		}, []string{"action", "mode"}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_enforcement_executions_total",
			Help: "Action executions, by action and result",
		}, []string{"action", "result"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_enforcement_execution_duration_seconds",
			Help:    "Wall time of outbound action execution",
			Buckets: prometheus.DefBuckets,
		}),
		CooldownDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_enforcement_cooldown_denials_total",
			Help: "Executions throttled by an active cooldown window",
		}),
		SafeModeSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_enforcement_safemode_skips_total",
			Help: "Submissions skipped because safe mode was engaged",
		}),
		GuardRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_enforcement_blast_radius_rejections_total",
			Help: "Candidate actions rejected by the blast radius guard",
		}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_enforcement_dedup_hits_total",
			Help: "Submissions resolved to an existing proposal by deduplication",
		}),
		ExpiredProposals: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_enforcement_proposals_expired_total",
			Help: "Proposals expired by the TTL sweeper",
		}),
		ChainVerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_chain_verify_failures_total",
			Help: "Audit chain verifications that found the ledger inconsistent",
		}),
	}
}
