package session

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	jwksFetches *prometheus.CounterVec
	verify      *prometheus.CounterVec
	refresh     *prometheus.CounterVec
}

// newMetrics builds the recipe counters and registers them when reg is set.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "jwks_fetch_total",
			Help:      "JWKS fetch attempts by result.",
		}, []string{"result"}),
		verify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "verify_total",
			Help:      "Access token checks by outcome.",
		}, []string{"outcome"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "refresh_total",
			Help:      "Session refreshes by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.jwksFetches, m.verify, m.refresh} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) jwksFetched(_ string, err error) {
	if err != nil {
		m.jwksFetches.WithLabelValues("error").Inc()
		return
	}
	m.jwksFetches.WithLabelValues("ok").Inc()
}

// outcome labels
const (
	outcomeLocal        = "local"
	outcomeCore         = "core"
	outcomeTryRefresh   = "try_refresh"
	outcomeUnauthorised = "unauthorised"
	outcomeOK           = "ok"
	outcomeTheft        = "token_theft"
	outcomeError        = "error"
)

func outcomeOf(err error) string {
	switch {
	case IsTryRefreshToken(err):
		return outcomeTryRefresh
	case IsTokenTheftDetected(err):
		return outcomeTheft
	case IsUnauthorised(err):
		return outcomeUnauthorised
	default:
		return outcomeError
	}
}
