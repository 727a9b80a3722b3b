package history

import (
	"context"
	"errors"

	"github.com/drfirst/labinsight/internal/analysis"
	"github.com/drfirst/labinsight/internal/domain/labs"
	"github.com/drfirst/labinsight/pkg/circuitbreaker"
)

// GuardedStore routes every call through a circuit breaker
type GuardedStore struct {
	store Store
	cb    *circuitbreaker.CircuitBreaker
}

var _ Store = (*GuardedStore)(nil)

// NewGuardedStore wraps store with cb. Configure cb with IsClientError as
// its Ignore func so missing series and invalid panels do not trip it.
func NewGuardedStore(store Store, cb *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{store: store, cb: cb}
}

// IsClientError reports errors caused by the request rather than the store
func IsClientError(err error) bool {
	return errors.Is(err, ErrSeriesNotFound) || errors.Is(err, ErrInvalidPanel)
}

// RecordPanel records the panel unless the circuit is open
func (g *GuardedStore) RecordPanel(ctx context.Context, panel *Panel, events ...*labs.Event) error {
	_, err := g.cb.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, g.store.RecordPanel(ctx, panel, events...)
	})
	return err
}

// Series loads the series unless the circuit is open
func (g *GuardedStore) Series(ctx context.Context, patientID, biomarker string) (analysis.TimeSeries, error) {
	return circuitbreaker.Do(ctx, g.cb, func(ctx context.Context) (analysis.TimeSeries, error) {
		return g.store.Series(ctx, patientID, biomarker)
	})
}
