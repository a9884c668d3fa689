package server

import (
	"fmt"
	"math"
	"net/http"

	"github.com/banshee-data/imm.demo/internal/config"
	"github.com/banshee-data/imm.demo/internal/httputil"
)

// requestConfig copies the base configuration and applies query overrides.
// The base is never modified: overridden fields get fresh pointers.
func (s *Server) requestConfig(r *http.Request) (*config.SimulationConfig, error) {
	sc := *s.base

	q := r.URL.Query()
	if v := q.Get("filter"); v != "" {
		sc.FilterType = &v
	}
	if v := q.Get("trajectory"); v != "" {
		sc.Trajectory = &v
	}

	floats := []struct {
		key string
		dst **float64
	}{
		{"dt", &sc.Dt},
		{"max_time", &sc.MaxTime},
		{"measurement_ratio", &sc.MeasurementRatio},
		{"measurement_noise", &sc.MeasurementNoise},
		{"process_noise", &sc.ProcessNoise},
		{"confidence_level", &sc.ConfidenceLevel},
		{"imm_slow_factor", &sc.IMMSlowFactor},
		{"imm_fast_factor", &sc.IMMFastFactor},
	}
	for _, f := range floats {
		v, ok, err := httputil.QueryFloat(r, f.key)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = &v
		}
	}

	if v, ok, err := httputil.QueryInt(r, "bootstrap_needed"); err != nil {
		return nil, err
	} else if ok {
		sc.BootstrapNeeded = &v
	}
	if v, ok, err := httputil.QueryUint64(r, "seed"); err != nil {
		return nil, err
	} else if ok {
		sc.Seed = &v
	}
	if v, ok, err := httputil.QueryBool(r, "symmetrize"); err != nil {
		return nil, err
	} else if ok {
		sc.SymmetrizeCovariance = &v
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if ticks := math.Round(sc.GetMaxTime() / sc.GetDt()); ticks > MaxTicks {
		return nil, fmt.Errorf("horizon of %.0f ticks exceeds the limit of %d", ticks, MaxTicks)
	}
	return &sc, nil
}
