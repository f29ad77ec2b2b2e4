package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/persistence/memstore"
	"github.com/raphaottoni/camps-dct/internal/registry"
)

func TestCollectorReportsBackendAndRegistryState(t *testing.T) {
	store := memstore.New()
	store.Add("a")
	store.Add("b")
	require.NoError(t, store.UpdateResource(context.Background(), "a", "SUCCEEDED", "200", "ok", "worker-1"))

	reg := registry.New(zap.NewNop())
	reg.Register(1, "worker-1", &stubAddr{}, 100)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(New(store, reg))

	families, err := promReg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			values[f.GetName()] = metricValue(m)
		}
	}

	require.Equal(t, float64(2), values["campsd_resources_total"])
	require.Equal(t, float64(1), values["campsd_resources_collected"])
	require.Equal(t, float64(1), values["campsd_clients_connected"])
}

func metricValue(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	return 0
}

type stubAddr struct{}

func (stubAddr) Network() string { return "tcp" }
func (stubAddr) String() string  { return "127.0.0.1:1234" }
