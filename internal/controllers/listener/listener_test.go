package listener

import (
	"testing"

	"progress/internal/application/entity"
	"progress/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Setup/Cleanup инкрементируют счётчик ребалансов через реальный реестр:
// несовпадение числа лейблов здесь паникует на первой же сессии группы.
func TestProgressListener_RebalanceMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	l := NewProgressListener("progress-pipeline", nil, zap.NewNop().Sugar(), m)

	require.NoError(t, l.Setup(nil))
	require.NoError(t, l.Cleanup(nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Kafka.ConsumerRebalancesTotal.WithLabelValues("progress-pipeline", "setup")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Kafka.ConsumerRebalancesTotal.WithLabelValues("progress-pipeline", "cleanup")))
}

func TestTaskListener_RebalanceMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	l := NewTaskListener("notify-workers-email", entity.ChannelEmail, nil, zap.NewNop().Sugar(), m)

	require.NoError(t, l.Setup(nil))
	require.NoError(t, l.Setup(nil))
	require.NoError(t, l.Cleanup(nil))

	require.Equal(t, 2.0, testutil.ToFloat64(m.Kafka.ConsumerRebalancesTotal.WithLabelValues("notify-workers-email", "setup")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Kafka.ConsumerRebalancesTotal.WithLabelValues("notify-workers-email", "cleanup")))
}
