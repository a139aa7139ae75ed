package producer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"
)

type fakeNetTimeout struct{}

func (fakeNetTimeout) Error() string   { return "i/o timeout" }
func (fakeNetTimeout) Timeout() bool   { return true }
func (fakeNetTimeout) Temporary() bool { return true }

func TestClassifyRetry(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{sarama.ErrLeaderNotAvailable, "leader_not_available"},
		{sarama.ErrRequestTimedOut, "broker_timeout"},
		{sarama.ErrNotEnoughReplicas, "not_enough_replicas"},
		{sarama.ErrNotEnoughReplicasAfterAppend, "not_enough_replicas"},
		{fakeNetTimeout{}, "net_timeout"},
		{fmt.Errorf("dial: %w", fakeNetTimeout{}), "net_timeout"},
		{context.DeadlineExceeded, "client_deadline"},
		{context.Canceled, "client_deadline"},
		{errors.New("что-то странное"), "other"},
	}

	for _, c := range cases {
		require.Equal(t, c.want, classifyRetry(c.err), "err: %v", c.err)
	}
}

func TestIsPermanent(t *testing.T) {
	require.True(t, isPermanent(sarama.ErrMessageSizeTooLarge))
	require.True(t, isPermanent(sarama.ErrTopicAuthorizationFailed))
	require.False(t, isPermanent(sarama.ErrLeaderNotAvailable))
	require.False(t, isPermanent(sarama.ErrRequestTimedOut))
}
