package dbpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wumacoder/mongobar/internal/driver/drivertest"
)

func TestGetSharesClientsInBlocksOfPerClientMax(t *testing.T) {
	store := drivertest.NewStore()
	pool := New("mongodb://fake", 3, drivertest.Factory(store))

	var clients []interface{}
	for i := 0; i < 10; i++ {
		c, err := pool.Get(context.Background())
		require.NoError(t, err)
		clients = append(clients, c)
	}

	// 10 calls with per_client_max=3 -> ceil(10/3) = 4 distinct clients.
	require.Equal(t, 4, pool.ClientCount())

	require.Same(t, clients[0], clients[1])
	require.Same(t, clients[1], clients[2])
	require.NotSame(t, clients[2], clients[3])
}

func TestClientCountMatchesCeilDivision(t *testing.T) {
	for _, tc := range []struct{ calls, perMax, want int }{
		{0, 5, 0},
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{100, 7, 15},
	} {
		store := drivertest.NewStore()
		pool := New("mongodb://fake", uint64(tc.perMax), drivertest.Factory(store))
		for i := 0; i < tc.calls; i++ {
			_, err := pool.Get(context.Background())
			require.NoError(t, err)
		}
		require.Equal(t, tc.want, pool.ClientCount(), "calls=%d perMax=%d", tc.calls, tc.perMax)
	}
}

func TestShutdownClosesEveryClient(t *testing.T) {
	store := drivertest.NewStore()
	pool := New("mongodb://fake", 2, drivertest.Factory(store))
	for i := 0; i < 5; i++ {
		_, err := pool.Get(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, pool.Shutdown(context.Background()))
}
