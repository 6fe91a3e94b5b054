package weight

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSAdmin(t *testing.T) {
	natsServer := runTestServer()
	defer natsServer.Shutdown()

	conn, err := nats.Connect(fmt.Sprintf("nats://%s", natsServer.Addr()))
	require.NoError(t, err)
	defer conn.Close()

	provider := NewMemoryProvider()
	handle, err := provider.Create("10.0.0.1:1-10.0.0.2:2", 10000)
	require.NoError(t, err)
	defer provider.Release(handle)

	admin, err := NewNATSAdmin(NATSAdminOptions{
		Conn:    conn,
		Subject: "test.weight",
		Admin:   provider,
	})
	require.NoError(t, err)
	require.NoError(t, admin.Start())
	defer admin.Close()

	client := NewNATSClient(conn, "test.weight", 0)

	weight, err := client.Get(handle.Name())
	require.NoError(t, err)
	assert.EqualValues(t, 10000, weight)

	require.NoError(t, client.Set(handle.Name(), 25000))
	assert.EqualValues(t, 25000, provider.Read(handle))

	records, err := client.List()
	require.NoError(t, err)
	assert.Equal(t, []Record{{Name: handle.Name(), Weight: 25000, References: 1}}, records)

	_, err = client.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownConnection))

	err = client.Set(handle.Name(), 0)
	assert.True(t, errors.Is(err, ErrInvalidWeight))
	assert.EqualValues(t, 25000, provider.Read(handle))
}

func TestNATSAdminOptions(t *testing.T) {
	_, err := NewNATSAdmin(NATSAdminOptions{Admin: NewMemoryProvider()})
	assert.Error(t, err)
}

func runTestServer() *server.Server {
	options := test.DefaultTestOptions
	options.Port = server.RANDOM_PORT
	return test.RunServer(&options)
}
