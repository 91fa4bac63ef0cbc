package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/roamgate/core/station"
)

func startMosquitto(t *testing.T) string {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	if testing.Short() {
		t.Skip("skipping broker container in short mode")
	}
	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// connectStation connects a fake station that accepts every command.
func connectStation(t *testing.T, broker string, key station.Key) paho.Client {
	t.Helper()
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("station-" + key.StationID))
	var err error
	for i := 0; i < 5; i++ {
		token := cli.Connect()
		token.Wait()
		if err = token.Error(); err == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { cli.Disconnect(100) })

	token := cli.Subscribe(CommandTopic("ocpp", key), 1, func(c paho.Client, m paho.Message) {
		var cmd commandMessage
		if json.Unmarshal(m.Payload(), &cmd) != nil {
			return
		}
		body, _ := json.Marshal(map[string]string{"command_id": cmd.CommandID, "status": "Accepted"})
		c.Publish(StationReplyTopic("ocpp", key), 1, false, body)
	})
	token.Wait()
	require.NoError(t, token.Error())
	return cli
}

func TestTransportAgainstBroker(t *testing.T) {
	broker := startMosquitto(t)
	key := keyFor("CS1")
	stationCli := connectStation(t, broker, key)

	rec := &ingestRecorder{}
	tr, err := NewTransport(Config{Broker: broker, ClientID: "gw", ReplyTimeoutMS: 5000}, nil, rec)
	require.NoError(t, err)
	defer tr.Disconnect()
	// OnConnect subscribes asynchronously.
	time.Sleep(500 * time.Millisecond)

	cli, err := tr.Client(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, cli)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := cli.RemoteStartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	assert.Equal(t, station.DeviceAccepted, res)

	res, err = cli.RemoteStopTransaction(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, station.DeviceAccepted, res)

	hb := []byte(`{"headers":{"chargeBoxIdentity":"CS1","Action":"Heartbeat"},"payload":{}}`)
	stationCli.Publish(StationHeartbeatTopic("ocpp", "default", "CS1"), 1, false, hb).Wait()
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.raws) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
