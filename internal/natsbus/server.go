package natsbus

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
)

const (
	readyTimeout      = 5 * time.Second
	jetStreamMaxStore = 1 << 30
	maxPayload        = 4 << 20
)

// Bus is the embedded NATS server that carries engine events and the
// control plane. It only listens on loopback.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// ServerStats is a point-in-time view of the embedded server.
type ServerStats struct {
	Clients       int    `json:"clients"`
	Subscriptions uint32 `json:"subscriptions"`
	JetStream     bool   `json:"jetstream"`
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName:        "hive",
		Host:              "127.0.0.1",
		Port:              cfg.Port,
		MaxPayload:        maxPayload,
		NoLog:             true,
		NoSigs:            true,
		JetStream:         true,
		JetStreamMaxStore: jetStreamMaxStore,
		StoreDir:          cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready")
	}
	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port is the bound port. It differs from the configured one when that
// was -1.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return b.cfg.Port
}

func (b *Bus) Stats() ServerStats {
	return ServerStats{
		Clients:       b.server.NumClients(),
		Subscriptions: b.server.NumSubscriptions(),
		JetStream:     b.server.JetStreamEnabled(),
	}
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
