package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chunklink/pkg/appconfig"
	"chunklink/pkg/events"
	"chunklink/pkg/listener"
	"chunklink/pkg/logger"
	"chunklink/pkg/metrics"
	"chunklink/pkg/registry"
)

const (
	version = "1.0.0"

	// msgHeartbeat is a fixed 1-byte keepalive: just the id.
	msgHeartbeat byte = 1
	// msgChat is a byte-length-prefixed chat message: id, length, text.
	msgChat byte = 2
)

func demoProtocol() *registry.Table {
	t := registry.New()
	t.AddType(msgHeartbeat, 1)
	t.AddType(msgChat, registry.RuleByteLength)
	return t
}

func main() {
	logger.Banner("ChunkLink Demo Server", version)

	cfg, err := appconfig.Load(os.Getenv("CHUNKLINK_CONFIG_FILE"), os.Args[1:])
	if err != nil {
		logger.Fatal("failed to load configuration: %v", err)
	}

	logger.Info("bind address: %s:%d", cfg.BindAddr, cfg.BindPort)
	logger.Info("mtu: %d, chunks/sec: %d", cfg.Transport.MaxTransmissionUnit, cfg.Transport.UDPChunksPerSec)

	log := logger.Entry()
	proto := demoProtocol()

	conn, err := listener.Bind(cfg.BindPort, cfg.BindAddr, log)
	if err != nil {
		logger.Fatal("failed to bind: %v", err)
	}
	logger.Success("listening on %s", conn.LocalAddr())

	lsn := listener.New(conn, cfg.Transport, proto, log)

	bus := events.NewManager()
	bus.On(events.Connect, func(e events.Event) {
		logger.Info("connection from %s", e.Addr)
	})
	bus.On(events.Disconnect, func(e events.Event) {
		logger.Warn("connection from %s closed", e.Addr)
	})
	bus.On(events.Message, func(e events.Event) {
		logger.Debug("message from %s: %d bytes", e.Addr, len(e.Data))
	})

	collector := metrics.NewConnectionCollector(lsn)
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped: %v", err)
		}
	}()
	logger.Info("metrics on %s/metrics", cfg.MetricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	logger.Success("server running")

	for {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal: %v", sig)
			logger.Info("shutting down gracefully...")
			metricsSrv.Close()
			lsn.Close()
			logger.Success("server stopped")
			return

		case <-ticker.C:
			lsn.Update()
			lsn.UpdateConnections()

			for lsn.HasIncomingConnections() {
				c := lsn.AcceptConnection()
				if c == nil {
					break
				}
				c.Unmute()
				bus.Fire(events.Event{Type: events.Connect, Addr: c.RemoteAddr(), Peer: c})
			}

			for _, c := range lsn.Connections() {
				if c.IsClosed() {
					bus.Fire(events.Event{Type: events.Disconnect, Addr: c.RemoteAddr()})
					continue
				}

				for c.HasIncomingData() {
					msg := c.GetData()
					bus.Fire(events.Event{Type: events.Message, Addr: c.RemoteAddr(), Peer: c, Data: msg})

					if len(msg) > 0 && msg[0] == msgChat {
						echo(c, msg)
					}
				}

				if c.CheckTimeout(0, false) {
					c.Close(true)
					bus.Fire(events.Event{Type: events.Disconnect, Addr: c.RemoteAddr()})
				}
			}
		}
	}
}

func echo(c interface{ SendData([]byte) error }, msg []byte) {
	reply := make([]byte, len(msg))
	copy(reply, msg)
	if err := c.SendData(reply); err != nil {
		logger.Warn("failed to echo chat message: %v", err)
	}
}
