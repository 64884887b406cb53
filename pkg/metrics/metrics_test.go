package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"chunklink/pkg/registry"
	"chunklink/pkg/transport"
)

type fakeSource struct {
	conns map[string]*transport.Connection
}

func (f fakeSource) Connections() map[string]*transport.Connection { return f.conns }

func testProto() *registry.Table {
	t := registry.New()
	t.AddType(1, 4)
	return t
}

func TestCollectEmitsOneMetricPerConnection(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	c := transport.NewConnection(nil, nil, false, transport.DefaultConfig(), testProto(), log)
	c.Unmute()
	c.SendData([]byte{1, 2, 3, 4})
	c.Flush(true)

	src := fakeSource{conns: map[string]*transport.Connection{"test": c}}
	collector := NewConnectionCollector(src)

	descs := make(chan *prometheus.Desc, 32)
	collector.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}
	if descCount != len(collector.descs) {
		t.Fatalf("expected %d descriptors, got %d", len(collector.descs), descCount)
	}

	metricsCh := make(chan prometheus.Metric, 32)
	collector.Collect(metricsCh)
	close(metricsCh)

	var count int
	for range metricsCh {
		count++
	}
	if count != len(collector.descs) {
		t.Fatalf("expected %d metrics for one connection, got %d", len(collector.descs), count)
	}
}

func TestRemoteLabelFallsBackToMapKey(t *testing.T) {
	if got := remoteLabel("1.2.3.4:5", nil); got != "1.2.3.4:5" {
		t.Fatalf("expected fallback to map key, got %q", got)
	}
}

func TestConnectionCollectorNamesAreFQNamespaced(t *testing.T) {
	c := NewConnectionCollector(fakeSource{conns: map[string]*transport.Connection{}})
	descs := make(chan *prometheus.Desc, 32)
	c.Describe(descs)
	close(descs)
	for d := range descs {
		if !strings.Contains(d.String(), "chunklink_connection_") {
			t.Fatalf("expected fq name to be namespaced, got %s", d.String())
		}
	}
}
