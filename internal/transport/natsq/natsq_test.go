package natsq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kitemq/kite/messaging"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.defaults()

	if cfg.URL != "nats://localhost:4222" {
		t.Errorf("unexpected default URL %q", cfg.URL)
	}
	if cfg.StreamName != "KITE" {
		t.Errorf("unexpected default stream %q", cfg.StreamName)
	}
	if cfg.SubjectPrefix != "kite" {
		t.Errorf("unexpected default prefix %q", cfg.SubjectPrefix)
	}
	if cfg.AckWait != 2*time.Minute {
		t.Errorf("unexpected default ack wait %v", cfg.AckWait)
	}
	if cfg.MaxDeliver != 5 {
		t.Errorf("unexpected default max deliver %d", cfg.MaxDeliver)
	}
}

func TestSubjectMapping(t *testing.T) {
	tr := New(Config{SubjectPrefix: "kite"})

	if got := tr.queueSubject("orders"); got != "kite.q.orders" {
		t.Errorf("queue subject: got %q", got)
	}
	if got := tr.topicSubject("order.placed"); got != "kite.t.order.placed" {
		t.Errorf("topic subject: got %q", got)
	}
}

func TestDurableName(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"orders", "kite_orders"},
		{"order.placed", "kite_order_placed"},
		{"a/b c", "kite_a_b_c"},
	}
	for _, tt := range tests {
		if got := durableName(tt.addr); got != tt.want {
			t.Errorf("durableName(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	tr := New(Config{})
	err := tr.Send(context.Background(), "orders", messaging.NewCommand("place", nil))
	if err == nil {
		t.Fatal("send on a disconnected transport should fail")
	}
	var merr *messaging.Error
	if !errors.As(err, &merr) || merr.Kind != messaging.ErrorKindTransportUnavailable {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestStateStartsDisconnected(t *testing.T) {
	tr := New(Config{})
	if tr.State() != messaging.TransportDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", tr.State())
	}
	h := tr.Health()
	if h.State != messaging.TransportDisconnected || h.ActiveConns != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestConfigureTopologyRejectsEmptyBinding(t *testing.T) {
	tr := New(Config{})
	err := tr.ConfigureTopology(context.Background(), messaging.Topology{
		Bindings: []messaging.TopicBinding{{Topic: "", Queue: "audit"}},
	})
	if err == nil {
		t.Error("empty topic in a binding should be rejected")
	}
}

func TestConfigureTopologyRecordsBindings(t *testing.T) {
	tr := New(Config{})
	err := tr.ConfigureTopology(context.Background(), messaging.Topology{
		Bindings: []messaging.TopicBinding{
			{Topic: "order.placed", Queue: "audit"},
			{Topic: "order.placed", Queue: "billing"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.bindings["order.placed"]; len(got) != 2 {
		t.Errorf("expected 2 bound queues, got %v", got)
	}
}
