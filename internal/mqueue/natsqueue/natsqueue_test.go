package natsqueue

import (
	"os"
	"testing"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/config"
	"github.com/kdlbs/agentorc/internal/mqueue"
)

// requireNATS skips the test unless a real NATS/JetStream server is reachable
// at NATS_TEST_URL. There is no embeddable NATS server in the example pack to
// ground an in-process fake on, so this follows the teacher's own pattern for
// tests that need a live external dependency (executor_sprites_e2e_test.go):
// gate on an env var instead of skipping unconditionally.
func requireNATS(t *testing.T) *NATS {
	t.Helper()
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set, skipping natsqueue integration test")
	}
	n, err := New(config.NATSConfig{URL: url, ClientID: "natsqueue-test"}, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

func TestCreateQueue(t *testing.T) {
	n := requireNATS(t)
	name := "test-create-" + newMessageID()

	if !n.CreateQueue(name, 0) {
		t.Error("expected first CreateQueue to return true")
	}
	if n.CreateQueue(name, 0) {
		t.Error("expected second CreateQueue to return false")
	}
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	n := requireNATS(t)
	name := "test-roundtrip-" + newMessageID()

	id, err := n.SendMessage(name, []byte("hello"), agentmodel.PriorityNormal, mqueue.SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty message id")
	}

	timeout := 2 * time.Second
	msg, err := n.ReceiveMessage(name, &timeout)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if string(msg.Payload) != "hello" {
		t.Errorf("expected payload 'hello', got %q", msg.Payload)
	}

	if !n.AcknowledgeMessage(msg) {
		t.Error("expected AcknowledgeMessage to succeed")
	}
}

func TestPriorityOrdering(t *testing.T) {
	n := requireNATS(t)
	name := "test-priority-" + newMessageID()

	if _, err := n.SendMessage(name, []byte("low"), agentmodel.PriorityLow, mqueue.SendOptions{}); err != nil {
		t.Fatalf("SendMessage(low) failed: %v", err)
	}
	if _, err := n.SendMessage(name, []byte("urgent"), agentmodel.PriorityUrgent, mqueue.SendOptions{}); err != nil {
		t.Fatalf("SendMessage(urgent) failed: %v", err)
	}

	timeout := 2 * time.Second
	first, err := n.ReceiveMessage(name, &timeout)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if first == nil || string(first.Payload) != "urgent" {
		t.Fatalf("expected urgent message first, got %+v", first)
	}
	n.AcknowledgeMessage(first)

	second, err := n.ReceiveMessage(name, &timeout)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if second == nil || string(second.Payload) != "low" {
		t.Fatalf("expected low message second, got %+v", second)
	}
	n.AcknowledgeMessage(second)
}

func TestRejectMessageRequeues(t *testing.T) {
	n := requireNATS(t)
	name := "test-reject-" + newMessageID()

	if _, err := n.SendMessage(name, []byte("retry-me"), agentmodel.PriorityNormal, mqueue.SendOptions{}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	timeout := 2 * time.Second
	msg, err := n.ReceiveMessage(name, &timeout)
	if err != nil || msg == nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}

	if !n.RejectMessage(msg, true, "transient failure") {
		t.Fatal("expected RejectMessage(requeue=true) to succeed")
	}

	redelivered, err := n.ReceiveMessage(name, &timeout)
	if err != nil {
		t.Fatalf("ReceiveMessage after reject failed: %v", err)
	}
	if redelivered == nil {
		t.Fatal("expected the rejected message to be redelivered")
	}
	n.AcknowledgeMessage(redelivered)
}

func TestRejectMessageWithoutRequeueDeadLetters(t *testing.T) {
	n := requireNATS(t)
	name := "test-deadletter-" + newMessageID()

	if _, err := n.SendMessage(name, []byte("doomed"), agentmodel.PriorityNormal, mqueue.SendOptions{}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	timeout := 2 * time.Second
	msg, err := n.ReceiveMessage(name, &timeout)
	if err != nil || msg == nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}

	if !n.RejectMessage(msg, false, "unrecoverable") {
		t.Fatal("expected RejectMessage(requeue=false) to succeed")
	}

	dead := n.GetDeadLettered(name)
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered message, got %d", len(dead))
	}
	if dead[0].Metadata["dead_letter_reason"] != "unrecoverable" {
		t.Errorf("expected dead_letter_reason to be recorded, got %+v", dead[0].Metadata)
	}
}

func TestGetQueueStatsUnknownQueue(t *testing.T) {
	n := requireNATS(t)
	_, ok := n.GetQueueStats("does-not-exist-" + newMessageID())
	if ok {
		t.Error("expected ok=false for an unknown queue")
	}
}
