package server

import (
	"testing"

	"mytracker/gateway"
	"mytracker/types"
)

type nopLogger struct{}

func (nopLogger) FeatureEvent(feature, nodeId, text string) {}
func (nopLogger) Debug(text string)                         {}
func (nopLogger) Warn(text string)                          {}
func (nopLogger) Error(text string, err error)              {}
func (nopLogger) RawDataEvent(direction, data string)       {}

func newTestHandler() *SystemHandler {
	h := NewSystemHandler()
	h.SetLogger(nopLogger{})
	return h
}

func TestIsDuplicate(t *testing.T) {
	h := newTestHandler()

	if h.IsDuplicate("12;255;3;0;22;123") {
		t.Error("first frame flagged as duplicate")
	}
	if !h.IsDuplicate("12;255;3;0;22;123") {
		t.Error("repeated frame not flagged as duplicate")
	}
	if h.IsDuplicate("12;255;3;0;22;124") {
		t.Error("different frame flagged as duplicate")
	}
}

func TestOnInternalUpdatesNode(t *testing.T) {
	h := newTestHandler()

	internalMessage := func(subtype types.Internal, payload string) gateway.Message {
		return gateway.Message{
			NodeId:  12,
			ChildId: types.BroadcastAddress,
			Command: types.CommandInternal,
			Type:    uint8(subtype),
			Payload: gateway.RawPayload(payload),
		}
	}
	h.OnInternal(internalMessage(types.InternalSketchName, "Garden Sensor"))
	h.OnInternal(internalMessage(types.InternalSketchVersion, "1.4"))
	h.OnInternal(internalMessage(types.InternalBatteryLevel, "87"))

	nodes := h.KnownNodes()
	if len(nodes) != 1 {
		t.Fatalf("KnownNodes() length = %d, want 1", len(nodes))
	}
	node := nodes[0]
	if node.Id != 12 || node.SketchName != "Garden Sensor" || node.SketchVersion != "1.4" || node.BatteryLevel != 87 {
		t.Errorf("node = %+v", node)
	}
	if node.LastSeen.IsZero() {
		t.Error("last seen not set")
	}
}

func TestOnPresentationRecordsApiVersion(t *testing.T) {
	h := newTestHandler()

	h.OnPresentation(gateway.Message{
		NodeId:  7,
		ChildId: types.BroadcastAddress,
		Command: types.CommandPresentation,
		Type:    18,
		Payload: gateway.RawPayload("2.3.2"),
	})

	nodes := h.KnownNodes()
	if len(nodes) != 1 || nodes[0].ApiVersion != "2.3.2" {
		t.Fatalf("KnownNodes() = %+v", nodes)
	}
}
