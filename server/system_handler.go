package server

import (
	"fmt"
	"sync"
	"time"

	"mytracker/gateway"
	"mytracker/internal"
	"mytracker/metrics/counters"
	"mytracker/models"
	"mytracker/types"
	"mytracker/utility"
)

// duplicateWindow suppresses repeated frames relayed by more than one path
// in a mesh, the bootloader retries aggressively.
const duplicateWindow = time.Second

// SystemHandler keeps the registry of nodes seen on the network and the
// short-term frame history used for duplicate suppression.
type SystemHandler struct {
	nodes    map[int]*models.Node
	recent   map[string]time.Time
	database internal.Database
	logger   internal.LogHandler
	mux      *sync.Mutex
}

func NewSystemHandler() *SystemHandler {
	handler := SystemHandler{
		nodes:  make(map[int]*models.Node),
		recent: make(map[string]time.Time),
		mux:    &sync.Mutex{},
	}
	return &handler
}

func (h *SystemHandler) SetDatabase(database internal.Database) {
	h.database = database
}

func (h *SystemHandler) SetLogger(logger internal.LogHandler) {
	h.logger = logger
}

func (h *SystemHandler) OnStart() error {
	if h.database != nil {
		nodes, err := h.database.GetNodes()
		if err != nil {
			return fmt.Errorf("failed to load nodes from database: %s", err)
		}
		for i := range nodes {
			node := nodes[i]
			h.nodes[node.Id] = &node
		}
		h.logger.Debug(fmt.Sprintf("loaded %d nodes from database", len(nodes)))
	}
	counters.ObserveNodes(len(h.nodes))
	return nil
}

// IsDuplicate reports whether the same raw frame was seen within the
// suppression window. Stale entries are pruned on the way.
func (h *SystemHandler) IsDuplicate(raw string) bool {
	h.mux.Lock()
	defer h.mux.Unlock()
	now := time.Now()
	if seen, ok := h.recent[raw]; ok && now.Sub(seen) < duplicateWindow {
		return true
	}
	if len(h.recent) > 1000 {
		for key, seen := range h.recent {
			if now.Sub(seen) >= duplicateWindow {
				delete(h.recent, key)
			}
		}
	}
	h.recent[raw] = now
	return false
}

// select or register a node
func (h *SystemHandler) getNode(nodeId int) *models.Node {
	node, ok := h.nodes[nodeId]
	if !ok {
		h.logger.Debug(fmt.Sprintf("registering new node %d", nodeId))
		node = &models.Node{Id: nodeId}
		h.nodes[nodeId] = node
		if h.database != nil {
			if err := h.database.AddNode(node); err != nil {
				h.logger.Error("failed to add node to database", err)
			}
		}
		counters.ObserveNodes(len(h.nodes))
	}
	return node
}

// OnPresentation records a node announcing itself; the node-level record
// (child id 255) carries the transport library version as payload.
func (h *SystemHandler) OnPresentation(m gateway.Message) {
	h.mux.Lock()
	defer h.mux.Unlock()
	node := h.getNode(int(m.NodeId))
	if payload, ok := m.Payload.(gateway.RawPayload); ok && m.ChildId == types.BroadcastAddress {
		node.ApiVersion = string(payload)
	}
	h.touch(node)
}

// OnInternal updates node attributes reported via internal messages.
func (h *SystemHandler) OnInternal(m gateway.Message) {
	h.mux.Lock()
	defer h.mux.Unlock()
	node := h.getNode(int(m.NodeId))
	payload, _ := m.Payload.(gateway.RawPayload)
	switch types.Internal(m.Type) {
	case types.InternalSketchName:
		node.SketchName = string(payload)
	case types.InternalSketchVersion:
		node.SketchVersion = string(payload)
	case types.InternalBatteryLevel:
		node.BatteryLevel = utility.ToInt(string(payload))
	case types.InternalVersion:
		node.ApiVersion = string(payload)
	}
	h.touch(node)
}

// NotifySeen refreshes the last-seen stamp without touching attributes.
func (h *SystemHandler) NotifySeen(nodeId uint8) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.touch(h.getNode(int(nodeId)))
}

func (h *SystemHandler) touch(node *models.Node) {
	node.LastSeen = time.Now()
	if h.database != nil {
		if err := h.database.UpdateNode(node); err != nil {
			h.logger.Error("failed to update node in database", err)
		}
	}
}

// KnownNodes snapshots the registry for the API.
func (h *SystemHandler) KnownNodes() []models.Node {
	h.mux.Lock()
	defer h.mux.Unlock()
	list := make([]models.Node, 0, len(h.nodes))
	for _, node := range h.nodes {
		list = append(list, *node)
	}
	return list
}
