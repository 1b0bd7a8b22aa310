package ota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mytracker/firmware"
	"mytracker/gateway"
	"mytracker/internal"
	"mytracker/metrics/counters"
	"mytracker/types"
	"mytracker/utility"
)

const featureName = "OTA"

const defaultQuietInterval = 30 * time.Second

var (
	ErrNoSuchFirmware    = errors.New("no such firmware")
	ErrSessionInProgress = errors.New("update session in progress")
	ErrNotFound          = errors.New("no active update session")
	ErrInvalidNodeId     = errors.New("invalid node id")
)

// Orchestrator owns the nodeId to session map and is its single mutator.
// Transitions are driven by inbound gateway messages; for every inbound
// message at most one outbound message is produced, the transport
// collaborator is responsible for delivering it.
type Orchestrator struct {
	repo          *firmware.Repository
	logger        internal.LogHandler
	eventHandler  internal.EventHandler
	quietInterval time.Duration
	mux           sync.RWMutex
	nodes         map[uint8]*nodeEntry
}

// nodeEntry serializes transitions per node; different nodes take different
// locks and proceed concurrently.
type nodeEntry struct {
	mux     sync.Mutex
	session *Session
}

func NewOrchestrator(repo *firmware.Repository, logger internal.LogHandler) *Orchestrator {
	o := &Orchestrator{
		repo:          repo,
		logger:        logger,
		quietInterval: defaultQuietInterval,
		nodes:         make(map[uint8]*nodeEntry),
	}
	repo.SetUsageChecker(o.firmwareInUse)
	return o
}

func (o *Orchestrator) SetEventHandler(eventHandler internal.EventHandler) {
	o.eventHandler = eventHandler
}

// SetQuietInterval tunes how long a node must stay silent after the last
// block before a heartbeat counts as completion evidence.
func (o *Orchestrator) SetQuietInterval(interval time.Duration) {
	o.quietInterval = interval
}

func (o *Orchestrator) entry(nodeId uint8) *nodeEntry {
	o.mux.RLock()
	e, ok := o.nodes[nodeId]
	o.mux.RUnlock()
	if ok {
		return e
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	if e, ok = o.nodes[nodeId]; !ok {
		e = &nodeEntry{}
		o.nodes[nodeId] = e
	}
	return e
}

// firmwareInUse is handed to the repository as its usage checker.
func (o *Orchestrator) firmwareInUse(fwType, fwVersion uint16) bool {
	o.mux.RLock()
	defer o.mux.RUnlock()
	for _, e := range o.nodes {
		e.mux.Lock()
		s := e.session
		inUse := s != nil && !s.Status.Terminal() &&
			s.FirmwareType == fwType && s.FirmwareVersion == fwVersion
		e.mux.Unlock()
		if inUse {
			return true
		}
	}
	return false
}

// ScheduleUpdate registers a pending update for a node. While the previous
// request has not started yet the newest one silently replaces it; a running
// transfer must finish or fail first.
func (o *Orchestrator) ScheduleUpdate(nodeId uint8, fwType, fwVersion uint16) (string, error) {
	if nodeId == types.BroadcastAddress {
		return "", fmt.Errorf("node %d is the broadcast address: %w", nodeId, ErrInvalidNodeId)
	}
	blocks, _, err := o.repo.Describe(fwType, fwVersion)
	if err != nil {
		return "", fmt.Errorf("type %d version %d: %w", fwType, fwVersion, ErrNoSuchFirmware)
	}

	e := o.entry(nodeId)
	e.mux.Lock()
	defer e.mux.Unlock()

	if s := e.session; s != nil && s.Status == StatusStarted {
		return "", fmt.Errorf("node %d is receiving type %d version %d: %w",
			nodeId, s.FirmwareType, s.FirmwareVersion, ErrSessionInProgress)
	}
	now := time.Now()
	session := &Session{
		Id:              utility.NewUUID(),
		NodeId:          nodeId,
		FirmwareType:    fwType,
		FirmwareVersion: fwVersion,
		Status:          StatusRequested,
		BlockCount:      blocks,
		ScheduledAt:     now,
		LastActivity:    now,
	}
	e.session = session

	o.logger.FeatureEvent(featureName, fmt.Sprintf("%d", nodeId),
		fmt.Sprintf("update scheduled: type %d version %d, %d blocks", fwType, fwVersion, blocks))
	o.emit(internal.EventHandler.OnUpdateScheduled, session, "update scheduled")
	go o.observeSessions()
	return session.Id, nil
}

// HandleStream processes one decoded C_STREAM message from a node and
// returns the reply, if any. Messages for nodes without an active session
// are logged and dropped, a node may talk to its bootloader without us
// having scheduled anything.
func (o *Orchestrator) HandleStream(m gateway.Message) (gateway.Message, bool) {
	nodeId := fmt.Sprintf("%d", m.NodeId)
	e := o.entry(m.NodeId)
	e.mux.Lock()
	defer e.mux.Unlock()

	s := e.session
	if s == nil || s.Status.Terminal() {
		o.logger.FeatureEvent(featureName, nodeId,
			fmt.Sprintf("no active session, dropping %s", types.Stream(m.Type)))
		return gateway.Message{}, false
	}

	switch payload := m.Payload.(type) {
	case gateway.FirmwareConfigRequestPayload:
		return o.handleConfigRequest(s, payload)
	case gateway.FirmwareRequestPayload:
		return o.handleFirmwareRequest(s, payload)
	default:
		o.logger.FeatureEvent(featureName, nodeId,
			fmt.Sprintf("ignoring stream subtype %s", types.Stream(m.Type)))
		return gateway.Message{}, false
	}
}

func (o *Orchestrator) handleConfigRequest(s *Session, payload gateway.FirmwareConfigRequestPayload) (gateway.Message, bool) {
	nodeId := fmt.Sprintf("%d", s.NodeId)
	s.LastActivity = time.Now()
	s.Reported = &ReportedConfig{
		FirmwareType:      payload.FirmwareType,
		FirmwareVersion:   payload.FirmwareVersion,
		Blocks:            payload.Blocks,
		Crc:               payload.Crc,
		BootloaderVersion: payload.BootloaderVersion,
	}

	blocks, crc, err := o.repo.Describe(s.FirmwareType, s.FirmwareVersion)
	if err != nil {
		o.logger.Error(fmt.Sprintf("scheduled firmware vanished for node %s", nodeId), err)
		return gateway.Message{}, false
	}

	if payload.FirmwareType == s.FirmwareType && payload.FirmwareVersion == s.FirmwareVersion &&
		payload.Blocks == blocks && payload.Crc == crc {
		// node already runs the scheduled image
		o.markCompleted(s, "node reports the scheduled firmware")
	} else {
		o.logger.FeatureEvent(featureName, nodeId, fmt.Sprintf(
			"node reports type %d version %d (%d blocks, crc 0x%04X), updating to type %d version %d (%d blocks, crc 0x%04X)",
			payload.FirmwareType, payload.FirmwareVersion, payload.Blocks, payload.Crc,
			s.FirmwareType, s.FirmwareVersion, blocks, crc))
		if s.Status == StatusRequested || s.Status == StatusStarted {
			// a config request from a mid-transfer node means it rebooted
			// and will start over
			s.Status = StatusUnstarted
			s.CurrentBlock = 0
		}
	}

	response := gateway.Message{
		NodeId:  s.NodeId,
		ChildId: types.BroadcastAddress,
		Command: types.CommandStream,
		Type:    uint8(types.StreamFirmwareConfigResponse),
		Payload: gateway.FirmwareConfigResponsePayload{
			FirmwareType:    s.FirmwareType,
			FirmwareVersion: s.FirmwareVersion,
			Blocks:          blocks,
			Crc:             crc,
		},
	}
	return response, true
}

func (o *Orchestrator) handleFirmwareRequest(s *Session, payload gateway.FirmwareRequestPayload) (gateway.Message, bool) {
	nodeId := fmt.Sprintf("%d", s.NodeId)
	s.LastActivity = time.Now()

	if payload.FirmwareType != s.FirmwareType || payload.FirmwareVersion != s.FirmwareVersion {
		o.logger.FeatureEvent(featureName, nodeId, fmt.Sprintf(
			"block request for type %d version %d does not match scheduled type %d version %d, dropping",
			payload.FirmwareType, payload.FirmwareVersion, s.FirmwareType, s.FirmwareVersion))
		return gateway.Message{}, false
	}

	block, err := o.repo.GetBlock(s.FirmwareType, s.FirmwareVersion, payload.Block)
	if err != nil {
		o.logger.Error(fmt.Sprintf("block %d for node %s", payload.Block, nodeId), err)
		return gateway.Message{}, false
	}

	switch s.Status {
	case StatusRequested, StatusUnstarted:
		if payload.Block == 0 {
			s.Status = StatusStarted
			s.CurrentBlock = 0
			o.logger.FeatureEvent(featureName, nodeId,
				fmt.Sprintf("transfer started: type %d version %d, %d blocks", s.FirmwareType, s.FirmwareVersion, s.BlockCount))
			o.emit(internal.EventHandler.OnUpdateStarted, s, "transfer started")
		}
	case StatusStarted:
		// advance only on the next sequential index, every other index is a
		// retry or a bootloader directed re-read and is answered as is
		if payload.Block == s.CurrentBlock+1 {
			s.CurrentBlock = payload.Block
		}
	}

	counters.ObserveBlockServed(nodeId)
	response := gateway.Message{
		NodeId:  s.NodeId,
		ChildId: types.BroadcastAddress,
		Command: types.CommandStream,
		Type:    uint8(types.StreamFirmwareResponse),
		Payload: newFirmwareResponse(s.FirmwareType, s.FirmwareVersion, payload.Block, block),
	}
	return response, true
}

func newFirmwareResponse(fwType, fwVersion, block uint16, data []byte) gateway.FirmwareResponsePayload {
	p := gateway.FirmwareResponsePayload{
		FirmwareType:    fwType,
		FirmwareVersion: fwVersion,
		Block:           block,
	}
	copy(p.Data[:], data)
	return p
}

// NotifyAlive reports normal (non-bootloader) traffic from a node, such as a
// heartbeat or presentation. A Requested session answers with the reboot
// request that drops the node into its bootloader, repeated on every signal
// until the node checks in with a firmware config request (the frame may be
// lost on the radio); a Started session that has been quiet since the last
// block was served is inferred complete.
func (o *Orchestrator) NotifyAlive(nodeId uint8) (gateway.Message, bool) {
	e := o.entry(nodeId)
	e.mux.Lock()
	defer e.mux.Unlock()

	s := e.session
	if s == nil || s.Status.Terminal() {
		return gateway.Message{}, false
	}

	switch s.Status {
	case StatusRequested:
		// the session leaves Requested only when the node answers from its
		// bootloader, handleConfigRequest performs that transition
		s.LastActivity = time.Now()
		o.logger.FeatureEvent(featureName, fmt.Sprintf("%d", nodeId), "sending reboot request")
		return gateway.NewRebootMessage(nodeId), true
	case StatusStarted:
		if s.BlockCount > 0 && s.CurrentBlock == s.BlockCount-1 &&
			time.Since(s.LastActivity) > o.quietInterval {
			o.markCompleted(s, "node resumed normal operation after last block")
		}
	}
	return gateway.Message{}, false
}

// GetStatus returns the session snapshot for a node, terminal ones included.
func (o *Orchestrator) GetStatus(nodeId uint8) (StatusInfo, error) {
	e := o.entry(nodeId)
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.session == nil {
		return StatusInfo{}, fmt.Errorf("node %d: %w", nodeId, ErrNotFound)
	}
	return e.session.snapshot(), nil
}

// ListSessions snapshots all known sessions for the status API.
func (o *Orchestrator) ListSessions() []StatusInfo {
	o.mux.RLock()
	defer o.mux.RUnlock()
	list := make([]StatusInfo, 0, len(o.nodes))
	for _, e := range o.nodes {
		e.mux.Lock()
		if e.session != nil {
			list = append(list, e.session.snapshot())
		}
		e.mux.Unlock()
	}
	return list
}

// MarkCompleted records an externally observed completion, e.g. the node
// presenting itself with the new sketch version.
func (o *Orchestrator) MarkCompleted(nodeId uint8) error {
	e := o.entry(nodeId)
	e.mux.Lock()
	defer e.mux.Unlock()
	s := e.session
	if s == nil || s.Status.Terminal() {
		return fmt.Errorf("node %d: %w", nodeId, ErrNotFound)
	}
	o.markCompleted(s, "externally marked completed")
	return nil
}

// MarkFailed records an external failure signal or cancellation.
func (o *Orchestrator) MarkFailed(nodeId uint8, reason string) error {
	e := o.entry(nodeId)
	e.mux.Lock()
	defer e.mux.Unlock()
	s := e.session
	if s == nil || s.Status.Terminal() {
		return fmt.Errorf("node %d: %w", nodeId, ErrNotFound)
	}
	o.markFailed(s, reason)
	return nil
}

// SweepStale fails sessions without protocol activity for longer than
// timeout. Requested sessions are exempt, a sleeping node may take hours to
// wake up and fetch its reboot request. Returns the number of failed
// sessions; meant to be driven by a periodic ticker.
func (o *Orchestrator) SweepStale(timeout time.Duration) int {
	o.mux.RLock()
	entries := make([]*nodeEntry, 0, len(o.nodes))
	for _, e := range o.nodes {
		entries = append(entries, e)
	}
	o.mux.RUnlock()

	swept := 0
	for _, e := range entries {
		e.mux.Lock()
		s := e.session
		if s != nil && (s.Status == StatusUnstarted || s.Status == StatusStarted) &&
			time.Since(s.LastActivity) > timeout {
			o.markFailed(s, fmt.Sprintf("no activity for %s", time.Since(s.LastActivity).Round(time.Second)))
			swept++
		}
		e.mux.Unlock()
	}
	return swept
}

func (o *Orchestrator) markCompleted(s *Session, info string) {
	s.Status = StatusCompleted
	s.LastActivity = time.Now()
	o.logger.FeatureEvent(featureName, fmt.Sprintf("%d", s.NodeId),
		fmt.Sprintf("update completed: type %d version %d; %s", s.FirmwareType, s.FirmwareVersion, info))
	o.emit(internal.EventHandler.OnUpdateCompleted, s, info)
	go o.observeSessions()
}

func (o *Orchestrator) markFailed(s *Session, info string) {
	s.Status = StatusFailed
	s.LastActivity = time.Now()
	o.logger.FeatureEvent(featureName, fmt.Sprintf("%d", s.NodeId),
		fmt.Sprintf("update failed: type %d version %d; %s", s.FirmwareType, s.FirmwareVersion, info))
	o.emit(internal.EventHandler.OnUpdateFailed, s, info)
	go o.observeSessions()
}

func (o *Orchestrator) emit(method func(internal.EventHandler, *internal.EventMessage), s *Session, info string) {
	if o.eventHandler == nil {
		return
	}
	method(o.eventHandler, &internal.EventMessage{
		Type:            string(s.Status),
		NodeId:          int(s.NodeId),
		FirmwareType:    int(s.FirmwareType),
		FirmwareVersion: int(s.FirmwareVersion),
		Time:            time.Now(),
		Info:            info,
	})
}

func (o *Orchestrator) observeSessions() {
	active := 0
	for _, s := range o.ListSessions() {
		if !s.Status.Terminal() {
			active++
		}
	}
	counters.ObserveActiveSessions(active)
}
