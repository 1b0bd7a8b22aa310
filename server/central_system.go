package server

import (
	"fmt"
	"log"
	"strings"
	"time"

	"mytracker/firmware"
	"mytracker/gateway"
	"mytracker/internal"
	"mytracker/internal/config"
	"mytracker/metrics"
	"mytracker/metrics/counters"
	"mytracker/models"
	"mytracker/ota"
	"mytracker/telegram"
	"mytracker/types"
	"mytracker/utility"
)

// CentralSystem wires the gateway link, the firmware repository, the update
// orchestrator and the HTTP API together. All inbound gateway traffic flows
// through handleGatewayLine, all outbound through send.
type CentralSystem struct {
	conf          *config.Config
	logger        internal.LogHandler
	database      internal.Database
	repo          *firmware.Repository
	orchestrator  *ota.Orchestrator
	systemHandler *SystemHandler
	gateway       *gateway.Client
	api           *Api
	live          *LiveFeed
}

func NewCentralSystem(conf *config.Config) (*CentralSystem, error) {
	cs := &CentralSystem{conf: conf}

	var database internal.Database
	if conf.Mongo.Enabled {
		mongo, err := internal.NewMongoClient(conf)
		if err != nil {
			return nil, fmt.Errorf("mongodb setup failed: %s", err)
		}
		database = mongo
		log.Println("mongodb is configured and enabled")
	} else {
		log.Println("database is disabled")
	}
	cs.database = database

	logService := internal.NewLogger()
	logService.SetDebugMode(conf.IsDebug)
	logService.SetDatabase(database)
	cs.logger = logService

	cs.repo = firmware.NewRepository()
	cs.orchestrator = ota.NewOrchestrator(cs.repo, logService)

	if err := cs.reloadFirmware(); err != nil {
		return nil, err
	}

	cs.systemHandler = NewSystemHandler()
	cs.systemHandler.SetDatabase(database)
	cs.systemHandler.SetLogger(logService)
	if err := cs.systemHandler.OnStart(); err != nil {
		return nil, err
	}

	if conf.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %s", err)
		}
		telegramBot.SetDatabase(database)
		telegramBot.Start()
		cs.orchestrator.SetEventHandler(telegramBot)
		log.Println("telegram bot is configured and enabled")
	}

	cs.gateway = gateway.NewClient(conf, logService)
	cs.gateway.SetMessageHandler(cs.handleGatewayLine)

	cs.live = NewLiveFeed(logService)
	cs.api = NewServerApi(conf, logService)
	cs.api.SetHandler(cs)
	cs.live.Register(cs.api.Router())

	return cs, nil
}

// reloadFirmware rebuilds the in-memory repository from the stored hex
// sources, so uploads survive a restart.
func (cs *CentralSystem) reloadFirmware() error {
	if cs.database == nil {
		return nil
	}
	stored, err := cs.database.GetFirmware()
	if err != nil {
		return fmt.Errorf("failed to load firmware from database: %s", err)
	}
	for _, f := range stored {
		if _, _, err = cs.repo.Upload(uint16(f.Type), uint16(f.Version), f.HexData); err != nil {
			cs.logger.Error(fmt.Sprintf("reloading firmware type %d version %d", f.Type, f.Version), err)
			continue
		}
	}
	log.Printf("loaded %d firmware images from database", len(stored))
	return nil
}

func (cs *CentralSystem) Start() {

	go func() {
		if err := cs.gateway.Start(); err != nil {
			cs.logger.Error("gateway client failed", err)
		}
	}()

	go func() {
		if err := cs.api.Start(); err != nil {
			cs.logger.Error("api server failed", err)
		}
	}()

	go func() {
		if err := metrics.Listen(cs.conf); err != nil {
			cs.logger.Error("metrics server failed", err)
		}
	}()

	go cs.sweepLoop()

	select {}
}

// sweepLoop periodically fails sessions whose node went silent mid-transfer.
func (cs *CentralSystem) sweepLoop() {
	interval := time.Duration(cs.conf.Ota.SweepIntervalMin) * time.Minute
	timeout := time.Duration(cs.conf.Ota.StaleTimeoutMin) * time.Minute
	if interval <= 0 || timeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	for range ticker.C {
		if swept := cs.orchestrator.SweepStale(timeout); swept > 0 {
			cs.logger.Warn(fmt.Sprintf("failed %d stale update sessions", swept))
		}
	}
}

func (cs *CentralSystem) handleGatewayLine(line string) {
	if cs.systemHandler.IsDuplicate(line) {
		counters.CountDropped("duplicate")
		return
	}
	counters.CountMessage("in")
	cs.live.Broadcast(line)

	m, err := gateway.Decode(line)
	if err != nil {
		counters.CountDropped("malformed")
		cs.logger.Warn(fmt.Sprintf("dropping gateway frame %q: %s", line, err))
		return
	}
	cs.storeMessage(m, line)

	switch m.Command {
	case types.CommandStream:
		if reply, ok := cs.orchestrator.HandleStream(m); ok {
			cs.send(reply)
		}
	case types.CommandPresentation:
		cs.systemHandler.OnPresentation(m)
		cs.notifyAlive(m.NodeId)
	case types.CommandInternal:
		cs.systemHandler.OnInternal(m)
		subtype := types.Internal(m.Type)
		if subtype == types.InternalHeartbeatResponse || subtype == types.InternalPostSleepNotification {
			cs.notifyAlive(m.NodeId)
		}
	case types.CommandSet, types.CommandReq:
		cs.systemHandler.NotifySeen(m.NodeId)
	}
}

// notifyAlive forwards a liveness signal to the orchestrator and delivers
// whatever it wants sent, typically the reboot request for a pending update.
func (cs *CentralSystem) notifyAlive(nodeId uint8) {
	if out, ok := cs.orchestrator.NotifyAlive(nodeId); ok {
		cs.send(out)
	}
}

func (cs *CentralSystem) send(m gateway.Message) {
	counters.CountMessage("out")
	if err := cs.gateway.Send(gateway.Encode(m)); err != nil {
		cs.logger.Error("sending to gateway", err)
	}
}

func (cs *CentralSystem) storeMessage(m gateway.Message, line string) {
	if cs.database == nil {
		return
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), ";", 6)
	message := &models.Message{
		NodeId:   int(m.NodeId),
		ChildId:  int(m.ChildId),
		Command:  int(m.Command),
		Ack:      int(m.Ack),
		Type:     int(m.Type),
		Payload:  parts[len(parts)-1],
		Received: time.Now(),
	}
	if err := cs.database.WriteMessage(message); err != nil {
		cs.logger.Error("writing message to database", err)
	}
}

// UploadFirmware parses and stores an image, persisting the hex source for
// reload on restart.
func (cs *CentralSystem) UploadFirmware(fwType, fwVersion uint16, hexData string) (firmware.Info, error) {
	blocks, crc, err := cs.repo.Upload(fwType, fwVersion, hexData)
	if err != nil {
		return firmware.Info{}, err
	}
	counters.CountUpload()
	cs.logger.FeatureEvent("FIRMWARE", "", fmt.Sprintf(
		"uploaded type %d version %d: %d blocks, crc 0x%04X", fwType, fwVersion, blocks, crc))
	if cs.database != nil {
		err = cs.database.AddFirmware(&models.Firmware{
			Type:     int(fwType),
			Version:  int(fwVersion),
			Blocks:   int(blocks),
			Crc:      int(crc),
			HexData:  hexData,
			Uploaded: time.Now(),
		})
		if err != nil {
			cs.logger.Error("writing firmware to database", err)
		}
	}
	return firmware.Info{Type: fwType, Version: fwVersion, BlockCount: blocks, Crc: crc}, nil
}

func (cs *CentralSystem) ListFirmware() []firmware.Info {
	return cs.repo.ListAvailable()
}

func (cs *CentralSystem) DeleteFirmware(fwType, fwVersion uint16) error {
	if err := cs.repo.Delete(fwType, fwVersion); err != nil {
		return err
	}
	if cs.database != nil {
		if err := cs.database.DeleteFirmware(int(fwType), int(fwVersion)); err != nil {
			cs.logger.Error("deleting firmware from database", err)
		}
	}
	return nil
}

func (cs *CentralSystem) ScheduleUpdate(nodeId uint8, fwType, fwVersion uint16) (string, error) {
	return cs.orchestrator.ScheduleUpdate(nodeId, fwType, fwVersion)
}

func (cs *CentralSystem) UpdateStatus(nodeId uint8) (ota.StatusInfo, error) {
	return cs.orchestrator.GetStatus(nodeId)
}

func (cs *CentralSystem) ListSessions() []ota.StatusInfo {
	return cs.orchestrator.ListSessions()
}

func (cs *CentralSystem) CompleteUpdate(nodeId uint8) error {
	return cs.orchestrator.MarkCompleted(nodeId)
}

func (cs *CentralSystem) CancelUpdate(nodeId uint8, reason string) error {
	return cs.orchestrator.MarkFailed(nodeId, reason)
}

func (cs *CentralSystem) ListNodes() []models.Node {
	return cs.systemHandler.KnownNodes()
}

func (cs *CentralSystem) ReadLog() (interface{}, error) {
	if cs.database == nil {
		return nil, utility.Err("database is disabled")
	}
	return cs.database.ReadLog()
}
