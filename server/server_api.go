package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"mytracker/firmware"
	"mytracker/internal"
	"mytracker/internal/config"
	"mytracker/models"
	"mytracker/ota"
)

// Handler is the application surface exposed over the HTTP API.
type Handler interface {
	UploadFirmware(fwType, fwVersion uint16, hexData string) (firmware.Info, error)
	ListFirmware() []firmware.Info
	DeleteFirmware(fwType, fwVersion uint16) error
	ScheduleUpdate(nodeId uint8, fwType, fwVersion uint16) (string, error)
	UpdateStatus(nodeId uint8) (ota.StatusInfo, error)
	ListSessions() []ota.StatusInfo
	CompleteUpdate(nodeId uint8) error
	CancelUpdate(nodeId uint8, reason string) error
	ListNodes() []models.Node
	ReadLog() (interface{}, error)
}

type Api struct {
	conf       *config.Config
	logger     internal.LogHandler
	handler    Handler
	router     *httprouter.Router
	httpServer *http.Server
}

type uploadCommand struct {
	FirmwareType    int    `json:"firmware_type"`
	FirmwareVersion int    `json:"firmware_version"`
	HexData         string `json:"hex_data"`
}

type scheduleCommand struct {
	NodeId          int `json:"node_id"`
	FirmwareType    int `json:"firmware_type"`
	FirmwareVersion int `json:"firmware_version"`
}

type cancelCommand struct {
	Reason string `json:"reason"`
}

func NewServerApi(conf *config.Config, logger internal.LogHandler) *Api {
	server := Api{
		conf:   conf,
		logger: logger,
		router: httprouter.New(),
	}
	server.register()
	server.httpServer = &http.Server{
		Handler: server.router,
	}
	return &server
}

func (s *Api) SetHandler(handler Handler) {
	s.handler = handler
}

// Router is exposed so additional endpoints can attach to the same listener.
func (s *Api) Router() *httprouter.Router {
	return s.router
}

func (s *Api) register() {
	s.router.POST("/api/firmware", s.uploadFirmware)
	s.router.GET("/api/firmware", s.listFirmware)
	s.router.DELETE("/api/firmware/:type/:version", s.deleteFirmware)
	s.router.POST("/api/ota/schedule", s.scheduleUpdate)
	s.router.GET("/api/ota/status/:node_id", s.updateStatus)
	s.router.GET("/api/ota/sessions", s.listSessions)
	s.router.POST("/api/ota/complete/:node_id", s.completeUpdate)
	s.router.POST("/api/ota/cancel/:node_id", s.cancelUpdate)
	s.router.GET("/api/nodes", s.listNodes)
	s.router.GET("/api/log", s.readLog)
}

func (s *Api) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting api server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		cert, err := tls.LoadX509KeyPair(s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
		if err != nil {
			return fmt.Errorf("api: failed to load certificate: %v", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		return s.httpServer.ServeTLS(listener, "", "")
	}
	return s.httpServer.Serve(listener)
}

func (s *Api) uploadFirmware(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd uploadCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.badRequest(w, r, err)
		return
	}
	fwType, ok1 := asUint16(cmd.FirmwareType)
	fwVersion, ok2 := asUint16(cmd.FirmwareVersion)
	if !ok1 || !ok2 {
		s.badRequest(w, r, fmt.Errorf("firmware key out of range"))
		return
	}
	info, err := s.handler.UploadFirmware(fwType, fwVersion, cmd.HexData)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJson(w, info)
}

func (s *Api) listFirmware(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.sendJson(w, s.handler.ListFirmware())
}

func (s *Api) deleteFirmware(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	fwType, ok1 := parseUint16(params.ByName("type"))
	fwVersion, ok2 := parseUint16(params.ByName("version"))
	if !ok1 || !ok2 {
		s.badRequest(w, r, fmt.Errorf("invalid firmware key"))
		return
	}
	if err := s.handler.DeleteFirmware(fwType, fwVersion); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Api) scheduleUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd scheduleCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.badRequest(w, r, err)
		return
	}
	nodeId, ok := asUint8(cmd.NodeId)
	fwType, ok1 := asUint16(cmd.FirmwareType)
	fwVersion, ok2 := asUint16(cmd.FirmwareVersion)
	if !ok || !ok1 || !ok2 {
		s.badRequest(w, r, fmt.Errorf("node id or firmware key out of range"))
		return
	}
	sessionId, err := s.handler.ScheduleUpdate(nodeId, fwType, fwVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJson(w, map[string]string{"session_id": sessionId})
}

func (s *Api) updateStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	nodeId, ok := parseUint8(params.ByName("node_id"))
	if !ok {
		s.badRequest(w, r, fmt.Errorf("invalid node id"))
		return
	}
	status, err := s.handler.UpdateStatus(nodeId)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJson(w, status)
}

func (s *Api) listSessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.sendJson(w, s.handler.ListSessions())
}

func (s *Api) completeUpdate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	nodeId, ok := parseUint8(params.ByName("node_id"))
	if !ok {
		s.badRequest(w, r, fmt.Errorf("invalid node id"))
		return
	}
	if err := s.handler.CompleteUpdate(nodeId); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Api) cancelUpdate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	nodeId, ok := parseUint8(params.ByName("node_id"))
	if !ok {
		s.badRequest(w, r, fmt.Errorf("invalid node id"))
		return
	}
	var cmd cancelCommand
	_ = json.NewDecoder(r.Body).Decode(&cmd)
	if cmd.Reason == "" {
		cmd.Reason = "canceled via api"
	}
	if err := s.handler.CancelUpdate(nodeId, cmd.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Api) listNodes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.sendJson(w, s.handler.ListNodes())
}

func (s *Api) readLog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	messages, err := s.handler.ReadLog()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJson(w, messages)
}

func (s *Api) sendJson(w http.ResponseWriter, data interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("api: encoding response", err)
	}
}

func (s *Api) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn(fmt.Sprintf("api: bad request from %s: %s", r.RemoteAddr, err))
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ota.ErrNotFound), errors.Is(err, ota.ErrNoSuchFirmware),
		errors.Is(err, firmware.ErrUnknownFirmware):
		status = http.StatusNotFound
	case errors.Is(err, ota.ErrSessionInProgress), errors.Is(err, firmware.ErrImageInUse):
		status = http.StatusConflict
	case errors.Is(err, ota.ErrInvalidNodeId), errors.Is(err, firmware.ErrMalformedRecord),
		errors.Is(err, firmware.ErrTruncatedImage), errors.Is(err, firmware.ErrUnsupportedRecordType),
		errors.Is(err, firmware.ErrEmptyImage), errors.Is(err, firmware.ErrImageTooLarge):
		status = http.StatusBadRequest
	}
	s.logger.Warn(fmt.Sprintf("api: request from %s failed: %s", r.RemoteAddr, err))
	http.Error(w, err.Error(), status)
}

func asUint8(v int) (uint8, bool) {
	if v < 0 || v > 0xFF {
		return 0, false
	}
	return uint8(v), true
}

func asUint16(v int) (uint16, bool) {
	if v < 0 || v > 0xFFFF {
		return 0, false
	}
	return uint16(v), true
}

func parseUint8(s string) (uint8, bool) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}

func parseUint16(s string) (uint16, bool) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
