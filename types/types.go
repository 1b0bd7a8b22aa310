package types

// MySensors serial API 2.x constants. The node side is fixed bootloader
// firmware, so these values are part of the wire contract.

const BroadcastAddress uint8 = 255

type Command uint8

const (
	CommandPresentation Command = 0
	CommandSet          Command = 1
	CommandReq          Command = 2
	CommandInternal     Command = 3
	CommandStream       Command = 4
)

func (c Command) String() string {
	switch c {
	case CommandPresentation:
		return "PRESENTATION"
	case CommandSet:
		return "SET"
	case CommandReq:
		return "REQ"
	case CommandInternal:
		return "INTERNAL"
	case CommandStream:
		return "STREAM"
	}
	return "UNKNOWN"
}

type Internal uint8

const (
	InternalBatteryLevel          Internal = 0
	InternalTime                  Internal = 1
	InternalVersion               Internal = 2
	InternalIdRequest             Internal = 3
	InternalIdResponse            Internal = 4
	InternalInclusionMode         Internal = 5
	InternalConfig                Internal = 6
	InternalSketchName            Internal = 11
	InternalSketchVersion         Internal = 12
	InternalReboot                Internal = 13
	InternalGatewayReady          Internal = 14
	InternalHeartbeatRequest      Internal = 18
	InternalPresentation          Internal = 19
	InternalDiscoverRequest       Internal = 20
	InternalDiscoverResponse      Internal = 21
	InternalHeartbeatResponse     Internal = 22
	InternalPreSleepNotification  Internal = 32
	InternalPostSleepNotification Internal = 33
)

type Stream uint8

const (
	StreamFirmwareConfigRequest  Stream = 0
	StreamFirmwareConfigResponse Stream = 1
	StreamFirmwareRequest        Stream = 2
	StreamFirmwareResponse       Stream = 3
	StreamSound                  Stream = 4
	StreamImage                  Stream = 5
)

func (s Stream) String() string {
	switch s {
	case StreamFirmwareConfigRequest:
		return "ST_FIRMWARE_CONFIG_REQUEST"
	case StreamFirmwareConfigResponse:
		return "ST_FIRMWARE_CONFIG_RESPONSE"
	case StreamFirmwareRequest:
		return "ST_FIRMWARE_REQUEST"
	case StreamFirmwareResponse:
		return "ST_FIRMWARE_RESPONSE"
	case StreamSound:
		return "ST_SOUND"
	case StreamImage:
		return "ST_IMAGE"
	}
	return "UNKNOWN"
}
