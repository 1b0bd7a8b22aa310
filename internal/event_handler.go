package internal

import "time"

type EventHandler interface {
	OnUpdateScheduled(event *EventMessage)
	OnUpdateStarted(event *EventMessage)
	OnUpdateCompleted(event *EventMessage)
	OnUpdateFailed(event *EventMessage)
}

type EventMessage struct {
	Type            string    `json:"type" bson:"type"`
	NodeId          int       `json:"node_id" bson:"node_id"`
	FirmwareType    int       `json:"firmware_type" bson:"firmware_type"`
	FirmwareVersion int       `json:"firmware_version" bson:"firmware_version"`
	Time            time.Time `json:"time" bson:"time"`
	Info            string    `json:"info" bson:"info"`
}
