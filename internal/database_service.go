package internal

import "mytracker/models"

type Database interface {
	Write(table string, data Data) error
	WriteLogMessage(data Data) error
	ReadLog() (interface{}, error)
	WriteMessage(message *models.Message) error
	GetNodes() ([]models.Node, error)
	AddNode(node *models.Node) error
	UpdateNode(node *models.Node) error
	GetFirmware() ([]models.Firmware, error)
	AddFirmware(firmware *models.Firmware) error
	DeleteFirmware(fwType, fwVersion int) error
	GetSubscriptions() ([]models.UserSubscription, error)
	AddSubscription(subscription *models.UserSubscription) error
	DeleteSubscription(subscription *models.UserSubscription) error
}

type Data interface {
	DataType() string
}
