package models

import "time"

type Message struct {
	NodeId   int       `json:"node_id" bson:"node_id"`
	ChildId  int       `json:"child_id" bson:"child_id"`
	Command  int       `json:"command" bson:"command"`
	Ack      int       `json:"ack" bson:"ack"`
	Type     int       `json:"type" bson:"type"`
	Payload  string    `json:"payload" bson:"payload"`
	Received time.Time `json:"received" bson:"received"`
}
