package internal

type LogHandler interface {
	FeatureEvent(feature, nodeId, text string)
	Debug(text string)
	Warn(text string)
	Error(text string, err error)
	RawDataEvent(direction, data string)
}
