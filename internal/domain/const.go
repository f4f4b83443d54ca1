package domain

const (
	// Subject prefix for version events published to NATS
	VERSION_EVENT_SUBJECT_PREFIX = "versions"
)
