package publisher

// Publisher fans normalized products out to downstream consumers
type Publisher interface {
	// Publish publishes a message to the site's stream
	Publish(site string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}
