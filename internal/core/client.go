package core

// Client is a live relay connection as seen by the core layer.
type Client struct {
	Handle   string
	Commands chan *Command
	Events   chan *Event

	// gone is closed by the hub once the client is detached.
	gone chan struct{}
}

// NewClient constructs a client with initialized channels. eventBuffer bounds
// the outbound queue; events beyond it are dropped.
func NewClient(handle string, eventBuffer int) *Client {
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &Client{
		Handle:   handle,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, eventBuffer),
		gone:     make(chan struct{}),
	}
}

// Done is closed after the hub has detached the client.
func (c *Client) Done() <-chan struct{} {
	return c.gone
}
