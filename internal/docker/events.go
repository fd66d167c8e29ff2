package docker

import (
	"context"

	"github.com/moby/moby/api/types/events"
	"github.com/moby/moby/client"
)

// StreamEvents subscribes to container lifecycle events from the daemon.
// Both channels close when ctx is cancelled or the daemon connection drops.
func (c *Client) StreamEvents(ctx context.Context) (<-chan events.Message, <-chan error) {
	res := c.api.Events(ctx, client.EventsListOptions{
		Filters: make(client.Filters).Add("type", "container"),
	})
	return res.Messages, res.Err
}
