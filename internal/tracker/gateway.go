package tracker

import "context"

// Gateway bundles the raw API client with the transition resolver so callers
// get one handle for everything the remote system offers.
type Gateway struct {
	*Client
	closer *Closer
}

func NewGateway(client *Client, classifier *StatusClassifier) *Gateway {
	return &Gateway{
		Client: client,
		closer: NewCloser(client, classifier),
	}
}

// CloseIssue walks the transition graph to a terminal status, per Closer.
func (g *Gateway) CloseIssue(ctx context.Context, key string) error {
	return g.closer.Close(ctx, key)
}
