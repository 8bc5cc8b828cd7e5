//go:build !linux && !darwin

package supervise

import (
	"context"
	"errors"
)

// Watch is not supported on this platform
func (c *Client) Watch(ctx context.Context) (<-chan WatchEvent, WatchCleanupFunc, error) {
	return nil, nil, errors.New("watch not supported on this platform")
}

// Wait is not supported on this platform
func (c *Client) Wait(ctx context.Context, states []State) (Status, error) {
	return Status{}, errors.New("wait not supported on this platform")
}
