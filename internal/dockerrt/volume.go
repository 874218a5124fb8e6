package dockerrt

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/client"
)

// VolumeState describes the observed state of a named volume.
type VolumeState struct {
	// Exists reports whether a volume with the name is present.
	Exists bool
	// Managed reports whether the volume carries the ragctl managed label.
	Managed bool
}

// InspectVolume queries the current state of a named volume. A missing volume
// is not an error; it is reported through VolumeState.Exists.
func (c *Client) InspectVolume(ctx context.Context, name string) (VolumeState, error) {
	res, err := c.cli.VolumeInspect(ctx, name, client.VolumeInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return VolumeState{}, nil
		}
		return VolumeState{}, fmt.Errorf("inspect volume %q: %w", name, err)
	}

	st := VolumeState{Exists: true}
	_, st.Managed = res.Volume.Labels[ManagedLabel]
	return st, nil
}

// CreateVolume creates a named volume carrying the managed label.
func (c *Client) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	all := map[string]string{ManagedLabel: "true"}
	for k, v := range labels {
		all[k] = v
	}
	if _, err := c.cli.VolumeCreate(ctx, client.VolumeCreateOptions{Name: name, Labels: all}); err != nil {
		return fmt.Errorf("could not create volume %q: %w", name, err)
	}
	return nil
}

// RemoveVolume removes a named volume. Missing volumes are a no-op.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	_, err := c.cli.VolumeRemove(ctx, name, client.VolumeRemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("could not remove volume %q: %w", name, err)
	}
	return nil
}
