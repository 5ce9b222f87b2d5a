// Package permissions grants or denies access to capture devices.
package permissions

import (
	"context"
	"fmt"
	"sync"

	"emotion-monitor/internal/config"
	"emotion-monitor/internal/domain"
)

// Prompt asks the user for access to a device.
type Prompt func(ctx context.Context, device domain.Device) (bool, error)

// ConsentStore remembers granted devices in settings and prompts for the rest.
// Denials are not persisted, so the next session asks again.
type ConsentStore struct {
	store  config.Store
	prompt Prompt

	mu sync.Mutex
}

// NewConsentStore creates a consent provider backed by the settings store.
func NewConsentStore(store config.Store, prompt Prompt) *ConsentStore {
	return &ConsentStore{store: store, prompt: prompt}
}

// Granted reports whether device access was granted earlier.
func (c *ConsentStore) Granted(device domain.Device) bool {
	settings, err := c.store.Load()
	if err != nil {
		return false
	}
	return granted(settings, device)
}

// Request returns true when access is already granted or the user accepts.
func (c *ConsentStore) Request(ctx context.Context, device domain.Device) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings, err := c.store.Load()
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if granted(settings, device) {
		return true, nil
	}
	if c.prompt == nil {
		return false, nil
	}

	ok, err := c.prompt(ctx, device)
	if err != nil {
		return false, fmt.Errorf("request %s permission: %w", device, err)
	}
	if !ok {
		return false, nil
	}

	if err := c.store.Save(setGranted(settings, device, true)); err != nil {
		return true, fmt.Errorf("save %s permission: %w", device, err)
	}
	return true, nil
}

// Revoke clears a remembered grant.
func (c *ConsentStore) Revoke(device domain.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := c.store.Save(setGranted(settings, device, false)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func granted(settings domain.Settings, device domain.Device) bool {
	switch device {
	case domain.DeviceCamera:
		return settings.CameraGranted
	case domain.DeviceMicrophone:
		return settings.MicrophoneGranted
	default:
		return false
	}
}

func setGranted(settings domain.Settings, device domain.Device, value bool) domain.Settings {
	switch device {
	case domain.DeviceCamera:
		settings.CameraGranted = value
	case domain.DeviceMicrophone:
		settings.MicrophoneGranted = value
	}
	return settings
}
