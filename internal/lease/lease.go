// Package lease grants a running campaign exclusive use of its devices for a
// bounded time. Leases expire on their own if the holder stops renewing them.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHeld is returned when a device is leased to another campaign
var ErrHeld = errors.New("device lease held by another campaign")

// HeldError identifies the campaign currently holding a device
type HeldError struct {
	DeviceID         int64
	HolderCampaignID int64
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("device %d is leased to campaign %d", e.DeviceID, e.HolderCampaignID)
}

func (e *HeldError) Unwrap() error {
	return ErrHeld
}

// Manager acquires, renews and releases device leases
type Manager interface {
	// Acquire leases every device to the campaign. Re-acquiring a lease the
	// campaign already holds renews it. On conflict no device stays leased.
	Acquire(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error

	// Extend renews the campaign's leases and re-takes any that expired. A
	// device since leased to another campaign yields a HeldError.
	Extend(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error

	// Release drops the leases the campaign holds
	Release(ctx context.Context, deviceIDs []int64, campaignID int64) error
}

// acquireAll runs acquire per device and rolls back on the first conflict
func acquireAll(
	ctx context.Context,
	m Manager,
	deviceIDs []int64,
	campaignID int64,
	acquire func(ctx context.Context, deviceID int64) (int64, error),
) error {
	acquired := make([]int64, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		holder, err := acquire(ctx, deviceID)
		if err == nil && holder == campaignID {
			acquired = append(acquired, deviceID)
			continue
		}

		if len(acquired) > 0 {
			_ = m.Release(ctx, acquired, campaignID)
		}
		if err != nil {
			return err
		}
		return &HeldError{DeviceID: deviceID, HolderCampaignID: holder}
	}
	return nil
}

// extendAll renews every device and reports the first one lost to another
// campaign. Leases still held stay renewed.
func extendAll(
	ctx context.Context,
	deviceIDs []int64,
	campaignID int64,
	acquire func(ctx context.Context, deviceID int64) (int64, error),
) error {
	var lost error
	for _, deviceID := range deviceIDs {
		holder, err := acquire(ctx, deviceID)
		if err != nil {
			return err
		}
		if holder != campaignID && lost == nil {
			lost = &HeldError{DeviceID: deviceID, HolderCampaignID: holder}
		}
	}
	return lost
}
