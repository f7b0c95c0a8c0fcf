package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequiredFields = errors.New("missing required fields")
	ErrInsufficientShards    = errors.New("insufficient shards available for reconstruction")
	ErrEmptyFile             = errors.New("cannot upload empty file")
	ErrChecksumMismatch      = errors.New("chunk checksum mismatch")

	// ErrUnsupportedTopology is returned when a bucket does not resolve to
	// exactly one tiering target.
	ErrUnsupportedTopology = errors.New("only single tier supported per bucket/chunk")
	// ErrInvalidRepairRequest is returned when a reported bad block does not
	// belong to the stated part, chunk or fragment.
	ErrInvalidRepairRequest = errors.New("invalid bad block request")
	ErrNotFound             = errors.New("not found")
	ErrPlacementFailure     = errors.New("block placement failed")
	ErrStoreFailure         = errors.New("mapping store failure")
	ErrInvalidRange         = errors.New("invalid byte range")
)

// NotFoundError reports a missing or tombstoned resource.
func NotFoundError(resource, id string) error {
	return fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
}

// StoreError wraps a persistence failure so that it matches ErrStoreFailure
// while keeping the original error reachable through errors.Is/As.
// Not-found errors pass through untouched.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreFailure, err))
}

// PlacementError wraps a failure of the block placement policy.
func PlacementError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPlacementFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPlacementFailure, err)
}

// InvalidRepairError describes why a repair request was rejected.
func InvalidRepairError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRepairRequest, reason)
}
