package device

import (
	"context"
	"fmt"
	"time"
)

// LookupStep is a discovery step of FindCharacteristic.
type LookupStep int

const (
	StepServiceDiscovery LookupStep = iota
	StepCharacteristicDiscovery
)

// DialTimeout connects to address, bounding the connect by timeout. Failures come back as *ResolveError.
func DialTimeout(ctx context.Context, radio Radio, address string, timeout time.Duration) (Link, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	link, err := radio.Dial(dialCtx, address)
	if err != nil {
		return nil, &ResolveError{Address: address, Err: err}
	}
	return link, nil
}

// FindCharacteristic discovers serviceUUID on link and then charUUID inside it.
//
// before, when set, runs ahead of each step; its error aborts the lookup and is returned unchanged.
// A missing service or characteristic is reported as *NotFoundError. The link is left open either way.
func FindCharacteristic(link Link, serviceUUID, charUUID string, before func(LookupStep) error) (Characteristic, error) {
	if before == nil {
		before = func(LookupStep) error { return nil }
	}

	if err := before(StepServiceDiscovery); err != nil {
		return nil, err
	}
	svcs, err := link.DiscoverServices(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("service discovery: %w", err)
	}
	if len(svcs) == 0 {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}

	if err := before(StepCharacteristicDiscovery); err != nil {
		return nil, err
	}
	chars, err := link.DiscoverCharacteristics(svcs[0], charUUID)
	if err != nil {
		return nil, fmt.Errorf("characteristic discovery: %w", err)
	}
	if len(chars) == 0 {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return chars[0], nil
}

// FindHeartRateMeasurement locates the Heart Rate Measurement characteristic.
func FindHeartRateMeasurement(link Link, before func(LookupStep) error) (Characteristic, error) {
	return FindCharacteristic(link, HeartRateServiceUUID, HeartRateMeasurementUUID, before)
}
