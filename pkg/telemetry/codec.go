// Package telemetry receives CBOR-encoded telemetry that TieDie gateways
// publish on an MQTT broker.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrUnsupportedPayload is returned for payloads that are neither a record
// nor an array of records.
var ErrUnsupportedPayload = errors.New("telemetry: payload is neither a record nor an array of records")

// decMode is lenient so newer gateways can add fields.
var decMode cbor.DecMode

// encMode is used by EncodeRecords.
var encMode cbor.EncMode

func init() {
	var err error

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// Record is one telemetry sample published by a gateway.
// At most one of the BLE metadata blocks is set.
type Record struct {
	DeviceID  string  `cbor:"deviceID"`
	Data      []byte  `cbor:"data,omitempty"`
	Timestamp float64 `cbor:"timestamp,omitempty"`

	BLESubscription     *BLESubscription     `cbor:"bleSubscription,omitempty"`
	BLEAdvertisement    *BLEAdvertisement    `cbor:"bleAdvertisement,omitempty"`
	BLEConnectionStatus *BLEConnectionStatus `cbor:"bleConnectionStatus,omitempty"`
}

// Time converts the gateway's fractional Unix timestamp.
// It returns the zero time when no timestamp was sent.
func (r Record) Time() time.Time {
	if r.Timestamp == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// BLESubscription identifies the characteristic a GATT notification came from.
type BLESubscription struct {
	ServiceID        string `cbor:"serviceID"`
	CharacteristicID string `cbor:"characteristicID"`
}

// BLEAdvertisement describes a received advertisement.
type BLEAdvertisement struct {
	RSSI       int    `cbor:"rssi"`
	MACAddress string `cbor:"macAddress"`
}

// BLEConnectionStatus reports a connection state change.
type BLEConnectionStatus struct {
	MACAddress string `cbor:"macAddress"`
	Connected  bool   `cbor:"connected"`
	Reason     *int   `cbor:"reason,omitempty"`
}

// CBOR major types of the top-level item.
const (
	majorArray = 4
	majorMap   = 5
	majorTag   = 6
)

// CBOR simple values meaning "nothing".
const (
	simpleNull      = 0xf6
	simpleUndefined = 0xf7
)

// DecodeRecords decodes a payload holding either one record or an array of
// records. An empty payload, null or undefined yields no records.
func DecodeRecords(payload []byte) ([]Record, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	switch payload[0] {
	case simpleNull, simpleUndefined:
		return nil, nil
	}

	switch payload[0] >> 5 {
	case majorArray:
		var records []Record
		if err := decMode.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("failed to decode record array: %w", err)
		}
		return records, nil
	case majorMap:
		var record Record
		if err := decMode.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return []Record{record}, nil
	case majorTag:
		var tag cbor.RawTag
		if err := decMode.Unmarshal(payload, &tag); err != nil {
			return nil, fmt.Errorf("failed to decode tagged payload: %w", err)
		}
		return DecodeRecords(tag.Content)
	default:
		return nil, ErrUnsupportedPayload
	}
}

// EncodeRecords encodes records the way gateways publish them: a single
// record as a map, several as an array.
func EncodeRecords(records ...Record) ([]byte, error) {
	if len(records) == 1 {
		return encMode.Marshal(records[0])
	}
	return encMode.Marshal(records)
}
