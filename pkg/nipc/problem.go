package nipc

import (
	"encoding/json"
	"fmt"
	"strings"
)

const problemTypeBase = "https://www.iana.org/assignments/nipc-problem-types#"

// ProblemType is a NIPC problem type URI.
// Values outside the known set decode to ProblemAboutBlank.
type ProblemType string

// NIPC problem types registered by the NIPC draft.
const (
	ProblemInvalidID                         ProblemType = problemTypeBase + "invalid-id"
	ProblemInvalidSdfURL                     ProblemType = problemTypeBase + "invalid-sdf-url"
	ProblemExtensionOperationNotExecuted     ProblemType = problemTypeBase + "extension-operation-not-executed"
	ProblemSdfModelAlreadyRegistered         ProblemType = problemTypeBase + "sdf-model-already-registered"
	ProblemSdfModelInUse                     ProblemType = problemTypeBase + "sdf-model-in-use"
	ProblemPropertyNotReadable               ProblemType = problemTypeBase + "property-not-readable"
	ProblemPropertyNotWritable               ProblemType = problemTypeBase + "property-not-writable"
	ProblemEventAlreadyEnabled               ProblemType = problemTypeBase + "event-already-enabled"
	ProblemEventNotEnabled                   ProblemType = problemTypeBase + "event-not-enabled"
	ProblemEventNotRegistered                ProblemType = problemTypeBase + "event-not-registered"
	ProblemBLEAlreadyConnected               ProblemType = problemTypeBase + "protocolmap-ble-already-connected"
	ProblemBLENoConnection                   ProblemType = problemTypeBase + "protocolmap-ble-no-connection"
	ProblemBLEConnectionTimeout              ProblemType = problemTypeBase + "protocolmap-ble-connection-timeout"
	ProblemBLEBondingFailed                  ProblemType = problemTypeBase + "protocolmap-ble-bonding-failed"
	ProblemBLEConnectionFailed               ProblemType = problemTypeBase + "protocolmap-ble-connection-failed"
	ProblemBLEServiceDiscoveryFailed         ProblemType = problemTypeBase + "protocolmap-ble-service-discovery-failed"
	ProblemBLEInvalidServiceOrCharacteristic ProblemType = problemTypeBase + "protocolmap-ble-invalid-service-or-characteristic"
	ProblemZigbeeConnectionTimeout           ProblemType = problemTypeBase + "protocolmap-zigbee-connection-timeout"
	ProblemZigbeeInvalidEndpointOrCluster    ProblemType = problemTypeBase + "protocolmap-zigbee-invalid-endpoint-or-cluster"
	ProblemBroadcastInvalidData              ProblemType = problemTypeBase + "extension-broadcast-invalid-data"
	ProblemFirmwareRollback                  ProblemType = problemTypeBase + "extension-firmware-rollback"
	ProblemFirmwareUpdateFailed              ProblemType = problemTypeBase + "extension-firmware-update-failed"

	// ProblemAboutBlank is the RFC 9457 default type.
	ProblemAboutBlank ProblemType = "about:blank"
)

var knownProblemTypes = map[ProblemType]struct{}{
	ProblemInvalidID:                         {},
	ProblemInvalidSdfURL:                     {},
	ProblemExtensionOperationNotExecuted:     {},
	ProblemSdfModelAlreadyRegistered:         {},
	ProblemSdfModelInUse:                     {},
	ProblemPropertyNotReadable:               {},
	ProblemPropertyNotWritable:               {},
	ProblemEventAlreadyEnabled:               {},
	ProblemEventNotEnabled:                   {},
	ProblemEventNotRegistered:                {},
	ProblemBLEAlreadyConnected:               {},
	ProblemBLENoConnection:                   {},
	ProblemBLEConnectionTimeout:              {},
	ProblemBLEBondingFailed:                  {},
	ProblemBLEConnectionFailed:               {},
	ProblemBLEServiceDiscoveryFailed:         {},
	ProblemBLEInvalidServiceOrCharacteristic: {},
	ProblemZigbeeConnectionTimeout:           {},
	ProblemZigbeeInvalidEndpointOrCluster:    {},
	ProblemBroadcastInvalidData:              {},
	ProblemFirmwareRollback:                  {},
	ProblemFirmwareUpdateFailed:              {},
	ProblemAboutBlank:                        {},
}

// ParseProblemType maps a type URI onto the known set.
func ParseProblemType(value string) ProblemType {
	t := ProblemType(value)
	if _, ok := knownProblemTypes[t]; ok {
		return t
	}
	return ProblemAboutBlank
}

// UnmarshalJSON implements json.Unmarshaler. A null type decodes to about:blank.
func (t *ProblemType) UnmarshalJSON(data []byte) error {
	var value *string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	if value == nil {
		*t = ProblemAboutBlank
		return nil
	}
	*t = ParseProblemType(*value)
	return nil
}

// ProblemDetails is an RFC 9457 problem document.
type ProblemDetails struct {
	Type   ProblemType `json:"type"`
	Status int         `json:"status"`
	Title  string      `json:"title"`
	Detail string      `json:"detail,omitempty"`
}

// Error implements error so a problem can be logged or wrapped directly.
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("nipc problem (status: %d, type: %s): %s: %s", p.Status, p.Type, p.Title, p.Detail)
}

const (
	problemMediaType = "application/problem+json"

	responseParsingTitle = "Response Parsing Error"
)

// DecodeProblem builds ProblemDetails for an error response. It never fails:
// when the body is not a problem document the details are synthesized from
// the transport status.
func DecodeProblem(status int, statusMessage, contentType, body string) ProblemDetails {
	if body != "" && strings.Contains(strings.ToLower(contentType), problemMediaType) {
		problem := ProblemDetails{Type: ProblemAboutBlank}
		if err := json.Unmarshal([]byte(body), &problem); err != nil {
			return fallbackProblem(status, statusMessage, body, err)
		}
		if problem.Status == 0 {
			problem.Status = status
		}
		if problem.Detail == "" {
			problem.Detail = statusMessage
		}
		return problem
	}

	return fallbackProblem(status, statusMessage, body, nil)
}

func fallbackProblem(status int, statusMessage, body string, parseErr error) ProblemDetails {
	detail := body
	if detail == "" {
		detail = statusMessage
	}
	if parseErr != nil {
		detail = "Failed to parse error response: " + parseErr.Error()
	}

	return ProblemDetails{
		Type:   ProblemAboutBlank,
		Status: status,
		Title:  statusMessage,
		Detail: detail,
	}
}

func parsingProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemAboutBlank,
		Status: 500,
		Title:  responseParsingTitle,
		Detail: detail,
	}
}
