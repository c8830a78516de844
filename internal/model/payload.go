package model

import (
	"encoding/json"
	"fmt"
)

// internalDataKey is the payload key carrying the internal push data block.
const internalDataKey = "com.batch"

// Payload keys recognised inside the internal data block.
const (
	internalTypeKey       = "t"
	internalIDKey         = "i"
	internalOpenDataKey   = "od"
	internalExperimentKey = "ex"
	internalVariantKey    = "va"
)

// InternalPushData is the parsed internal data block of a push payload.
// It carries the send source tag and opaque tracking parameters.
type InternalPushData struct {
	raw map[string]any
}

// ParseInternalPushData parses the internal data block out of a payload.
// The block is mandatory: a payload without it did not come from the inbox
// service, so callers must drop the element carrying it.
func ParseInternalPushData(payload map[string]string) (*InternalPushData, error) {
	raw, ok := payload[internalDataKey]
	if !ok || raw == "" {
		return nil, fmt.Errorf("payload is missing the %q block", internalDataKey)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid %q block: %w", internalDataKey, err)
	}
	return &InternalPushData{raw: decoded}, nil
}

// Source returns the notification source encoded in the type tag.
func (d *InternalPushData) Source() Source {
	tag, _ := d.raw[internalTypeKey].(string)
	switch tag {
	case "c", "C":
		return SourceCampaign
	case "t", "T":
		return SourceTransactional
	case "tc", "TC", "Tc", "tC":
		return SourceTrigger
	default:
		return SourceUnknown
	}
}

// ExtraParameters returns the tracking parameters carried by the block,
// trimmed to the keys analytics downstream cares about. Returns nil when
// none are present.
func (d *InternalPushData) ExtraParameters() map[string]any {
	keys := []string{
		internalIDKey,
		internalOpenDataKey,
		internalExperimentKey,
		internalVariantKey,
		internalTypeKey,
	}

	var params map[string]any
	for _, k := range keys {
		v, ok := d.raw[k]
		if !ok {
			continue
		}
		if params == nil {
			params = make(map[string]any)
		}
		params[k] = v
	}
	return params
}
