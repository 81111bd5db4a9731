package payments

import (
	"encoding/json"
	"time"
)

// webhookEnvelope mirrors the provider webhook shape. Razorpay sends "event"
// with entities nested under payload.<kind>.entity; PayPal uses "event_type"
// with a flat resource. Entities are kept raw because some payload variants
// inline the entity instead of nesting it.
type webhookEnvelope struct {
	Event     string `json:"event"`
	EventType string `json:"event_type"`
	Payload   struct {
		Subscription json.RawMessage `json:"subscription"`
		Payment      json.RawMessage `json:"payment"`
		Invoice      json.RawMessage `json:"invoice"`
	} `json:"payload"`
}

func (e *webhookEnvelope) eventName() string {
	if e.Event != "" {
		return e.Event
	}
	return e.EventType
}

// subscriptionEntity returns the subscription entity as a map, tolerating
// both the nested {"entity": {...}} and the inlined form.
func (e *webhookEnvelope) subscriptionEntity() map[string]interface{} {
	return decodeEntity(e.Payload.Subscription)
}

func (e *webhookEnvelope) paymentEntity() map[string]interface{} {
	return decodeEntity(e.Payload.Payment)
}

func decodeEntity(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var outer map[string]interface{}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil
	}
	if entity, ok := outer["entity"].(map[string]interface{}); ok {
		return entity
	}
	return outer
}

func entityString(entity map[string]interface{}, key string) string {
	if entity == nil {
		return ""
	}
	v, _ := entity[key].(string)
	return v
}

// entityEpoch reads a Unix timestamp field that providers send either as a
// JSON number or a numeric string. Zero means absent or unparseable.
func entityEpoch(entity map[string]interface{}, key string) int64 {
	if entity == nil {
		return 0
	}
	switch v := entity[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		var t time.Time
		if err := t.UnmarshalText([]byte(v)); err == nil {
			return t.Unix()
		}
		return parseEpochString(v)
	default:
		return 0
	}
}

func parseEpochString(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

func entityAmount(entity map[string]interface{}, key string) int64 {
	if entity == nil {
		return 0
	}
	if v, ok := entity[key].(float64); ok {
		return int64(v)
	}
	return 0
}

// subscriptionNotes extracts the user correlation notes Razorpay echoes back
// on subscription entities.
func subscriptionNotes(entity map[string]interface{}) map[string]interface{} {
	if entity == nil {
		return nil
	}
	notes, _ := entity["notes"].(map[string]interface{})
	return notes
}
