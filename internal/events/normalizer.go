// Package events normalizes heterogeneous queue messages from the source
// cloud platform into the canonical Event model. It is a pure function over
// the raw message: no I/O, no side effects.
package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// openstackComputeState maps upstream compute states onto the billing-internal
// vocabulary.
var openstackComputeState = map[string]string{
	"active":    models.ComputeStateRunning,
	"build":     models.ComputeStateRunning,
	"stopped":   models.ComputeStateStopped,
	"paused":    models.ComputeStateStopped,
	"suspended": models.ComputeStateStopped,
	"shutoff":   models.ComputeStateStopped,
	"error":     models.ComputeStateStopped,
	"deleted":   models.ComputeStateDeleted,
}

// RawMessage is the decoded JSON body of a queue delivery, plus the routing
// key the consumer injected under "_routing_key".
type RawMessage map[string]any

// Normalize classifies and normalizes a raw queue message into a canonical
// Event. It returns nil, without error, when the message cannot be
// classified or is missing a resource/user identifier — callers must route
// such messages to the dead-letter queue rather than retry them.
func Normalize(msg RawMessage) *models.Event {
	resourceType, ok := detectResourceType(msg)
	if !ok {
		return nil
	}

	eventType := detectEventType(msg)

	resourceID, ok := extractString(msg, "resource_id", "instance_id", "volume_id", "floatingip_id", "id")
	if !ok {
		return nil
	}

	userID, ok := extractUserID(msg)
	if !ok {
		return nil
	}

	ts := parseTimestamp(firstNonNil(msg["timestamp"], msg["generated"], msg["created_at"]))

	var payload map[string]any
	switch resourceType {
	case models.ResourceCompute:
		payload = parseCompute(msg, eventType)
	case models.ResourceDisk:
		payload = parseDisk(msg, eventType)
	case models.ResourceFloatingIP:
		payload = parseFloatingIP(msg)
	}

	return &models.Event{
		ResourceType: resourceType,
		EventType:    eventType,
		ResourceID:   resourceID,
		UserID:       userID,
		Timestamp:    ts,
		Payload:      payload,
	}
}

func detectResourceType(msg RawMessage) (models.ResourceType, bool) {
	eventType := strings.ToLower(stringField(msg, "event_type"))
	routingKey := strings.ToLower(stringField(msg, "_routing_key"))

	switch {
	case containsAny(eventType, "instance", "compute", "server"):
		return models.ResourceCompute, true
	case containsAny(eventType, "volume", "disk"):
		return models.ResourceDisk, true
	case containsAny(eventType, "floatingip", "floating_ip", "fip"):
		return models.ResourceFloatingIP, true
	}

	switch {
	case containsAny(routingKey, "compute", "nova"):
		return models.ResourceCompute, true
	case containsAny(routingKey, "volume", "cinder"):
		return models.ResourceDisk, true
	}

	payload := mapField(msg, "payload")
	_, hasInstanceID := payload["instance_id"]
	_, hasFlavor := payload["flavor"]
	_, hasVolumeID := payload["volume_id"]
	_, hasSize := payload["size"]
	_, hasFloatingIPAddr := payload["floating_ip_address"]
	_, hasFloatingIP := payload["floatingip"]

	switch {
	case hasInstanceID || hasFlavor:
		return models.ResourceCompute, true
	case hasVolumeID || (hasSize && !hasInstanceID):
		return models.ResourceDisk, true
	case hasFloatingIPAddr || hasFloatingIP:
		return models.ResourceFloatingIP, true
	}

	return "", false
}

func detectEventType(msg RawMessage) models.EventType {
	eventStr := strings.ToLower(stringField(msg, "event_type"))

	switch {
	case containsAny(eventStr, "create", "build", "spawn"):
		return models.EventCreate
	case containsAny(eventStr, "delete", "destroy", "terminate"):
		return models.EventDelete
	case containsAny(eventStr, "start", "power_on", "resume", "unpause"):
		return models.EventStart
	case containsAny(eventStr, "stop", "power_off", "pause", "suspend", "shutdown"):
		return models.EventStop
	case strings.Contains(eventStr, "resize"):
		return models.EventResize
	case strings.Contains(eventStr, "attach"):
		return models.EventAttach
	case strings.Contains(eventStr, "detach"):
		return models.EventDetach
	case strings.Contains(eventStr, "allocate"):
		return models.EventAllocate
	case containsAny(eventStr, "release", "deallocate"):
		return models.EventRelease
	default:
		return models.EventUpdate
	}
}

func parseCompute(msg RawMessage, eventType models.EventType) map[string]any {
	payload := payloadOrMessage(msg)
	result := map[string]any{}

	var flavorName string
	if flavor, ok := payload["flavor"]; ok {
		switch f := flavor.(type) {
		case map[string]any:
			if name, ok := f["name"].(string); ok {
				flavorName = name
			} else if id, ok := f["id"].(string); ok {
				flavorName = id
			}
		default:
			flavorName = toString(flavor)
		}
	} else if it, ok := payload["instance_type"]; ok {
		flavorName = toString(it)
	}
	if flavorName != "" {
		result["flavor"] = flavorName
	}

	var state string
	if s, ok := payload["state"]; ok {
		osState := strings.ToLower(toString(s))
		if mapped, ok := openstackComputeState[osState]; ok {
			state = mapped
		} else {
			state = osState
		}
	} else {
		switch eventType {
		case models.EventCreate, models.EventStart:
			state = models.ComputeStateRunning
		case models.EventDelete:
			state = models.ComputeStateDeleted
		case models.EventStop:
			state = models.ComputeStateStopped
		}
	}
	if state != "" {
		result["state"] = state
	}

	return result
}

func parseDisk(msg RawMessage, eventType models.EventType) map[string]any {
	payload := payloadOrMessage(msg)
	result := map[string]any{}

	if size, ok := payload["size"]; ok {
		if n, ok := toInt(size); ok {
			result["size_gb"] = n
		}
	}

	if attachments, ok := payload["attachments"].([]any); ok && len(attachments) > 0 {
		if a, ok := attachments[0].(map[string]any); ok {
			result["attached_to"] = firstNonNil(a["server_id"], a["instance_id"])
		}
	} else if uuid, ok := payload["instance_uuid"]; ok {
		result["attached_to"] = uuid
	}

	var state string
	if status, ok := payload["status"]; ok {
		switch strings.ToLower(toString(status)) {
		case "in-use":
			state = models.DiskStateAttached
		case "available":
			state = models.DiskStateDetached
		case "deleted":
			state = models.DiskStateDeleted
		}
	} else {
		switch eventType {
		case models.EventDelete:
			state = models.DiskStateDeleted
		case models.EventAttach:
			state = models.DiskStateAttached
		case models.EventDetach:
			state = models.DiskStateDetached
		}
	}
	if state != "" {
		result["state"] = state
	}

	return result
}

func parseFloatingIP(msg RawMessage) map[string]any {
	payload := payloadOrMessage(msg)
	if fip, ok := payload["floatingip"].(map[string]any); ok {
		payload = fip
	}

	result := map[string]any{}

	for _, key := range []string{"floating_ip_address", "ip_address", "floating_ip", "address"} {
		if v, ok := payload[key]; ok {
			result["ip_address"] = v
			break
		}
	}

	if portID, ok := payload["port_id"]; ok {
		result["port_id"] = portID
	}

	for _, key := range []string{"fixed_ip_address", "instance_id", "server_id"} {
		if _, ok := payload[key]; ok {
			result["attached_to"] = firstNonNil(payload["instance_id"], payload["server_id"])
			break
		}
	}

	return result
}

func extractUserID(msg RawMessage) (string, bool) {
	payload := mapField(msg, "payload")

	if fip, ok := payload["floatingip"].(map[string]any); ok {
		for _, key := range []string{"tenant_id", "project_id", "user_id"} {
			if v, ok := fip[key]; ok {
				return toString(v), true
			}
		}
	}

	for _, key := range []string{"user_id", "tenant_id", "project_id", "owner_id", "owner"} {
		if v, ok := msg[key]; ok {
			return toString(v), true
		}
		if v, ok := payload[key]; ok {
			return toString(v), true
		}
	}
	return "", false
}

func extractString(msg RawMessage, keys ...string) (string, bool) {
	payload := mapField(msg, "payload")

	if fip, ok := payload["floatingip"].(map[string]any); ok {
		if id, ok := fip["id"]; ok {
			return toString(id), true
		}
	}

	for _, key := range keys {
		if v, ok := msg[key]; ok {
			return toString(v), true
		}
		if v, ok := payload[key]; ok {
			return toString(v), true
		}
	}
	return "", false
}

func payloadOrMessage(msg RawMessage) map[string]any {
	if p, ok := msg["payload"].(map[string]any); ok {
		return p
	}
	return msg
}

func mapField(msg RawMessage, key string) map[string]any {
	if v, ok := msg[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func stringField(msg RawMessage, key string) string {
	if v, ok := msg[key]; ok {
		return toString(v)
	}
	return ""
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return strconv.FormatInt(int64(toFloat(v)), 10)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// acceptedTimestampFormats are the wire formats the source cloud platform is
// known to emit, tried in order.
var acceptedTimestampFormats = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case int64:
		return time.Unix(t, 0).UTC()
	case string:
		for _, layout := range acceptedTimestampFormats {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Now().UTC()
}
