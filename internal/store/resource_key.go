package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Well-known actionData fields naming the primary entity an action targets,
// checked in order. Capability payloads across the agent roster use these
// names for the Shopify entities they mutate.
var entityIDFields = []string{
	"product_id",
	"variant_id",
	"order_id",
	"campaign_id",
	"customer_id",
	"id",
}

// ComputeResourceKey derives the conflict-detection key for an action:
// agentID:actionType:<primary entity id found in actionData>. Two actions
// with the same key are never executed concurrently.
//
// When no entity id is present the record id is used, so the action only
// conflicts with itself.
func ComputeResourceKey(agentID, actionType string, actionData json.RawMessage, recordID uuid.UUID) string {
	entity := recordID.String()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(actionData, &fields); err == nil {
		for _, name := range entityIDFields {
			raw, ok := fields[name]
			if !ok {
				continue
			}
			var asString string
			if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
				entity = asString
				break
			}
			var asNumber json.Number
			if err := json.Unmarshal(raw, &asNumber); err == nil {
				entity = asNumber.String()
				break
			}
		}
	}

	return fmt.Sprintf("%s:%s:%s", agentID, actionType, entity)
}
