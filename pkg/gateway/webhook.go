package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Webhook event types accepted from the processor. Webhooks drive only
// non-privileged lifecycle progress; hold/release/refund/ban never arrive
// this way.
const (
	EventPaymentMethodAttached = "payment_method.attached"
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
)

// WebhookEvent is the {id, type, data} envelope delivered by the
// processor. The event id is the replay-idempotency key.
type WebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data WebhookData     `json:"data"`
	Raw  json.RawMessage `json:"-"`
}

// WebhookData is the payload common to the supported event types.
type WebhookData struct {
	IntentReference string `json:"intent_reference"`
	OrderID         string `json:"order_id,omitempty"`
	AmountMinor     int64  `json:"amount_minor,omitempty"`
	Currency        string `json:"currency,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

const webhookSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "type", "data"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"type": "string", "enum": ["payment_method.attached", "payment.captured", "payment.failed"]},
		"data": {
			"type": "object",
			"required": ["intent_reference"],
			"properties": {
				"intent_reference": {"type": "string", "minLength": 1},
				"order_id": {"type": "string"},
				"amount_minor": {"type": "integer", "minimum": 0},
				"currency": {"type": "string"},
				"failure_reason": {"type": "string"}
			}
		}
	}
}`

var webhookSchema = jsonschema.MustCompileString("webhook.schema.json", webhookSchemaJSON)

// ParseWebhook validates the raw envelope against the schema and decodes
// it. Unknown or malformed events fail validation here, before any state
// is touched.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("malformed webhook body: %w", err)
	}
	if err := webhookSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("webhook failed schema validation: %w", err)
	}

	var evt WebhookEvent
	dec := json.NewDecoder(strings.NewReader(string(body)))
	if err := dec.Decode(&evt); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	evt.Raw = json.RawMessage(body)
	return &evt, nil
}
