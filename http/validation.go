package http

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/x402-foundation/splitpay"
)

const challengeSchemaJSON = `{
  "type": "object",
  "required": ["protocolVersion", "accepts"],
  "properties": {
    "protocolVersion": {"type": "integer", "minimum": 1},
    "error": {"type": "string"},
    "retryable": {"type": "boolean"},
    "accepts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["asset", "network", "payTo", "maxAmountRequired", "resource"],
        "properties": {
          "asset": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "payTo": {"type": "string", "minLength": 1},
          "maxAmountRequired": {"type": "string", "pattern": "^[1-9][0-9]*$"},
          "resource": {"type": "string"},
          "programId": {"type": "string"},
          "residual": {"type": "integer", "minimum": 0},
          "recipients": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["role", "address", "amount"],
              "properties": {
                "role": {"enum": ["merchant", "agent", "platform"]},
                "address": {"type": "string", "minLength": 1},
                "share": {"type": "integer", "minimum": 0, "maximum": 100},
                "amount": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

const buildRequestSchemaJSON = `{
  "type": "object",
  "required": ["splitterId", "payerIdentity", "amount"],
  "properties": {
    "splitterId": {"type": "string", "minLength": 1},
    "payerIdentity": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "minimum": 1}
  }
}`

var (
	challengeSchema    = mustSchema(challengeSchemaJSON)
	buildRequestSchema = mustSchema(buildRequestSchemaJSON)
)

func mustSchema(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid JSON schema: %v", err))
	}
	return schema
}

// ValidateChallenge validates a payment-required body and decodes it.
// A challenge must be version 1 and offer at least one way to pay.
func ValidateChallenge(body []byte) (*splitpay.PaymentChallenge, error) {
	if err := validateJSON(challengeSchema, body); err != nil {
		return nil, err
	}

	var challenge splitpay.PaymentChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to parse challenge", err)
	}
	if challenge.ProtocolVersion != splitpay.ProtocolVersion {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "unsupported protocol version",
			map[string]interface{}{"protocolVersion": challenge.ProtocolVersion})
	}
	if len(challenge.Accepts) == 0 {
		return nil, splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "challenge offers no way to pay", nil)
	}
	return &challenge, nil
}

// ValidateBuildRequest validates a build-split-tx request body and decodes it.
func ValidateBuildRequest(body []byte) (*BuildSplitTxRequest, error) {
	if err := validateJSON(buildRequestSchema, body); err != nil {
		return nil, err
	}
	var req BuildSplitTxRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to parse build request", err)
	}
	return &req, nil
}

func validateJSON(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "body is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "body failed schema validation",
		map[string]interface{}{"errors": errs})
}
