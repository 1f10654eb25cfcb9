package gateway

import "github.com/santhosh-tekuri/jsonschema/v5"

// workflowRequestSchema rejects malformed submissions before they reach
// the executor. Placeholder syntax inside params is not validated here;
// unresolved placeholders degrade inside the resolver instead.
const workflowRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["teamId", "steps"],
  "properties": {
    "workflowId": {"type": "string"},
    "teamId": {"type": "string", "minLength": 1},
    "executedBy": {"type": "string"},
    "params": {"type": "object"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["step", "target"],
        "properties": {
          "step": {"type": "integer", "minimum": 0},
          "target": {"type": "string", "minLength": 1},
          "action": {"type": "string"},
          "intent": {"type": "string"},
          "params": {"type": "object"},
          "toolConfig": {
            "type": "object",
            "properties": {
              "model": {"type": "string"},
              "settings": {"type": "object"}
            }
          },
          "async": {"type": "boolean"}
        }
      }
    }
  }
}`

var requestSchema = jsonschema.MustCompileString("workflow-request.json", workflowRequestSchema)
