package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reply shape advertised to the model. Decoding goes through wireResponse.
type replySchema struct {
	Type      string           `json:"type" jsonschema:"enum=idea,enum=decision,enum=question,enum=blocker,enum=action,enum=note"`
	Actions   []actionSchema   `json:"actions"`
	Questions []questionSchema `json:"questions"`
	Themes    []themeSchema    `json:"themes"`
	Reasoning []string         `json:"reasoning,omitempty" jsonschema:"description=Short sentences explaining the classification"`
}

type actionSchema struct {
	Text     string `json:"text"`
	Priority string `json:"priority" jsonschema:"enum=high,enum=medium,enum=low"`
}

type questionSchema struct {
	Text string `json:"text"`
}

type themeSchema struct {
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Confidence int      `json:"confidence" jsonschema:"minimum=0,maximum=100"`
}

// ReplySchema returns the indented JSON schema of the expected model reply.
func ReplySchema() (string, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&replySchema{})

	b, err := schema.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal reply schema: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return "", fmt.Errorf("indent reply schema: %w", err)
	}
	return out.String(), nil
}
