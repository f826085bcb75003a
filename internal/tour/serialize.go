// internal/tour/serialize.go
package tour

import (
	"encoding/json"

	"waypoint/internal/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Serialize renders the tour as its stable persisted JSON form.
func Serialize(t *Tour) ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, errors.Serialization("encoding tour %q", t.ID).WithCause(err)
	}
	return data, nil
}

// Deserialize parses and structurally validates a persisted tour. Malformed
// JSON and well-formed JSON with missing or mistyped fields fail with
// distinct serialization errors. Semantic problems (a stop whose repository
// has no binding) are deliberately left to Check.
func Deserialize(data []byte) (*Tour, error) {
	var t Tour
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Serialization("malformed tour JSON").WithCause(err)
	}
	if err := validate.Struct(&t); err != nil {
		return nil, errors.Serialization("tour JSON failed structural validation").WithCause(err)
	}
	if t.Version > SchemaVersion {
		return nil, errors.Serialization("tour schema version %d is newer than supported %d", t.Version, SchemaVersion)
	}
	return &t, nil
}
