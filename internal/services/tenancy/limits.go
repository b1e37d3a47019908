package tenancy

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Limits is the typed view of an organization's quota document. Zero means
// unlimited.
type Limits struct {
	MaxProjects int `mapstructure:"max_projects"`
	MaxMembers  int `mapstructure:"max_members"`
}

// DecodeLimits reads the known quotas from doc. Unknown keys are ignored and
// numeric strings are accepted.
func DecodeLimits(doc map[string]any) (Limits, error) {
	var limits Limits
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &limits,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Limits{}, err
	}
	if err := decoder.Decode(doc); err != nil {
		return Limits{}, fmt.Errorf("decode organization limits: %w", err)
	}
	return limits, nil
}
