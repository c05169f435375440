package experiment

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Key returns a stable identifier for an activation spec, used as the
// activation_id in the shared activations table so that every experiment
// sharing a spec reads the same rows.
func (a *ActivationSpec) Key() string {
	h := murmur3.Sum32([]byte(a.Table + "\x00" + a.Condition + "\x00" + string(a.IDType)))
	return fmt.Sprintf("act_%08x", h)
}
