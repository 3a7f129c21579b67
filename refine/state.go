package refine

import (
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// loadNamed copies the named entries from state into the given destination
// tensors, failing on missing keys or shape mismatches.
func loadNamed(prefix string, state map[string]*tensor.Tensor, dst map[string]*tensor.Tensor) error {
	for name, target := range dst {
		key := joinPrefix(prefix, name)
		src, ok := state[key]
		if !ok {
			return fmt.Errorf("load state: missing entry %q", key)
		}
		if err := tensor.CopyInto(target, src); err != nil {
			return fmt.Errorf("load state: entry %q: %w", key, err)
		}
	}
	return nil
}
