package nn

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/ixeoriVision/tensor"
)

// Module is the single-input building block shared by layers and blocks.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	ZeroGrad()
}

// Stateful can round-trip its parameters through a named state dict. Blocks
// with multi-input forwards implement it without being a Module.
type Stateful interface {
	StateDict(prefix string, state map[string]*tensor.Tensor)
	LoadState(prefix string, state map[string]*tensor.Tensor) error
}

// StatefulModule is a Module whose parameters can be saved and restored.
type StatefulModule interface {
	Module
	Stateful
}

func ZeroGradAll(mods ...Module) {
	for _, m := range mods {
		if m != nil {
			m.ZeroGrad()
		}
	}
}

func SaveModule(path string, mod Stateful) error {
	if mod == nil {
		return errors.New("SaveModule requires non-nil module")
	}
	state := make(map[string]*tensor.Tensor)
	mod.StateDict("", state)
	if len(state) == 0 {
		return errors.New("module has no state to save")
	}
	return tensor.SaveTensors(path, state)
}

func LoadModule(path string, mod Stateful) error {
	if mod == nil {
		return errors.New("LoadModule requires non-nil module")
	}
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return err
	}
	return mod.LoadState("", state)
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}

// captureParameters and loadParameters index parameters positionally for
// plain Modules that do not name their own state.
func captureParameters(prefix string, mod Module, state map[string]*tensor.Tensor) {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		state[joinPrefix(prefix, fmt.Sprintf("param_%d", idx))] = p.Clone()
	}
}

func loadParameters(prefix string, mod Module, state map[string]*tensor.Tensor) error {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		key := joinPrefix(prefix, fmt.Sprintf("param_%d", idx))
		t, ok := state[key]
		if !ok {
			return fmt.Errorf("missing parameter %s", key)
		}
		if err := tensor.CopyInto(p, t); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
	}
	return nil
}
