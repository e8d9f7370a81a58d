package micloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// deviceFilterEnv is the expression environment exposed to a filter
// program: the named Device fields plus Extra for anything passed
// through verbatim.
type deviceFilterEnv struct {
	Did      string
	Name     string
	Model    string
	LocalIP  string
	Token    string
	IsOnline bool
	Extra    map[string]any
}

// CompileDeviceFilter compiles a boolean expr-lang expression once so it
// can be reapplied to many device lists without recompiling. Grounded on
// the per-field compiled vm.Program pattern used for column filters
// elsewhere in the corpus.
func CompileDeviceFilter(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(deviceFilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("micloud: compile device filter: %w", err)
	}
	return program, nil
}

// FilterDevices runs a compiled filter program over devices, keeping
// those for which it evaluates true.
func FilterDevices(program *vm.Program, devices []Device) ([]Device, error) {
	out := make([]Device, 0, len(devices))

	for _, d := range devices {
		extra := make(map[string]any, len(d.Extra))
		for k, raw := range d.Extra {
			var v any
			if err := json.Unmarshal(raw, &v); err == nil {
				extra[k] = v
			}
		}

		env := deviceFilterEnv{
			Did:      d.Did,
			Name:     d.Name,
			Model:    d.Model,
			LocalIP:  d.LocalIP,
			Token:    d.Token,
			IsOnline: d.IsOnline,
			Extra:    extra,
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("micloud: run device filter: %w", err)
		}
		if matched, _ := result.(bool); matched {
			out = append(out, d)
		}
	}

	return out, nil
}

// GetDevicesFiltered lists devices and applies a device-filter expression
// client-side, supplementing the server's did-only filter (spec.md §4.7).
func (s *Session) GetDevicesFiltered(ctx context.Context, expression string, regionOverride string) ([]Device, error) {
	program, err := CompileDeviceFilter(expression)
	if err != nil {
		return nil, err
	}

	devices, err := s.GetDevices(ctx, nil, regionOverride)
	if err != nil {
		return nil, err
	}

	return FilterDevices(program, devices)
}
