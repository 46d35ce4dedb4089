// Package suite drives the batched GEMM executor through known workloads and
// checks every output against literal expected values.
package suite

import (
	"fmt"
	"os"

	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/layout"
	"gopkg.in/yaml.v3"
)

// Scenario is one verification case. Both operands are filled with
// ascending values 0, 1, 2, ... and use row-major strides (m*k, k, 1) and
// (n*k, n, 1). Buffers hold DataBatches batches, which may exceed Params.B
// when offsets select a sub-batch.
type Scenario struct {
	Name        string        `yaml:"name" json:"name"`
	Params      layout.Params `yaml:"params" json:"params"`
	DataBatches int           `yaml:"dataBatches,omitempty" json:"dataBatches,omitempty"`
	LHSOffset   int           `yaml:"lhsOffset" json:"lhsOffset"`
	RHSOffset   int           `yaml:"rhsOffset" json:"rhsOffset"`
	// Expected may be empty, in which case the host reference is used.
	Expected []float32 `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// Operands builds the host buffers and views for the scenario.
func (s Scenario) Operands() (gemm.Operand, gemm.Operand) {
	p := s.Params
	batches := s.DataBatches
	if batches < p.B {
		batches = p.B
	}
	lhs := gemm.Operand{
		Data:    ascending(batches * p.M * p.K),
		Strides: []int{p.M * p.K, p.K, 1},
		Offset:  s.LHSOffset,
	}
	rhs := gemm.Operand{
		Data:    ascending(batches * p.N * p.K),
		Strides: []int{p.N * p.K, p.N, 1},
		Offset:  s.RHSOffset,
	}
	return lhs, rhs
}

func ascending(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

// Defaults returns the reference workload.
func Defaults() []Scenario {
	return []Scenario{
		{
			Name:     "single batch",
			Params:   layout.Params{B: 1, M: 2, N: 4, K: 3},
			Expected: []float32{20, 23, 26, 29, 56, 68, 80, 92},
		},
		{
			Name:   "two batches",
			Params: layout.Params{B: 2, M: 2, N: 4, K: 3},
			Expected: []float32{
				20, 23, 26, 29, 56, 68, 80, 92,
				344, 365, 386, 407, 488, 518, 548, 578,
			},
		},
		{
			// One batch of the two-batch buffers with rhs advanced by a
			// full batch slice (12 elements).
			Name:        "rhs offset",
			Params:      layout.Params{B: 1, M: 2, N: 4, K: 3},
			DataBatches: 2,
			RHSOffset:   12,
			Expected:    []float32{56, 59, 62, 65, 200, 212, 224, 236},
		},
	}
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios reads extra scenarios from a YAML file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios %s: %w", path, err)
	}
	for i, s := range file.Scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("scenario %d in %s has no name", i, path)
		}
		if err := s.Params.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}
	}
	return file.Scenarios, nil
}
