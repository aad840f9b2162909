// Package opencv provides algorithm plugins backed by OpenCV through gocv.
package opencv

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"vision-workbench/internal/parameters"
)

// Step is one stage of a Chain. Apply must not close src and returns a new
// Mat owned by the caller.
type Step interface {
	Name() string
	Enabled(values parameters.Values) bool
	Apply(ctx context.Context, src gocv.Mat, values parameters.Values) (gocv.Mat, error)
}

// Chain runs its enabled steps in order, closing every intermediate Mat.
type Chain struct {
	steps []Step
}

func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Execute returns a new Mat even when no step is enabled; input is never
// closed.
func (c *Chain) Execute(ctx context.Context, input gocv.Mat, values parameters.Values) (gocv.Mat, error) {
	current := input.Clone()
	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			current.Close()
			return gocv.NewMat(), err
		}
		if !step.Enabled(values) {
			continue
		}

		next, err := step.Apply(ctx, current, values)
		current.Close()
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		current = next
	}
	return current, nil
}

// StepNames lists the steps in execution order.
func (c *Chain) StepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name()
	}
	return names
}

// toggle is a Step switched on by a boolean parameter.
type toggle struct {
	name  string
	param string
	apply func(src gocv.Mat, dst *gocv.Mat, values parameters.Values)
}

func (t toggle) Name() string { return t.name }

func (t toggle) Enabled(values parameters.Values) bool { return values.Bool(t.param) }

func (t toggle) Apply(_ context.Context, src gocv.Mat, values parameters.Values) (gocv.Mat, error) {
	dst := gocv.NewMat()
	t.apply(src, &dst, values)
	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("%s produced an empty Mat", t.name)
	}
	return dst, nil
}
