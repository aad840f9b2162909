package workflow

import (
	"fmt"
	"image"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"vision-workbench/internal/imageops"
)

// Expressions see the node's primary input as `input`, every bound input
// port as `inputs`, the outputs of nodes that already ran as `outputs` and
// the node's parameters as `params`. The helpers width, height and mean
// inspect images.
func expressionEnv(input any, inputs, outputs, params map[string]any) map[string]any {
	return map[string]any{
		"input":   input,
		"inputs":  inputs,
		"outputs": outputs,
		"params":  params,
	}
}

var imageFunctions = []expr.Option{
	expr.Function("width", func(args ...any) (any, error) {
		img, err := imageArg("width", args)
		if err != nil {
			return nil, err
		}
		return img.Bounds().Dx(), nil
	}),
	expr.Function("height", func(args ...any) (any, error) {
		img, err := imageArg("height", args)
		if err != nil {
			return nil, err
		}
		return img.Bounds().Dy(), nil
	}),
	expr.Function("mean", func(args ...any) (any, error) {
		img, err := imageArg("mean", args)
		if err != nil {
			return nil, err
		}
		return imageops.LumaStats(img).Mean, nil
	}),
}

func imageArg(name string, args []any) (image.Image, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects one argument, got %d", name, len(args))
	}
	img, ok := args[0].(image.Image)
	if !ok || img == nil {
		return nil, fmt.Errorf("%s expects an image, got %T", name, args[0])
	}
	return img, nil
}

// compileExpression compiles a Condition (boolean) or Switch expression.
func compileExpression(t NodeType, source string) (*vm.Program, error) {
	opts := []expr.Option{expr.Env(expressionEnv(nil, nil, nil, nil))}
	opts = append(opts, imageFunctions...)
	if t == NodeCondition {
		opts = append(opts, expr.AsBool())
	}
	return expr.Compile(source, opts...)
}

// branchOf runs a compiled expression and maps the result to an output
// port id.
func branchOf(n *Node, program *vm.Program, env map[string]any) (string, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return "", err
	}

	if n.Type == NodeCondition {
		b, ok := out.(bool)
		if !ok {
			return "", fmt.Errorf("condition produced %T, not bool", out)
		}
		if b {
			return PortTrue, nil
		}
		return PortFalse, nil
	}

	key := fmt.Sprint(out)
	if hasPort(n.OutputPorts, key) {
		return key, nil
	}
	return PortDefault, nil
}
