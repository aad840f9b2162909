package workflow

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
)

const thresholdDoc = `
id: inspect
name: Inspection
description: threshold then invert
nodes:
  - id: n0
    type: Start
  - id: n1
    type: Algorithm
    algorithm: Threshold
    parameters:
      Threshold: 150
  - id: n2
    type: Algorithm
    algorithm: Invert
connections:
  - from: n0
    to: n1
  - from: n1
    fromPort: output
    to: n2
    toPort: input
`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(thresholdDoc))
	require.NoError(t, err)
	assert.Equal(t, "inspect", doc.ID)
	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, NodeAlgorithm, doc.Nodes[1].Type)
	assert.Equal(t, 150, doc.Nodes[1].Parameters["Threshold"])
	require.Len(t, doc.Connections, 2)
	assert.Equal(t, "output", doc.Connections[1].SourcePortID)
}

func TestParseDocument_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"empty":               ``,
		"no nodes":            "id: x\n",
		"unknown node type":   "id: x\nnodes:\n  - id: a\n    type: Loop\n",
		"algorithm missing":   "id: x\nnodes:\n  - id: a\n    type: Algorithm\n",
		"switch without expr": "id: x\nnodes:\n  - id: a\n    type: Switch\n",
		"unknown field":       "id: x\nnodes: []\nowner: me\n",
		"connection no to":    "id: x\nnodes: []\nconnections:\n  - from: a\n",
		"not yaml":            "id: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(body))
			assert.ErrorIs(t, err, verrors.ErrInvalidWorkflow)
		})
	}
}

func TestLoadWorkflow_ExecutesFromDocument(t *testing.T) {
	e := standardEngine(t)
	path := filepath.Join(t.TempDir(), "inspect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(thresholdDoc), 0o644))

	w, err := e.LoadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "Inspection", w.Name)

	res, err := e.ExecuteWorkflow(context.Background(), "inspect", uniform(1, 1, 149))
	require.NoError(t, err)
	out, ok := res.Results["n2"].Image()
	require.True(t, ok)
	assert.EqualValues(t, 255, grayOf(out, 0, 0))
}

func TestSaveWorkflow_RoundTrip(t *testing.T) {
	e := standardEngine(t)
	w, err := e.CreateWorkflow("rt", "Round trip", "saved and loaded")
	require.NoError(t, err)

	tinted := algo("tint", "Invert")
	tinted.Parameters = parameters.Values{"Color": color.RGBA{R: 0x12, G: 0xab, A: 0xff}, "Gain": 1.5}
	mustNodes(t, w,
		start("n0"),
		tinted,
		Node{ID: "gate", Type: NodeCondition, Expression: "width(input) > 2"},
	)
	mustConnect(t, w, [2]string{"n0", "gate"})
	require.NoError(t, w.Connect(Connection{SourceNodeID: "gate", SourcePortID: PortTrue, TargetNodeID: "tint"}))

	path := filepath.Join(t.TempDir(), "flows", "rt.yaml")
	require.NoError(t, e.SaveWorkflow("rt", path))

	other := standardEngine(t)
	loaded, err := other.LoadWorkflow(path)
	require.NoError(t, err)

	assert.Equal(t, w.Description, loaded.Description)
	assert.Equal(t, w.Connections(), loaded.Connections())
	require.Len(t, loaded.Nodes(), 3)

	gate, err := loaded.Node("gate")
	require.NoError(t, err)
	assert.Equal(t, "width(input) > 2", gate.Expression)

	tint, err := loaded.Node("tint")
	require.NoError(t, err)
	assert.Equal(t, "#12ab00", tint.Parameters["Color"])
	assert.Equal(t, 1.5, tint.Parameters["Gain"])

	// Saving into an engine that already has the id fails.
	_, err = e.LoadWorkflow(path)
	assert.ErrorIs(t, err, verrors.ErrDuplicate)
}

func TestBuild_RollsBackOnBadConnection(t *testing.T) {
	e := NewEngine(nil)
	doc := &Document{
		ID:          "broken",
		Nodes:       []Node{start("n0")},
		Connections: []Connection{{SourceNodeID: "n0", TargetNodeID: "missing"}},
	}

	_, err := e.Build(doc)
	assert.ErrorIs(t, err, verrors.ErrNodeNotFound)

	_, err = e.Workflow("broken")
	assert.ErrorIs(t, err, verrors.ErrWorkflowNotFound)
}
