package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/parameters"
)

// Document is the YAML form of a workflow.
type Document struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name,omitempty" json:"name,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Nodes       []Node       `yaml:"nodes" json:"nodes"`
	Connections []Connection `yaml:"connections,omitempty" json:"connections,omitempty"`
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "nodes"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "type": {"enum": ["Start", "Algorithm", "Subroutine", "Condition", "Switch"]},
          "algorithm": {"type": "string"},
          "inputs": {"$ref": "#/definitions/ports"},
          "outputs": {"$ref": "#/definitions/ports"},
          "parameters": {"type": "object"},
          "disabled": {"type": "boolean"},
          "expression": {"type": "string"},
          "subworkflow": {"type": "string"},
          "device": {"type": "string"}
        },
        "allOf": [
          {"if": {"properties": {"type": {"const": "Algorithm"}}}, "then": {"required": ["algorithm"]}},
          {"if": {"properties": {"type": {"const": "Subroutine"}}}, "then": {"required": ["subworkflow"]}},
          {"if": {"properties": {"type": {"enum": ["Condition", "Switch"]}}}, "then": {"required": ["expression"]}}
        ]
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "fromPort": {"type": "string"},
          "to": {"type": "string", "minLength": 1},
          "toPort": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "ports": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "dataType": {"type": "string"},
          "required": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
})

// ParseDocument decodes YAML and checks it against the document schema.
func ParseDocument(data []byte) (*Document, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, verrors.New(component, "ParseDocument", verrors.ErrInvalidWorkflow, "yaml: %v", err)
	}
	if raw == nil {
		return nil, verrors.New(component, "ParseDocument", verrors.ErrInvalidWorkflow, "document is empty")
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, verrors.New(component, "ParseDocument", verrors.ErrInvalidWorkflow, "schema: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, verrors.New(component, "ParseDocument", verrors.ErrInvalidWorkflow, "%s", strings.Join(msgs, "; "))
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, verrors.New(component, "ParseDocument", verrors.ErrInvalidWorkflow, "yaml: %v", err)
	}
	return &doc, nil
}

// Document captures the workflow's current structure. Parameter values are
// encoded to their document form.
func (w *Workflow) Document() (*Document, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	doc := &Document{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Nodes:       make([]Node, 0, len(w.nodes)),
		Connections: append([]Connection(nil), w.connections...),
	}
	for _, n := range w.nodes {
		c := n.clone()
		if len(c.Parameters) > 0 {
			encoded, err := parameters.EncodeValues(c.Parameters)
			if err != nil {
				return nil, fmt.Errorf("node %q parameters: %w", n.ID, err)
			}
			c.Parameters = encoded
		}
		doc.Nodes = append(doc.Nodes, *c)
	}
	return doc, nil
}

// MarshalDocument renders a document as YAML.
func MarshalDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveWorkflow writes the workflow with the given id to path as YAML.
func (e *Engine) SaveWorkflow(id, path string) error {
	w, err := e.Workflow(id)
	if err != nil {
		return err
	}
	doc, err := w.Document()
	if err != nil {
		return verrors.Wrap(err, engineComponent, "SaveWorkflow")
	}
	data, err := MarshalDocument(doc)
	if err != nil {
		return verrors.Wrap(err, engineComponent, "SaveWorkflow")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workflow dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write workflow: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close workflow: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename workflow: %w", err)
	}

	e.logger.Info(engineComponent, "workflow saved", map[string]interface{}{"workflow": id, "path": path})
	return nil
}

// LoadWorkflow reads a YAML document and adds it to the engine.
func (e *Engine) LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, verrors.Wrap(err, engineComponent, "LoadWorkflow")
	}
	w, err := e.Build(doc)
	if err != nil {
		return nil, err
	}
	e.logger.Info(engineComponent, "workflow loaded", map[string]interface{}{"workflow": w.ID, "path": path})
	return w, nil
}

// Build creates a workflow from a document. Nothing is added to the engine
// when any node or connection is rejected.
func (e *Engine) Build(doc *Document) (*Workflow, error) {
	w, err := e.CreateWorkflow(doc.ID, doc.Name, doc.Description)
	if err != nil {
		return nil, err
	}

	build := func() error {
		for _, n := range doc.Nodes {
			if err := w.AddNode(n); err != nil {
				return err
			}
		}
		for _, c := range doc.Connections {
			if err := w.Connect(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := build(); err != nil {
		_ = e.DeleteWorkflow(doc.ID)
		return nil, verrors.Wrap(err, engineComponent, "Build")
	}
	return w, nil
}
