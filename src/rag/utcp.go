package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/base"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/cli"
	"github.com/universal-tool-calling-protocol/go-utcp/src/repository"
	"github.com/universal-tool-calling-protocol/go-utcp/src/tools"
	"github.com/universal-tool-calling-protocol/go-utcp/src/transports"
)

const (
	DefaultToolName        = "RagTool"
	DefaultToolDescription = "Provides Retrieval Augmented Generation capabilities to the model for semantic memory. " +
		"Stores and retrieves content using vector embeddings for semantic similarity search. " +
		"Use it to continuously store and retrieve relevant information from the conversation."
)

// InputSchema reflects Operation into a JSON schema object.
func InputSchema() (map[string]any, error) {
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(&Operation{}))
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	delete(schema, "$schema")
	return schema, nil
}

// Definition is the function-calling description of the tool.
type Definition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinition describes the tool in the OpenAI/Mistral function format.
func ToolDefinition(name, description string) (Definition, error) {
	schema, err := InputSchema()
	if err != nil {
		return Definition{}, err
	}
	return Definition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
	}, nil
}

// OperationFromArgs decodes tool-call arguments into an Operation.
func OperationFromArgs(args map[string]any) (Operation, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Operation{}, fmt.Errorf("encode arguments: %w", err)
	}
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return Operation{}, &ValidationError{Field: "arguments", Reason: err.Error()}
	}
	return op, nil
}

func providerName(name string) string {
	providerName := strings.TrimSpace(name)
	if parts := strings.Split(providerName, "."); len(parts) > 1 {
		providerName = parts[0]
	}
	return providerName
}

// AsUTCPTool exposes the tool as a UTCP tool with an in-process handler.
// The handler returns {"response": text, "chunks": [...]}; only
// cancellation is returned as an error.
func (t *Tool) AsUTCPTool(name, description string) (tools.Tool, error) {
	schema, err := InputSchema()
	if err != nil {
		return tools.Tool{}, err
	}
	props, _ := schema["properties"].(map[string]any)
	var required []string
	if list, ok := schema["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	return tools.Tool{
		Name:        name,
		Description: description,
		Provider: &base.BaseProvider{
			Name:         providerName(name),
			ProviderType: base.ProviderCLI,
		},
		Inputs: tools.ToolInputOutputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
		Outputs: tools.ToolInputOutputSchema{
			Type: "object",
			Properties: map[string]any{
				"response": map[string]any{"type": "string"},
				"chunks":   map[string]any{"type": "array"},
			},
		},
		Handler: tools.ToolHandler(func(ctx context.Context, inputs map[string]interface{}) (any, error) {
			if ctx == nil {
				ctx = context.Background()
			}
			var chunks []Chunk
			op, err := OperationFromArgs(inputs)
			if err != nil {
				chunks = []Chunk{ErrorChunk(Operation{}.label(), err)}
			} else if chunks, err = Chunks(t.Run(ctx, op)); err != nil {
				return nil, err
			}
			var b strings.Builder
			for _, c := range chunks {
				b.WriteString(c.Text)
			}
			return map[string]any{"response": b.String(), "chunks": chunks}, nil
		}),
	}, nil
}

// RegisterAsUTCPProvider registers the tool on client. It installs a thin
// in-process transport under the CLI provider type that routes CallTool
// straight to the tool handler and defers everything else to the
// transport it replaced.
func (t *Tool) RegisterAsUTCPProvider(ctx context.Context, client utcp.UtcpClientInterface, name, description string) error {
	if client == nil {
		return fmt.Errorf("utcp client is nil")
	}
	tool, err := t.AsUTCPTool(name, description)
	if err != nil {
		return err
	}
	prov := &cli.CliProvider{
		BaseProvider: base.BaseProvider{
			Name:         providerName(name),
			ProviderType: base.ProviderCLI,
		},
	}

	transportsMap := client.GetTransports()
	if transportsMap == nil {
		return fmt.Errorf("utcp client transports map is nil")
	}
	existing := transportsMap[string(base.ProviderCLI)]
	shim, ok := existing.(*memoryCLITransport)
	if !ok {
		shim = &memoryCLITransport{inner: existing}
		transportsMap[string(base.ProviderCLI)] = shim
	}
	if shim.tools == nil {
		shim.tools = make(map[string][]tools.Tool)
	}
	shim.tools[prov.Name] = []tools.Tool{tool}

	_, err = client.RegisterToolProvider(ctx, prov)
	return err
}

type memoryCLITransport struct {
	inner repository.ClientTransport
	tools map[string][]tools.Tool
}

func (m *memoryCLITransport) RegisterToolProvider(ctx context.Context, prov base.Provider) ([]tools.Tool, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if list, ok := m.tools[p.Name]; ok {
			return list, nil
		}
	}
	if m.inner != nil {
		return m.inner.RegisterToolProvider(ctx, prov)
	}
	return nil, fmt.Errorf("unsupported provider type %T", prov)
}

func (m *memoryCLITransport) DeregisterToolProvider(ctx context.Context, prov base.Provider) error {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := m.tools[p.Name]; ok {
			delete(m.tools, p.Name)
			return nil
		}
	}
	if m.inner != nil {
		return m.inner.DeregisterToolProvider(ctx, prov)
	}
	return nil
}

func (m *memoryCLITransport) CallTool(ctx context.Context, toolName string, args map[string]any, prov base.Provider, l *string) (any, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		for _, tool := range m.tools[p.Name] {
			if tool.Name == toolName || strings.HasSuffix(tool.Name, "."+toolName) {
				return tool.Handler(ctx, args)
			}
		}
	}
	if m.inner != nil {
		return m.inner.CallTool(ctx, toolName, args, prov, l)
	}
	return nil, fmt.Errorf("tool %s not found", toolName)
}

func (m *memoryCLITransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, prov base.Provider) (transports.StreamResult, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := m.tools[p.Name]; ok {
			return nil, fmt.Errorf("streaming not supported for tool %s", toolName)
		}
	}
	if m.inner != nil {
		return m.inner.CallToolStream(ctx, toolName, args, prov)
	}
	return nil, fmt.Errorf("unsupported provider type %T", prov)
}
