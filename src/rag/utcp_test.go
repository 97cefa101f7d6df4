package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/base"
	"github.com/universal-tool-calling-protocol/go-utcp/src/repository"
	"github.com/universal-tool-calling-protocol/go-utcp/src/tools"
	"github.com/universal-tool-calling-protocol/go-utcp/src/transports"

	"github.com/bahamondeX/fact/src/memory/model"
)

// stubUTCPClient routes calls through whatever transports are installed in
// its map, the way the real client does for registered providers.
type stubUTCPClient struct {
	transports map[string]repository.ClientTransport
	providers  map[string]base.Provider
}

func newStubUTCPClient() *stubUTCPClient {
	return &stubUTCPClient{
		transports: map[string]repository.ClientTransport{},
		providers:  map[string]base.Provider{},
	}
}

func (c *stubUTCPClient) RegisterToolProvider(ctx context.Context, prov base.Provider) ([]tools.Tool, error) {
	tr, ok := c.transports[string(prov.Type())]
	if !ok {
		return nil, fmt.Errorf("no transport for %s", prov.Type())
	}
	list, err := tr.RegisterToolProvider(ctx, prov)
	if err != nil {
		return nil, err
	}
	for _, tool := range list {
		c.providers[tool.Name] = prov
	}
	return list, nil
}

func (c *stubUTCPClient) DeregisterToolProvider(context.Context, string) error { return nil }

func (c *stubUTCPClient) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	prov, ok := c.providers[toolName]
	if !ok {
		return nil, fmt.Errorf("tool %s not registered", toolName)
	}
	return c.transports[string(prov.Type())].CallTool(ctx, toolName, args, prov, nil)
}

func (c *stubUTCPClient) CallToolStream(context.Context, string, map[string]any) (transports.StreamResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *stubUTCPClient) SearchTools(string, int) ([]tools.Tool, error) { return nil, nil }

func (c *stubUTCPClient) GetTransports() map[string]repository.ClientTransport {
	return c.transports
}

func TestInputSchema(t *testing.T) {
	schema, err := InputSchema()
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"content", "namespace", "topK", "action", "similarity_threshold"} {
		assert.Contains(t, props, key)
	}
	assert.ElementsMatch(t, []any{"content", "namespace"}, schema["required"])

	topK := props["topK"].(map[string]any)
	assert.Equal(t, "integer", topK["type"])
	assert.EqualValues(t, 1, topK["minimum"])
	assert.EqualValues(t, 20, topK["maximum"])
	assert.Contains(t, props["action"].(map[string]any)["enum"], "retrieve")
}

func TestToolDefinition(t *testing.T) {
	def, err := ToolDefinition(DefaultToolName, DefaultToolDescription)
	require.NoError(t, err)
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "RagTool", def.Function.Name)
	assert.True(t, strings.HasPrefix(def.Function.Description, "Provides Retrieval Augmented Generation"))
	assert.Contains(t, def.Function.Parameters, "properties")
}

func TestOperationFromArgs(t *testing.T) {
	op, err := OperationFromArgs(map[string]any{
		"content":              "sky",
		"namespace":            "ns",
		"action":               "query",
		"topK":                 float64(4),
		"similarity_threshold": 0.6,
	})
	require.NoError(t, err)
	req, err := op.Validate()
	require.NoError(t, err)
	assert.Equal(t, Request{Action: ActionRetrieve, Content: "sky", Namespace: "ns", TopK: 4, Threshold: 0.6}, req)

	_, err = OperationFromArgs(map[string]any{"content": 42})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestAsUTCPTool(t *testing.T) {
	e := &mockEmbedder{}
	e.On("Embed", mock.Anything, "remember me").Return(skyVector, nil)
	s := &mockStore{}
	s.On("Upsert", mock.Anything, mock.Anything).Return(model.UpsertResponse{UpsertedCount: 1}, nil)
	tool, _ := newTestTool(t, e, s)

	utcpTool, err := tool.AsUTCPTool("memory.rag", "desc")
	require.NoError(t, err)
	assert.Equal(t, "memory.rag", utcpTool.Name)
	require.NotNil(t, utcpTool.Provider)
	assert.Equal(t, base.ProviderCLI, utcpTool.Provider.Type())
	assert.ElementsMatch(t, []string{"content", "namespace"}, utcpTool.Inputs.Required)

	out, err := utcpTool.Handler(context.Background(), map[string]any{"content": "remember me", "namespace": "ns"})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, "✅ Successfully stored 1 embedding in 'ns'.\n", result["response"])

	out, err = utcpTool.Handler(context.Background(), map[string]any{"namespace": "ns"})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["response"], "❌ Error during store operation")
	e.AssertNumberOfCalls(t, "Embed", 1)
}

func TestRegisterAsUTCPProvider(t *testing.T) {
	e := &mockEmbedder{}
	e.On("Embed", mock.Anything, "ping").Return(skyVector, nil)
	s := &mockStore{}
	s.On("Upsert", mock.Anything, mock.Anything).Return(model.UpsertResponse{UpsertedCount: 1}, nil)
	tool, _ := newTestTool(t, e, s)

	client := newStubUTCPClient()
	require.NoError(t, tool.RegisterAsUTCPProvider(context.Background(), client, "local.memory", "desc"))
	_, isShim := client.transports[string(base.ProviderCLI)].(*memoryCLITransport)
	assert.True(t, isShim)

	out, err := client.CallTool(context.Background(), "local.memory", map[string]any{"content": "ping", "namespace": "ns"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Successfully stored 1 embedding in 'ns'.\n", out.(map[string]any)["response"])

	// registering a second tool reuses the installed shim
	require.NoError(t, tool.RegisterAsUTCPProvider(context.Background(), client, "other.memory", "desc"))
	shim := client.transports[string(base.ProviderCLI)].(*memoryCLITransport)
	assert.Len(t, shim.tools, 2)
}

func TestRegisterAsUTCPProviderNilClient(t *testing.T) {
	tool, _ := newTestTool(t, &mockEmbedder{}, &mockStore{})
	assert.Error(t, tool.RegisterAsUTCPProvider(context.Background(), nil, "x", "y"))
}
