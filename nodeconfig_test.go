package canvas

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentConfigNormalize(t *testing.T) {
	cfg := AgentConfig{LLMConfig: LLMConfig{Temperature: 1.7}}.Normalize()
	assert.Equal(t, 1.0, cfg.LLMConfig.Temperature)
	assert.Equal(t, DefaultModel, cfg.LLMConfig.Model)
	assert.NotNil(t, cfg.Tools)

	cfg = AgentConfig{LLMConfig: LLMConfig{Model: "m", Temperature: -0.2}}.Normalize()
	assert.Equal(t, 0.0, cfg.LLMConfig.Temperature)
	assert.Equal(t, "m", cfg.LLMConfig.Model)

	cfg = AgentConfig{}.Normalize()
	assert.Equal(t, DefaultTemperature, cfg.LLMConfig.Temperature)
}

func TestToolConfigNormalize(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{0, DefaultToolTimeout},
		{-5, MinToolTimeout},
		{45, 45},
		{1000, MaxToolTimeout},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ToolConfig{ToolName: "x", Timeout: tc.in}.Normalize().Timeout, "timeout %d", tc.in)
	}
	assert.NotNil(t, ToolConfig{}.Normalize().Inputs)
}

func TestToolConfigRequiresName(t *testing.T) {
	err := ToolConfig{}.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "tool_name", ve.Field)

	_, err = NewToolNode("tool_1", "T", Position{}, ToolConfig{})
	assert.True(t, IsValidation(err))
}

func TestDefaults(t *testing.T) {
	a := DefaultAgentConfig()
	assert.Equal(t, DefaultModel, a.LLMConfig.Model)
	assert.Equal(t, DefaultTemperature, a.LLMConfig.Temperature)

	tool := DefaultToolConfig()
	assert.NoError(t, tool.Validate())
	assert.Equal(t, DefaultToolTimeout, tool.Timeout)
}

func TestNodeConfigRoundTrip(t *testing.T) {
	in := DefaultAgentConfig()
	in.LLMConfig.Temperature = 3
	n, err := NewAgentNode("agent_1", "A", Position{X: 1}, in)
	require.NoError(t, err)
	assert.Equal(t, NodeAgent, n.Type)

	out, err := n.AgentConfig()
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.LLMConfig.Temperature)
	assert.Equal(t, in.Role, out.Role)

	_, err = n.ToolConfig()
	assert.True(t, IsValidation(err))
}

func TestNodeConfigKeepsUnknownFields(t *testing.T) {
	n := Node{ID: "tool_1", Type: NodeTool, Data: NodeData{Config: json.RawMessage(`{"tool_name":"search","retries":3}`)}}
	cfg, err := n.ToolConfig()
	require.NoError(t, err)
	assert.Equal(t, "search", cfg.ToolName)
	assert.Equal(t, DefaultToolTimeout, cfg.Timeout)
	// decoding does not rewrite the stored payload
	assert.Contains(t, string(n.Data.Config), "retries")
}

func TestNodeConfigRejectsBadJSON(t *testing.T) {
	n := Node{ID: "agent_1", Type: NodeAgent, Data: NodeData{Config: json.RawMessage(`{"role":`)}}
	_, err := n.AgentConfig()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "config", ve.Field)
}

func TestNormalizeNodeData(t *testing.T) {
	testCases := []struct {
		name string
		typ  NodeType
		in   string
		want string
	}{
		{"agent temperature high", NodeAgent, `{"llm_config":{"temperature":5},"role":"r"}`, `{"llm_config":{"temperature":1},"role":"r"}`},
		{"agent temperature low", NodeAgent, `{"llm_config":{"temperature":-1}}`, `{"llm_config":{"temperature":0}}`},
		{"agent without llm config", NodeAgent, `{"role":"r"}`, `{"role":"r"}`},
		{"tool timeout high", NodeTool, `{"tool_name":"x","timeout":9999}`, `{"tool_name":"x","timeout":300}`},
		{"tool timeout zero", NodeTool, `{"tool_name":"x","timeout":0}`, `{"tool_name":"x","timeout":30}`},
		{"tool without timeout", NodeTool, `{"tool_name":"x","custom":1}`, `{"tool_name":"x","custom":1}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := NormalizeNodeData(tc.typ, NodeData{Label: "n", Config: json.RawMessage(tc.in)})
			require.NoError(t, err)
			assert.Equal(t, "n", out.Label)
			assert.JSONEq(t, tc.want, string(out.Config))
		})
	}
}

func TestNormalizeNodeDataKeepsValidPayload(t *testing.T) {
	in := json.RawMessage(`{ "tool_name": "x", "timeout": 45 }`)
	out, err := NormalizeNodeData(NodeTool, NodeData{Config: in})
	require.NoError(t, err)
	assert.Equal(t, string(in), string(out.Config))

	out, err = NormalizeNodeData(NodeTool, NodeData{})
	require.NoError(t, err)
	assert.Nil(t, out.Config)

	_, err = NormalizeNodeData(NodeTool, NodeData{Config: json.RawMessage(`null`)})
	assert.NoError(t, err)
}

func TestNormalizeNodeDataRejects(t *testing.T) {
	testCases := []struct {
		name  string
		typ   NodeType
		in    string
		field string
	}{
		{"empty tool name", NodeTool, `{"tool_name":"","timeout":9999}`, "tool_name"},
		{"missing tool name", NodeTool, `{"timeout":5}`, "tool_name"},
		{"not an object", NodeAgent, `"x"`, "config"},
		{"temperature not a number", NodeAgent, `{"llm_config":{"temperature":"hot"}}`, "temperature"},
		{"timeout not a number", NodeTool, `{"tool_name":"x","timeout":"soon"}`, "timeout"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeNodeData(tc.typ, NodeData{Config: json.RawMessage(tc.in)})
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestNormalizeConfigs(t *testing.T) {
	g := twoNodes()
	g.Nodes[0].Data.Config = json.RawMessage(`{"llm_config":{"temperature":2}}`)

	out, err := g.NormalizeConfigs()
	require.NoError(t, err)
	assert.JSONEq(t, `{"llm_config":{"temperature":1}}`, string(out.Nodes[0].Data.Config))
	assert.JSONEq(t, `{"llm_config":{"temperature":2}}`, string(g.Nodes[0].Data.Config))

	g.Nodes[1].Data.Config = json.RawMessage(`{"tool_name":""}`)
	_, err = g.NormalizeConfigs()
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), `"tool_1"`)
}
