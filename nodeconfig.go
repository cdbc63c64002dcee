package canvas

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultToolTimeout = 30

	MinToolTimeout = 1
	MaxToolTimeout = 300
)

// LLMConfig selects the model an agent node runs on.
type LLMConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// AgentConfig is the config of an agent node.
type AgentConfig struct {
	Role      string    `json:"role"`
	Goal      string    `json:"goal"`
	Backstory string    `json:"backstory"`
	Tools     []string  `json:"tools"`
	LLMConfig LLMConfig `json:"llm_config"`
}

// ToolConfig is the config of a tool node.
type ToolConfig struct {
	ToolName    string         `json:"tool_name"`
	Description string         `json:"description,omitempty"`
	Inputs      map[string]any `json:"inputs"`
	Timeout     int            `json:"timeout"`
}

// DefaultAgentConfig is the config a freshly dropped agent node starts with.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Role:      "Assistant",
		Goal:      "Help the user complete the task",
		Backstory: "A helpful AI assistant",
		Tools:     []string{},
		LLMConfig: LLMConfig{Model: DefaultModel, Temperature: DefaultTemperature},
	}
}

// DefaultToolConfig is the config a freshly dropped tool node starts with.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ToolName: "search",
		Inputs:   map[string]any{},
		Timeout:  DefaultToolTimeout,
	}
}

// Normalize clamps temperature into [0,1] and fills an empty model. An
// unset LLM config takes the default temperature.
func (c AgentConfig) Normalize() AgentConfig {
	if c.LLMConfig == (LLMConfig{}) {
		c.LLMConfig.Temperature = DefaultTemperature
	}
	c.LLMConfig.Temperature = min(max(c.LLMConfig.Temperature, 0), 1)
	if c.LLMConfig.Model == "" {
		c.LLMConfig.Model = DefaultModel
	}
	if c.Tools == nil {
		c.Tools = []string{}
	}
	return c
}

// Normalize clamps timeout into [1,300]; a zero timeout takes the default.
func (c ToolConfig) Normalize() ToolConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultToolTimeout
	}
	c.Timeout = min(max(c.Timeout, MinToolTimeout), MaxToolTimeout)
	if c.Inputs == nil {
		c.Inputs = map[string]any{}
	}
	return c
}

// Validate rejects a tool config without a tool name.
func (c ToolConfig) Validate() error {
	if c.ToolName == "" {
		return NewValidationError("tool_name", "tool name is required")
	}
	return nil
}

// NormalizeNodeData clamps the numeric settings in data.Config for a node of
// type t and rejects a tool config without a tool name. Unknown fields are
// kept and the payload is only re-encoded when a value changed. An empty
// config is left alone; decoding fills in its defaults.
func NormalizeNodeData(t NodeType, data NodeData) (NodeData, error) {
	if len(data.Config) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data.Config, &fields); err != nil {
		return data, NewValidationError("config", err.Error())
	}
	if fields == nil {
		return data, nil
	}
	var (
		changed bool
		err     error
	)
	switch t {
	case NodeAgent:
		changed, err = normalizeAgentFields(fields)
	case NodeTool:
		changed, err = normalizeToolFields(fields)
	}
	if err != nil || !changed {
		return data, err
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return data, fmt.Errorf("canvas: encode node config: %w", err)
	}
	data.Config = b
	return data, nil
}

// NormalizeConfigs returns a copy of g with every node config passed through
// NormalizeNodeData.
func (g *Graph) NormalizeConfigs() (*Graph, error) {
	out := g.Clone()
	for i, n := range out.Nodes {
		data, err := NormalizeNodeData(n.Type, n.Data)
		if err != nil {
			return nil, fmt.Errorf("canvas: node %q: %w", n.ID, err)
		}
		out.Nodes[i].Data = data
	}
	return out, nil
}

func normalizeAgentFields(fields map[string]json.RawMessage) (bool, error) {
	raw, ok := fields["llm_config"]
	if !ok {
		return false, nil
	}
	var llm map[string]json.RawMessage
	if err := json.Unmarshal(raw, &llm); err != nil {
		return false, NewValidationError("llm_config", err.Error())
	}
	rawTemp, ok := llm["temperature"]
	if !ok {
		return false, nil
	}
	var temp float64
	if err := json.Unmarshal(rawTemp, &temp); err != nil {
		return false, NewValidationError("temperature", err.Error())
	}
	clamped := min(max(temp, 0), 1)
	if clamped == temp {
		return false, nil
	}
	b, err := json.Marshal(clamped)
	if err != nil {
		return false, fmt.Errorf("canvas: encode temperature: %w", err)
	}
	llm["temperature"] = b
	if fields["llm_config"], err = json.Marshal(llm); err != nil {
		return false, fmt.Errorf("canvas: encode llm config: %w", err)
	}
	return true, nil
}

func normalizeToolFields(fields map[string]json.RawMessage) (bool, error) {
	var name string
	if raw, ok := fields["tool_name"]; ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return false, NewValidationError("tool_name", err.Error())
		}
	}
	if err := (ToolConfig{ToolName: name}).Validate(); err != nil {
		return false, err
	}
	raw, ok := fields["timeout"]
	if !ok {
		return false, nil
	}
	var timeout float64
	if err := json.Unmarshal(raw, &timeout); err != nil {
		return false, NewValidationError("timeout", err.Error())
	}
	n := ToolConfig{Timeout: int(math.Round(timeout))}.Normalize().Timeout
	if float64(n) == timeout {
		return false, nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("canvas: encode timeout: %w", err)
	}
	fields["timeout"] = b
	return true, nil
}

// EncodeAgentConfig normalises cfg and encodes it for NodeData.Config.
func EncodeAgentConfig(cfg AgentConfig) (json.RawMessage, error) {
	b, err := json.Marshal(cfg.Normalize())
	if err != nil {
		return nil, fmt.Errorf("canvas: encode agent config: %w", err)
	}
	return b, nil
}

// EncodeToolConfig validates and normalises cfg and encodes it for NodeData.Config.
func EncodeToolConfig(cfg ToolConfig) (json.RawMessage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(cfg.Normalize())
	if err != nil {
		return nil, fmt.Errorf("canvas: encode tool config: %w", err)
	}
	return b, nil
}

// AgentConfig decodes the config of an agent node.
func (n Node) AgentConfig() (AgentConfig, error) {
	if n.Type != NodeAgent {
		return AgentConfig{}, NewValidationError("type", fmt.Sprintf("node %q is not an agent node", n.ID))
	}
	var cfg AgentConfig
	if len(n.Data.Config) > 0 {
		if err := json.Unmarshal(n.Data.Config, &cfg); err != nil {
			return AgentConfig{}, NewValidationError("config", err.Error())
		}
	}
	return cfg.Normalize(), nil
}

// ToolConfig decodes the config of a tool node.
func (n Node) ToolConfig() (ToolConfig, error) {
	if n.Type != NodeTool {
		return ToolConfig{}, NewValidationError("type", fmt.Sprintf("node %q is not a tool node", n.ID))
	}
	var cfg ToolConfig
	if len(n.Data.Config) > 0 {
		if err := json.Unmarshal(n.Data.Config, &cfg); err != nil {
			return ToolConfig{}, NewValidationError("config", err.Error())
		}
	}
	return cfg.Normalize(), nil
}

// NewAgentNode builds an agent node with a normalised config.
func NewAgentNode(id, label string, pos Position, cfg AgentConfig) (Node, error) {
	raw, err := EncodeAgentConfig(cfg)
	if err != nil {
		return Node{}, err
	}
	return Node{ID: id, Type: NodeAgent, Position: pos, Data: NodeData{Label: label, Config: raw}}, nil
}

// NewToolNode builds a tool node with a validated, normalised config.
func NewToolNode(id, label string, pos Position, cfg ToolConfig) (Node, error) {
	raw, err := EncodeToolConfig(cfg)
	if err != nil {
		return Node{}, err
	}
	return Node{ID: id, Type: NodeTool, Position: pos, Data: NodeData{Label: label, Config: raw}}, nil
}
