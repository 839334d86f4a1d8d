package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent describes one selectable persona: prompt, voice, generation limits.
type Agent struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Prompt      string  `yaml:"prompt"`
	VoiceID     string  `yaml:"voice_id"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Catalog is an immutable persona lookup built at startup.
type Catalog struct {
	agents map[string]Agent
	order  []string
}

func builtin() []Agent {
	return []Agent{
		{
			ID:          "receptionist",
			Name:        "Receptionist",
			Description: "Friendly receptionist for appointment scheduling",
			Prompt: `You are a professional and friendly receptionist for a medical clinic.

Your responsibilities:
- Greet callers warmly
- Help schedule appointments
- Answer basic questions about clinic hours and services
- Collect patient information (name, phone, reason for visit)
- Be concise and clear in your responses

Guidelines:
- Keep responses under 2-3 sentences for natural conversation flow
- Be polite and professional
- If you don't know something, offer to transfer or take a message
- Confirm important information back to the caller`,
			VoiceID:     "EXAVITQu4vr4xnSDxMaL",
			Temperature: 0.7,
			MaxTokens:   150,
		},
		{
			ID:          "sales",
			Name:        "Sales Agent",
			Description: "Professional sales agent for product inquiries",
			Prompt: `You are an experienced sales representative for a software company.

Your role:
- Understand customer needs
- Present product features and benefits
- Answer questions about pricing and plans
- Build rapport and trust
- Guide customers toward a purchase decision

Guidelines:
- Be enthusiastic but not pushy
- Listen actively and ask clarifying questions
- Provide specific, relevant information
- Keep responses concise (2-3 sentences)
- Focus on value, not just features`,
			VoiceID:     "21m00Tcm4TlvDq8ikWAM",
			Temperature: 0.7,
			MaxTokens:   150,
		},
		{
			ID:          "callcenter",
			Name:        "Call Center Agent",
			Description: "Customer support for technical issues",
			Prompt: `You are a skilled customer support agent for a tech company.

Your mission:
- Help customers troubleshoot technical issues
- Provide step-by-step guidance
- Document issues and solutions
- Escalate complex problems when needed
- Ensure customer satisfaction

Guidelines:
- Be patient and empathetic
- Use simple, non-technical language
- Confirm understanding before moving forward
- Keep responses brief and actionable
- Stay calm under pressure`,
			VoiceID:     "pNInz6obpgDQGcFmaJgB",
			Temperature: 0.7,
			MaxTokens:   150,
		},
	}
}

// Load builds the catalog from the built-in personas, overlaid with the
// personas in the YAML file at path when path is non-empty. A file entry
// whose id matches a built-in persona replaces it.
func Load(path string) (*Catalog, error) {
	c := &Catalog{agents: make(map[string]Agent)}
	for _, a := range builtin() {
		c.put(a)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read agents file: %w", err)
		}
		var file struct {
			Agents []Agent `yaml:"agents"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse agents file: %w", err)
		}
		for _, a := range file.Agents {
			if err := validateAgent(a); err != nil {
				return nil, err
			}
			applyDefaults(&a)
			c.put(a)
		}
	}
	return c, nil
}

func validateAgent(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if a.Name == "" {
		return fmt.Errorf("agent %q: name must not be empty", a.ID)
	}
	if a.Prompt == "" {
		return fmt.Errorf("agent %q: prompt must not be empty", a.ID)
	}
	if a.VoiceID == "" {
		return fmt.Errorf("agent %q: voice_id must not be empty", a.ID)
	}
	return nil
}

func applyDefaults(a *Agent) {
	if a.Temperature == 0 {
		a.Temperature = 0.7
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 150
	}
}

func (c *Catalog) put(a Agent) {
	if _, exists := c.agents[a.ID]; !exists {
		c.order = append(c.order, a.ID)
	}
	c.agents[a.ID] = a
}

// Lookup returns the persona for id, if known.
func (c *Catalog) Lookup(id string) (Agent, bool) {
	a, ok := c.agents[id]
	return a, ok
}

// All returns every persona in registration order.
func (c *Catalog) All() []Agent {
	out := make([]Agent, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id])
	}
	return out
}
