package service

import (
	"context"
	"sort"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

// builtinTemplates is the shipped catalog. User workflows flagged is_template
// are listed alongside these.
func builtinTemplates() []*schema.Workflow {
	return []*schema.Workflow{
		{
			ID:               "template-document-analysis",
			Name:             "Document Analysis",
			Description:      "Analyze a document and produce a structured summary.",
			IsTemplate:       true,
			TemplateCategory: "analysis",
			Nodes: []schema.Node{
				{
					ID:       "input-1",
					Type:     schema.NodeTypeInput,
					Position: schema.Position{X: 100, Y: 200},
					Data: schema.NodeData{
						Label:     "Document",
						InputType: "text",
					},
				},
				{
					ID:       "agent-1",
					Type:     schema.NodeTypeAgent,
					Position: schema.Position{X: 400, Y: 200},
					Data: schema.NodeData{
						Label:       "Analyzer",
						Description: "Analyze the document and summarize its key points.",
						AgentConfig: &schema.AgentConfig{
							Model:        "llama3",
							Temperature:  0.3,
							MaxTokens:    1024,
							SystemPrompt: "You are a precise document analyst. Extract the key points, entities and conclusions from the provided text.",
						},
					},
				},
				{
					ID:       "output-1",
					Type:     schema.NodeTypeOutput,
					Position: schema.Position{X: 700, Y: 200},
					Data: schema.NodeData{
						Label:      "Summary",
						OutputType: "text",
					},
				},
			},
			Edges: []schema.Edge{
				{ID: "e1", Source: "input-1", Target: "agent-1"},
				{ID: "e2", Source: "agent-1", Target: "output-1"},
			},
		},
		{
			ID:               "template-support-triage",
			Name:             "Support Triage",
			Description:      "Classify a support request and route urgent ones to escalation.",
			IsTemplate:       true,
			TemplateCategory: "routing",
			Nodes: []schema.Node{
				{
					ID:       "input-1",
					Type:     schema.NodeTypeInput,
					Position: schema.Position{X: 100, Y: 200},
					Data: schema.NodeData{
						Label:     "Request",
						InputType: "text",
					},
				},
				{
					ID:       "agent-1",
					Type:     schema.NodeTypeAgent,
					Position: schema.Position{X: 400, Y: 200},
					Data: schema.NodeData{
						Label:       "Classifier",
						Description: "Classify the request urgency. Answer with exactly one word: urgent or routine.",
						AgentConfig: &schema.AgentConfig{
							Model:       "llama3",
							Temperature: 0,
							MaxTokens:   16,
						},
					},
				},
				{
					ID:       "cond-1",
					Type:     schema.NodeTypeCondition,
					Position: schema.Position{X: 700, Y: 200},
					Data: schema.NodeData{
						Label:               "Urgent?",
						ConditionExpression: `nodes["agent-1"] contains "urgent"`,
						Language:            "expr",
					},
				},
				{
					ID:       "output-escalate",
					Type:     schema.NodeTypeOutput,
					Position: schema.Position{X: 1000, Y: 100},
					Data: schema.NodeData{
						Label:      "Escalation",
						OutputType: "text",
					},
				},
				{
					ID:       "output-queue",
					Type:     schema.NodeTypeOutput,
					Position: schema.Position{X: 1000, Y: 300},
					Data: schema.NodeData{
						Label:      "Queue",
						OutputType: "text",
					},
				},
			},
			Edges: []schema.Edge{
				{ID: "e1", Source: "input-1", Target: "agent-1"},
				{ID: "e2", Source: "agent-1", Target: "cond-1"},
				{ID: "e3", Source: "cond-1", Target: "output-escalate", SourceHandle: "true"},
				{ID: "e4", Source: "cond-1", Target: "output-queue", SourceHandle: "false"},
			},
		},
	}
}

// ListTemplates returns the built-in catalog plus stored template workflows,
// sorted by name. The catalog is shared: publishing a workflow as a template
// makes it visible to every user, and CreateFromTemplate is the only way to
// act on someone else's template.
func (s *Service) ListTemplates(ctx context.Context) ([]*schema.Workflow, error) {
	templates := builtinTemplates()

	stored, err := s.store.ListTemplateWorkflows(ctx)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list template workflows").WithCause(err)
	}
	templates = append(templates, stored...)

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// CreateFromTemplate instantiates a template as a new workflow owned by the
// user. The copy is a plain workflow: it is not itself a template.
func (s *Service) CreateFromTemplate(ctx context.Context, templateID, userID string) (*schema.Workflow, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}

	for _, tpl := range templates {
		if tpl.ID != templateID {
			continue
		}
		wf := &schema.Workflow{
			Name:        tpl.Name,
			Description: tpl.Description,
			Nodes:       cloneNodes(tpl.Nodes),
			Edges:       append([]schema.Edge(nil), tpl.Edges...),
			InputSchema: append([]byte(nil), tpl.InputSchema...),
		}
		return s.CreateWorkflow(ctx, wf, userID)
	}

	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %s not found", templateID)
}

func cloneNodes(nodes []schema.Node) []schema.Node {
	out := append([]schema.Node(nil), nodes...)
	for i := range out {
		if out[i].Data.AgentConfig != nil {
			cp := *out[i].Data.AgentConfig
			out[i].Data.AgentConfig = &cp
		}
	}
	return out
}
