package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

// CatalogVersion changes whenever a tool name or parameter shape changes.
const CatalogVersion = "tasks.v1"

const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
	ToolUpdateTask   = "update_task"
)

// Definition describes one callable operation as shown to the model.
type Definition struct {
	Name        string
	Description string
	Params      map[string]*schema.ParameterInfo
}

func (d Definition) ToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(d.Params),
	}
}

// Spec renders the definition as a JSON-schema function declaration.
func (d Definition) Spec() contractx.ToolSpec {
	names := make([]string, 0, len(d.Params))
	for name := range d.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	properties := make(map[string]any, len(names))
	required := make([]string, 0, len(names))
	for _, name := range names {
		p := d.Params[name]
		if p == nil {
			continue
		}
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Desc,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = append([]string(nil), p.Enum...)
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}

	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}

	return contractx.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

type invokeFunc func(
	ctx context.Context,
	repo contractx.TaskRepository,
	userID string,
	raw json.RawMessage,
) (map[string]any, any, error)

type entry struct {
	def    Definition
	invoke invokeFunc
}

// operation binds a typed parameter struct to its validator and executor.
type operation[P any] struct {
	def      Definition
	validate func(*P) error
	run      func(ctx context.Context, repo contractx.TaskRepository, userID string, p P) (any, error)
}

func (op operation[P]) entry() entry {
	return entry{
		def: op.def,
		invoke: func(ctx context.Context, repo contractx.TaskRepository, userID string, raw json.RawMessage) (map[string]any, any, error) {
			var p P
			if err := decodeParams(raw, &p); err != nil {
				return rawParams(raw), nil, err
			}
			if op.validate != nil {
				if err := op.validate(&p); err != nil {
					return echoParams(p), nil, err
				}
			}
			result, err := op.run(ctx, repo, userID, p)
			return echoParams(p), result, err
		},
	}
}

// Catalog is the closed set of task tools.
type Catalog struct {
	repo    contractx.TaskRepository
	order   []string
	entries map[string]entry
}

func New(repo contractx.TaskRepository) *Catalog {
	c := &Catalog{
		repo:    repo,
		entries: make(map[string]entry, 5),
	}
	for _, e := range []entry{
		addTaskOperation().entry(),
		listTasksOperation().entry(),
		completeTaskOperation().entry(),
		deleteTaskOperation().entry(),
		updateTaskOperation().entry(),
	} {
		c.order = append(c.order, e.def.Name)
		c.entries[e.def.Name] = e
	}
	return c
}

func (c *Catalog) Version() string {
	return CatalogVersion
}

func (c *Catalog) Lookup(name string) (Definition, bool) {
	e, ok := c.entries[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

func (c *Catalog) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		defs = append(defs, c.entries[name].def)
	}
	return defs
}

func (c *Catalog) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(c.order))
	for _, def := range c.Definitions() {
		infos = append(infos, def.ToolInfo())
	}
	return infos
}

func (c *Catalog) Specs() []contractx.ToolSpec {
	specs := make([]contractx.ToolSpec, 0, len(c.order))
	for _, def := range c.Definitions() {
		specs = append(specs, def.Spec())
	}
	return specs
}

// Execute decodes raw arguments for the named tool and runs it on behalf of
// userID. The returned parameters never include a caller-supplied user id.
func (c *Catalog) Execute(
	ctx context.Context,
	userID string,
	name string,
	raw json.RawMessage,
) (map[string]any, any, error) {
	e, ok := c.entries[name]
	if !ok {
		return rawParams(raw), nil, fmt.Errorf("%w: %q", contractx.ErrUnknownTool, name)
	}
	if userID == "" {
		return rawParams(raw), nil, fmt.Errorf("%w: caller identity is missing", contractx.ErrInternal)
	}
	return e.invoke(ctx, c.repo, userID, raw)
}
