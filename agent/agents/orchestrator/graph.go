package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	nodex "github.com/tanpawarit/Chative-Task-Chat/agent/nodes/orchestrator"
)

const (
	nodeValidateRequest   = "validate_request"
	nodeLoadHistory       = "load_history"
	nodeRecordUserMessage = "record_user_message"
	nodeRequestModel      = "request_model"
	nodeExecuteTools      = "execute_tools"
	nodePersistTurn       = "persist_turn"
	nodeFinalizeReply     = "finalize_reply"
)

// stateNode is an alias so compose.InvokableLambda can infer its type parameters.
type stateNode = func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)

// phased wraps a node so any failure carries the turn phase and conversation.
func phased(phase contractx.Phase, fn stateNode) stateNode {
	return func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
		out, err := fn(ctx, in)
		if err != nil {
			current := phase
			if in != nil && in.Phase != "" {
				current = in.Phase
			}
			return nil, nodex.TurnError(in, current, err)
		}
		return out, nil
	}
}

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			st, err := nodex.ValidateRequest(in, o.cfg.MaxMessageChars, o.now)
			if err != nil {
				return nil, nodex.TurnError(nil, contractx.PhaseValidating, err)
			}
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeValidateRequest, err)
	}

	stateNodes := []struct {
		name  string
		phase contractx.Phase
		fn    stateNode
	}{
		{nodeLoadHistory, contractx.PhaseLoadingHistory, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadHistory(ctx, in, o.store, o.cfg.HistoryLimit)
		}},
		{nodeRecordUserMessage, contractx.PhaseLoadingHistory, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordUserMessage(ctx, in, o.store, o.cfg.HistoryLimit)
		}},
		{nodeRequestModel, contractx.PhaseAwaitingModel, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RequestModel(ctx, in, o.gateway, o.dispatcher.Specs(), o.systemPrompt, o.cfg.MaxRounds)
		}},
		{nodeExecuteTools, contractx.PhaseExecutingTools, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ExecuteTools(ctx, in, o.dispatcher)
		}},
		{nodePersistTurn, contractx.PhasePersisting, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PersistTurn(ctx, in, o.store, o.cfg.HistoryLimit)
		}},
	}
	for _, n := range stateNodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(phased(n.phase, n.fn))); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			out, err := nodex.FinalizeReply(ctx, in)
			if err != nil {
				return nodex.GraphOutput{}, nodex.TurnError(in, contractx.PhasePersisting, err)
			}
			return out, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeReply, err)
	}

	edges := [][2]string{
		{compose.START, nodeValidateRequest},
		{nodeValidateRequest, nodeLoadHistory},
		{nodeLoadHistory, nodeRecordUserMessage},
		{nodeRecordUserMessage, nodeRequestModel},
		{nodeExecuteTools, nodeRequestModel},
		{nodePersistTurn, nodeFinalizeReply},
		{nodeFinalizeReply, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if nodex.HasProposals(in) {
				return nodeExecuteTools, nil
			}
			return nodePersistTurn, nil
		},
		map[string]bool{nodeExecuteTools: true, nodePersistTurn: true},
	)
	if err := graph.AddBranch(nodeRequestModel, branch); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodeRequestModel, err)
	}

	// Each round visits request_model and execute_tools once.
	maxSteps := 10 + 2*o.cfg.MaxRounds
	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.handle_message"),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
