package plans

import (
	"fmt"

	"github.com/Bidon15/mpoolctl/internal/agents"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// RegisterAgent registers the signer as an agent and stores the returned id.
func RegisterAgent(p Params, _ Known) (*Bundle, error) {
	if p.AgentName == "" {
		return nil, fmt.Errorf("%w: agent name is required", deployerr.ErrInvalidPlan)
	}

	b := plan.NewBuilder(NameRegisterAgent, store.SectionAgent)
	in := newInputs(b)
	wallet := in.address("wallet", p.Signer)

	body := []plan.Field{
		{Name: "name", Arg: plan.Lit(plan.String(p.AgentName))},
		{Name: "walletAddress", Arg: wallet.Arg()},
	}
	if p.AgentDescription != "" {
		body = append(body, plan.Field{Name: "description", Arg: plan.Lit(plan.String(p.AgentDescription))})
	}
	if len(p.AgentMetadata) > 0 {
		body = append(body, plan.Field{Name: "metadata", Arg: plan.Lit(plan.MustJSON(p.AgentMetadata))})
	}

	out := b.Post(plan.PostSpec{
		Key:      NameRegisterAgent + ".register",
		Label:    "register agent " + p.AgentName,
		Service:  ServiceAgents,
		Endpoint: agents.EndpointRegister,
		Body:     body,
		Outputs:  []plan.Output{{Key: "agentId", Kind: plan.KindString, Field: "agentId"}},
	})
	b.Bind(out["agentId"], store.KeyAgentID)
	b.Record(store.SectionAgent, "wallet", wallet.Arg())
	b.Record(store.SectionAgent, "name", plan.Lit(plan.String(p.AgentName)))

	return in.bundle()
}
