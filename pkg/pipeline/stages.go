package pipeline

import (
	"fmt"

	"github.com/riskops/amlguard/pkg/engine"
	"github.com/riskops/amlguard/pkg/toolexec"
)

// DefaultStages is the four-stage analysis sequence in execution order.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "Data Aggregation", AgentID: "data-aggregation"},
		{Name: "Pattern Detection", AgentID: "pattern-detection"},
		{Name: "Risk Assessment", AgentID: "risk-assessment"},
		{Name: "Action Alerting", AgentID: "action-alerting"},
	}
}

const dataAggregationInstructions = `Your task is to gather and summarize relevant data for a given subject ID covering a specific period.
Use the provided tools to fetch:
1. The subject's profile.
2. Aggregated transaction statistics (total volume, value, avg value, card types, countries, rounded values).
3. Examples of flagged transactions (e.g., high value).
Present this information clearly and concisely for the next agent. Use ISO format (YYYY-MM-DDTHH:MM:SS) for dates.`

const patternDetectionInstructions = `Analyze the provided aggregated data, flagged transaction examples, and profile information for the subject.
Identify patterns potentially indicative of money laundering based on known indicators like:
- High percentage of prepaid cards
- High percentage of rounded transaction values
- Significant activity from high-risk jurisdictions (check profile and card countries)
- Transaction values inconsistent with the subject's category profile
- Structuring patterns (if suggested by transaction examples or velocity)
- Ownership changes noted in the profile combined with other risks.
List the specific patterns detected.`

const riskAssessmentInstructions = `Based only on the input (subject profile, aggregated stats, and detected laundering patterns), assess the overall risk level for the subject.
Assign a risk category: 'Low', 'Medium', 'High', or 'Critical'.
Provide a clear, concise justification summarizing the key contributing factors and detected indicators. Do not use external tools.`

const actionAlertingInstructions = `Based on the assessed risk category and its justification, determine the appropriate next steps according to this policy:
- Low: No action needed. State this.
- Medium: Update status to 'Medium Risk Watchlist'.
- High: Update status to 'High Risk' and open a review case.
- Critical: Update status to 'Critical Risk - Urgent Review' and open a review case.
Use the provided tools ('set_risk_status', 'open_review_case') to execute these actions. Confirm the actions taken.`

// stageToolset maps each stage agent to the tool names it may call. The
// assessment stage reasons over the transcript alone and gets none.
var stageToolset = map[string][]string{
	"data-aggregation":  {"get_profile", "get_aggregated_stats", "get_flagged_examples"},
	"pattern-detection": {"get_profile", "get_aggregated_stats", "get_flagged_examples"},
	"risk-assessment":   nil,
	"action-alerting":   {"set_risk_status", "open_review_case"},
}

var stageInstructions = map[string]string{
	"data-aggregation":  dataAggregationInstructions,
	"pattern-detection": patternDetectionInstructions,
	"risk-assessment":   riskAssessmentInstructions,
	"action-alerting":   actionAlertingInstructions,
}

// DefaultAgentSpecs builds the engine agent specs for the default stages,
// resolving each stage's toolset against the registry.
func DefaultAgentSpecs(registry *toolexec.Registry, model string, temperature float64, maxTokens int) ([]engine.AgentSpec, error) {
	stages := DefaultStages()
	specs := make([]engine.AgentSpec, 0, len(stages))

	for _, stage := range stages {
		toolNames, ok := stageToolset[stage.AgentID]
		if !ok {
			return nil, fmt.Errorf("no toolset defined for agent %q", stage.AgentID)
		}
		instructions, ok := stageInstructions[stage.AgentID]
		if !ok {
			return nil, fmt.Errorf("no instructions defined for agent %q", stage.AgentID)
		}

		tools, err := registry.Specs(toolNames...)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", stage.AgentID, err)
		}

		specs = append(specs, engine.AgentSpec{
			ID:           stage.AgentID,
			Name:         stage.Name,
			Model:        model,
			Instructions: instructions,
			Tools:        tools,
			Temperature:  temperature,
			MaxTokens:    maxTokens,
		})
	}

	return specs, nil
}
