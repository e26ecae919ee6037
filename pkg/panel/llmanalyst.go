package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nof0-api/pkg/executor"
	"nof0-api/pkg/llm"
	"nof0-api/pkg/prompt"
)

// opinionContract is the structured JSON shape an LLM analyst must return.
// It is decoded directly by llm.Client.ChatStructured via JSON-schema
// enforcement, then mapped into an AnalystOpinion.
type opinionContract struct {
	Action              string   `json:"action" description:"one of BUY, SELL, HOLD, CLOSE, REDUCE"`
	Symbol              string   `json:"symbol"`
	Confidence          int      `json:"confidence" description:"0-100"`
	Thesis              string   `json:"thesis"`
	Rationale           string   `json:"rationale"`
	RecommendedLeverage int      `json:"recommended_leverage"`
	RecommendedSizeUSD  float64  `json:"recommended_size_usd"`
	TakeProfitPrice     *float64 `json:"take_profit_price,omitempty"`
	StopLossPrice       *float64 `json:"stop_loss_price,omitempty"`
	ExitPlan            string   `json:"exit_plan"`
}

// promptData is what gets rendered into the analyst's prompt template.
type promptData struct {
	AnalystID string
	Universe  []string
	Snapshots map[string]any
	Portfolio any
	Warnings  []string
}

// LLMAnalyst is an Analyst backed by a single LLM call per cycle. One
// LLMAnalyst is configured per panel seat (e.g. a distinct model or a
// distinct prompt persona); N of them are fanned out concurrently by
// Consult.
type LLMAnalyst struct {
	id        string
	client    llm.LLMClient
	template  *prompt.Template
	modelName string
	recorder  executor.ConversationRecorder
}

// NewLLMAnalyst builds an analyst identified by id, rendering prompts from
// the template at templatePath and calling modelName through client. A nil
// recorder is replaced with a no-op recorder.
func NewLLMAnalyst(id string, client llm.LLMClient, templatePath, modelName string, recorder executor.ConversationRecorder) (*LLMAnalyst, error) {
	if id == "" {
		return nil, fmt.Errorf("panel: analyst id is empty")
	}
	if client == nil {
		return nil, fmt.Errorf("panel: analyst %s has no llm client", id)
	}
	tmpl, err := prompt.NewTemplate(templatePath, nil)
	if err != nil {
		return nil, fmt.Errorf("panel: analyst %s: %w", id, err)
	}
	if recorder == nil {
		recorder = executor.NewNoopConversationRecorder()
	}
	return &LLMAnalyst{
		id:        id,
		client:    client,
		template:  tmpl,
		modelName: modelName,
		recorder:  recorder,
	}, nil
}

// ID returns the analyst's panel seat identifier.
func (a *LLMAnalyst) ID() string {
	return a.id
}

// Analyze renders the prompt, runs DetectEchoChamber/DetectStopLossClustering
// over the input's prior turns to surface them as prompt warnings, calls the
// LLM with structured-output enforcement and maps the result into an
// AnalystOpinion.
func (a *LLMAnalyst) Analyze(ctx context.Context, input Input) (AnalystOpinion, error) {
	var warnings []string
	if warn, msg := DetectEchoChamber(input.PriorTurns); warn {
		warnings = append(warnings, msg)
	}
	if warn, msg := DetectStopLossClustering(input.PriorTurns); warn {
		warnings = append(warnings, msg)
	}

	snapshots := make(map[string]any, len(input.Snapshots))
	for sym, snap := range input.Snapshots {
		snapshots[sym] = snap
	}

	renderedPrompt, err := a.template.Render(promptData{
		AnalystID: a.id,
		Universe:  input.Universe,
		Snapshots: snapshots,
		Portfolio: input.Portfolio,
		Warnings:  warnings,
	})
	if err != nil {
		return AnalystOpinion{}, fmt.Errorf("panel: analyst %s: render prompt: %w", a.id, err)
	}

	var contract opinionContract
	started := time.Now()
	raw, err := a.client.ChatStructured(ctx, &llm.ChatRequest{
		Model: a.modelName,
		Messages: []llm.Message{
			{Role: "user", Content: renderedPrompt},
		},
	}, &contract)
	if err != nil {
		return AnalystOpinion{}, fmt.Errorf("panel: analyst %s: llm call: %w", a.id, err)
	}

	a.recordConversation(ctx, renderedPrompt, raw, started)

	opinion, err := mapOpinionContract(a.id, contract)
	if err != nil {
		return AnalystOpinion{}, fmt.Errorf("panel: analyst %s: %w", a.id, err)
	}
	return opinion, nil
}

func (a *LLMAnalyst) recordConversation(ctx context.Context, renderedPrompt string, raw interface{}, started time.Time) {
	resp, _ := raw.(*llm.ChatResponse)
	rec := executor.ConversationRecord{
		AnalystID: a.id,
		Prompt:    renderedPrompt,
		ModelName: a.modelName,
		Timestamp: started,
		Topic:     "analyst-opinion",
	}
	if resp != nil {
		if len(resp.Choices) > 0 {
			rec.Response = resp.Choices[0].Message.Content
		}
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
	}
	if err := a.recorder.RecordConversation(ctx, rec); err != nil {
		_ = err // persistence is best-effort; never blocks a cycle on a storage hiccup
	}
}

func mapOpinionContract(analystID string, c opinionContract) (AnalystOpinion, error) {
	action := Action(strings.ToUpper(strings.TrimSpace(c.Action)))
	if !action.valid() {
		return AnalystOpinion{}, fmt.Errorf("invalid action %q", c.Action)
	}
	confidence := c.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return AnalystOpinion{
		AnalystID:           analystID,
		Action:              action,
		Symbol:              strings.ToUpper(strings.TrimSpace(c.Symbol)),
		Confidence:          confidence,
		Rationale:           c.Rationale,
		Thesis:              c.Thesis,
		RecommendedLeverage: c.RecommendedLeverage,
		RecommendedSizeUSD:  c.RecommendedSizeUSD,
		TPPrice:             c.TakeProfitPrice,
		SLPrice:             c.StopLossPrice,
		ExitPlan:            c.ExitPlan,
	}, nil
}
