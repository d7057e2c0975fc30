// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the currency conversion agent: an OpenAI chat
// completion loop with an exchange rate tool backed by the Frankfurter API,
// exposed to the server as a task runner.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/openai/openai-go"

	"github.com/moneta-ai/moneta/a2a"
	"github.com/moneta-ai/moneta/server"
)

// SupportedContentTypes are the output modalities the currency agent
// produces.
var SupportedContentTypes = []string{"text", "text/plain"}

const systemInstruction = `You are a specialized assistant for currency conversions.
Your sole purpose is to use the exchange rate tool to answer questions about currency exchange rates.
If the user asks about anything other than currency conversion or exchange rates,
politely state that you cannot help with that topic and can only assist with currency-related queries.
Do not attempt to answer unrelated questions or use tools for other purposes.

For each question, determine if:
1. You have all the information needed to call the exchange rate tool
2. You need to ask the user for more information

If you need more information, ask the user specific questions.
If you have all the information, call the exchange rate tool and respond with the result.`

// inputRequiredPhrases mark an answer as a request for clarification rather
// than a final result.
var inputRequiredPhrases = []string{
	"which currency",
	"what currency",
	"specify",
	"need more information",
}

// maxToolRounds bounds the tool calling loop for one query.
const maxToolRounds = 5

// Config holds configuration for the CurrencyAgent.
type Config struct {
	// Client is the OpenAI client. Defaults to one configured from the
	// environment.
	Client *openai.Client

	// Model is the chat completion model. Defaults to gpt-4o-mini.
	Model string

	// Rates fetches exchange rates. Defaults to the public Frankfurter API.
	Rates *RateClient

	// Logger for agent activity. Optional.
	Logger *slog.Logger
}

// CurrencyAgent answers currency conversion questions. It keeps a chat
// history per session so follow-up messages resume the conversation, and
// asks for clarification when a query does not name both currencies.
type CurrencyAgent struct {
	client *openai.Client
	model  string
	rates  *RateClient
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessageParamUnion
}

var _ server.Runner = (*CurrencyAgent)(nil)

// New creates a CurrencyAgent.
func New(cfg Config) *CurrencyAgent {
	a := &CurrencyAgent{
		client:   cfg.Client,
		model:    cfg.Model,
		rates:    cfg.Rates,
		logger:   cfg.Logger,
		sessions: make(map[string][]openai.ChatCompletionMessageParamUnion),
	}
	if a.client == nil {
		client := openai.NewClient()
		a.client = &client
	}
	if a.model == "" {
		a.model = openai.ChatModelGPT4oMini
	}
	if a.rates == nil {
		a.rates = NewRateClient("")
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Run implements server.Runner. It streams two interim status updates, then
// either the final answer as an artifact or a clarification request.
func (a *CurrencyAgent) Run(ctx context.Context, task *a2a.Task) (<-chan server.Update, error) {
	query := lastUserText(task)
	if query == "" {
		return nil, errors.New("task has no user message to process")
	}
	session := task.SessionID
	if session == "" {
		session = task.ID
	}

	updates := make(chan server.Update, 4)
	go func() {
		defer close(updates)

		updates <- statusUpdate("Looking up the exchange rates...")

		answer, err := a.invoke(ctx, query, session)
		if err != nil {
			updates <- server.Update{Err: err}
			return
		}

		updates <- statusUpdate("Processing the exchange rates...")

		msg := a2a.NewAgentMessage(answer)
		if requiresInput(answer) {
			updates <- server.Update{Message: &msg, RequireInput: true}
			return
		}
		updates <- server.Update{
			Message: &msg,
			Artifact: &a2a.Artifact{
				Parts:     []a2a.Part{a2a.NewTextPart(answer)},
				LastChunk: true,
			},
			Done: true,
		}
	}()
	return updates, nil
}

// invoke runs the chat completion loop for one query, resolving tool calls
// until the model produces a text answer.
func (a *CurrencyAgent) invoke(ctx context.Context, query, session string) (string, error) {
	messages := append(a.history(session), openai.UserMessage(query))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       a.model,
		Temperature: openai.Float(0.0),
		Tools:       []openai.ChatCompletionToolParam{exchangeRateTool()},
	}

	for range maxToolRounds {
		completion, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}

		message := completion.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			a.remember(session, query, message.Content)
			return message.Content, nil
		}

		params.Messages = append(params.Messages, message.ToParam())
		for _, call := range message.ToolCalls {
			result := a.callTool(ctx, call.Function.Name, call.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(result, call.ID))
		}
	}
	return "", errors.New("tool calling loop did not converge")
}

// exchangeRateArgs are the model-provided arguments of get_exchange_rate.
type exchangeRateArgs struct {
	CurrencyFrom string `json:"currency_from"`
	CurrencyTo   string `json:"currency_to"`
	CurrencyDate string `json:"currency_date"`
}

func (a *CurrencyAgent) callTool(ctx context.Context, name, arguments string) string {
	if name != "get_exchange_rate" {
		return fmt.Sprintf(`{"error": "unknown tool: %s"}`, name)
	}

	args := exchangeRateArgs{CurrencyFrom: "USD", CurrencyTo: "EUR", CurrencyDate: "latest"}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return fmt.Sprintf(`{"error": "invalid tool arguments: %v"}`, err)
	}

	result, err := a.rates.GetExchangeRate(ctx, args.CurrencyFrom, args.CurrencyTo, args.CurrencyDate)
	if err != nil {
		a.logger.WarnContext(ctx, "exchange rate lookup failed",
			"from", args.CurrencyFrom, "to", args.CurrencyTo, "error", err)
		return fmt.Sprintf(`{"error": "API request failed: %v"}`, err)
	}
	return result
}

func exchangeRateTool() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        "get_exchange_rate",
			Description: openai.String("Get the exchange rate between two currencies"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"currency_from": map[string]any{
						"type":        "string",
						"description": "The currency to convert from (e.g., 'USD')",
					},
					"currency_to": map[string]any{
						"type":        "string",
						"description": "The currency to convert to (e.g., 'EUR')",
					},
					"currency_date": map[string]any{
						"type":        "string",
						"description": "The date for the exchange rate or 'latest'",
					},
				},
				"required": []string{"currency_from", "currency_to"},
			},
		},
	}
}

// history returns a copy of the session history, seeded with the system
// instruction.
func (a *CurrencyAgent) history(session string) []openai.ChatCompletionMessageParamUnion {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored, ok := a.sessions[session]
	if !ok {
		return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemInstruction)}
	}
	out := make([]openai.ChatCompletionMessageParamUnion, len(stored))
	copy(out, stored)
	return out
}

func (a *CurrencyAgent) remember(session, query, answer string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[session]; !ok {
		a.sessions[session] = []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemInstruction)}
	}
	a.sessions[session] = append(a.sessions[session],
		openai.UserMessage(query), openai.AssistantMessage(answer))
}

// requiresInput reports whether the answer asks the user for clarification
// instead of giving a result.
func requiresInput(answer string) bool {
	lowered := strings.ToLower(answer)
	for _, phrase := range inputRequiredPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func lastUserText(task *a2a.Task) string {
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == a2a.RoleUser {
			return task.History[i].Text()
		}
	}
	return ""
}

func statusUpdate(text string) server.Update {
	msg := a2a.NewAgentMessage(text)
	return server.Update{Message: &msg}
}
