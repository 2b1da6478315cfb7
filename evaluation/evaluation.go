package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/model"
)

// ErrInvalidVerdict is returned when the judge output is not the expected
// JSON object.
var ErrInvalidVerdict = errors.New("invalid verdict")

// Invocation is one question/answer exchange to grade.
type Invocation struct {
	UserContent   core.Content
	FinalResponse core.Content
	// Reference is the ground truth the answer is compared with.
	Reference string
}

// Result is the verdict of a judge.
type Result struct {
	ProvidedAnswer string `json:"provided_answer"`
	IsCorrect      bool   `json:"is_correct"`
	Reasoning      string `json:"reasoning"`
	// Raw is the unparsed model output.
	Raw string `json:"-"`
}

// Evaluator grades invocations.
type Evaluator interface {
	Evaluate(ctx context.Context, inv Invocation) (*Result, error)
}

// SystemPrompt instructs the judge to answer with a bare JSON verdict.
const SystemPrompt = `
You are a helpful assistant that evaluates the accuracy of the answer to the question.

You will be given a question, an answer and a reference.

You will need to evaluate the accuracy of the answer to the question.

You will need to return a formatted JSON object with the following fields:
- "provided_answer": the answer to the question
- "is_correct": true if the answer is correct, false otherwise
- "reasoning": the reasoning behind the verdict

Example: to the question "What is the capital of France?", the answer "Madrid" is wrong.
{
	"provided_answer": "Madrid",
	"is_correct": false,
	"reasoning": "The capital of France is not Madrid."
}

Example: to the question "What is the capital of France?", the answer "Paris" is right.
{
	"provided_answer": "Paris",
	"is_correct": true,
	"reasoning": "Paris is the capital of France."
}

Do not include in the JSON response any other text than the JSON object.
- remove all markdown formatting like the backticks for json code blocks
- remove all non-printable characters, like \n, \r, \t, etc.
`

// UserPromptFormat is filled with question, answer and reference.
const UserPromptFormat = `
Question: %s
Answer: %s
Reference: %s

JSON response:
`

// JudgeOptions configures an LLMJudge.
type JudgeOptions struct {
	SystemPrompt     string
	UserPromptFormat string
	Options          model.GenerationOptions
	Logger           logging.Logger
}

// LLMJudge is an Evaluator backed by a model. Generation is made as
// deterministic as the provider allows: temperature 0, top-k 1, seed 42.
type LLMJudge struct {
	llm    model.Model
	opts   JudgeOptions
	logger logging.Logger
}

var _ Evaluator = (*LLMJudge)(nil)

// NewLLMJudge creates a judge using llm.
func NewLLMJudge(llm model.Model, optFns ...func(o *JudgeOptions)) *LLMJudge {
	opts := JudgeOptions{
		SystemPrompt:     SystemPrompt,
		UserPromptFormat: UserPromptFormat,
		// TopK reaches Anthropic judges only; OpenAI-compatible judges rely
		// on temperature and seed.
		Options: model.GenerationOptions{
			Temperature: core.Ptr(0.0),
			TopK:        core.Ptr[int64](1),
			Seed:        core.Ptr[int64](42),
			JSONMode:    true,
		},
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &LLMJudge{llm: llm, opts: opts, logger: opts.Logger}
}

// Evaluate grades the final response of inv against its reference.
func (j *LLMJudge) Evaluate(ctx context.Context, inv Invocation) (*Result, error) {
	return j.EvaluateAnswer(ctx, inv.UserContent.Text(), inv.FinalResponse.Text(), inv.Reference)
}

// EvaluateAnswer grades answer to question against reference.
func (j *LLMJudge) EvaluateAnswer(ctx context.Context, question, answer, reference string) (*Result, error) {
	req := model.Request{
		Instructions: j.opts.SystemPrompt,
		Contents: []core.Content{
			core.NewTextContent(core.RoleUser, fmt.Sprintf(j.opts.UserPromptFormat, question, answer, reference)),
		},
		Options: j.opts.Options,
	}

	resp, err := model.Collect(ctx, j.llm, req)
	if err != nil {
		return nil, fmt.Errorf("judge %s: %w", j.llm.Info().Name, err)
	}

	res, err := ParseResult(resp.Content.Text())
	if err != nil {
		return nil, err
	}

	j.logger.Debug("evaluation.verdict", "model", j.llm.Info().Name, "is_correct", res.IsCorrect)

	return res, nil
}

// ParseResult decodes a verdict. Markdown code fences and text around the
// JSON object are ignored.
func ParseResult(raw string) (*Result, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")

	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrInvalidVerdict, raw)
	}

	var res Result
	if err := json.Unmarshal([]byte(body[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVerdict, err)
	}

	res.Raw = raw

	return &res, nil
}
