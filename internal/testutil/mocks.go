package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// ModelCall is the argument recorded for a model call.
type ModelCall struct {
	Messages []core.Message
	Params   core.ModelParams
}

// Prompt joins the content of every message of the call.
func (c ModelCall) Prompt() string {
	parts := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

type modelReply struct {
	text string
	err  error
}

type modelRule struct {
	match   string
	replies []modelReply
	served  int
}

// MockModel implements core.ModelPort for testing.
//
// Replies are chosen in this order: a custom complete function, the first
// rule whose match string appears in the prompt, the queue, the fallback.
// A rule serves its replies in order and repeats the last one once exhausted.
type MockModel struct {
	completeFunc func(context.Context, []core.Message, core.ModelParams) (string, error)
	rules        []*modelRule
	queue        []modelReply
	fallback     string
	calls        []MockCall
	mu           sync.Mutex
}

// NewMockModel creates a new mock model.
func NewMockModel() *MockModel {
	return &MockModel{
		fallback: "{}",
		calls:    make([]MockCall, 0),
	}
}

// Complete mocks a blocking completion.
func (m *MockModel) Complete(ctx context.Context, messages []core.Message, params core.ModelParams) (string, error) {
	call := ModelCall{Messages: append([]core.Message(nil), messages...), Params: params}
	m.recordCall("Complete", call)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	fn := m.completeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, messages, params)
	}

	reply := m.next(call.Prompt())
	return reply.text, reply.err
}

func (m *MockModel) next(prompt string) modelReply {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rules {
		if !strings.Contains(prompt, r.match) {
			continue
		}
		idx := r.served
		if idx >= len(r.replies) {
			idx = len(r.replies) - 1
		}
		r.served++
		return r.replies[idx]
	}
	if len(m.queue) > 0 {
		reply := m.queue[0]
		m.queue = m.queue[1:]
		return reply
	}
	return modelReply{text: m.fallback}
}

// WithCompleteFunc sets a custom complete function.
func (m *MockModel) WithCompleteFunc(fn func(context.Context, []core.Message, core.ModelParams) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// WithResponse sets the fallback response.
func (m *MockModel) WithResponse(text string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = text
	return m
}

// Enqueue appends replies consumed in order when no rule matches.
func (m *MockModel) Enqueue(texts ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.queue = append(m.queue, modelReply{text: t})
	}
	return m
}

// EnqueueError appends an error reply.
func (m *MockModel) EnqueueError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, modelReply{err: err})
	return m
}

// On answers prompts containing match with the given replies.
func (m *MockModel) On(match string, texts ...string) *MockModel {
	replies := make([]modelReply, 0, len(texts))
	for _, t := range texts {
		replies = append(replies, modelReply{text: t})
	}
	return m.addRule(match, replies)
}

// OnError answers prompts containing match with err once, then with texts.
func (m *MockModel) OnError(match string, err error, then ...string) *MockModel {
	replies := []modelReply{{err: err}}
	for _, t := range then {
		replies = append(replies, modelReply{text: t})
	}
	return m.addRule(match, replies)
}

func (m *MockModel) addRule(match string, replies []modelReply) *MockModel {
	if len(replies) == 0 {
		replies = []modelReply{{text: ""}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &modelRule{match: match, replies: replies})
	return m
}

// ModelCalls returns the recorded completion calls.
func (m *MockModel) ModelCalls() []ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelCall, 0, len(m.calls))
	for _, c := range m.calls {
		if mc, ok := c.Args.(ModelCall); ok && c.Method == "Complete" {
			out = append(out, mc)
		}
	}
	return out
}

// Calls returns recorded calls.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns number of calls to a method.
func (m *MockModel) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockCall, 0)
}

func (m *MockModel) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// MockStreamingModel wraps MockModel and streams its replies in fixed-size chunks.
type MockStreamingModel struct {
	*MockModel
	ChunkSize int
}

// NewMockStreamingModel creates a streaming mock.
func NewMockStreamingModel(chunkSize int) *MockStreamingModel {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &MockStreamingModel{MockModel: NewMockModel(), ChunkSize: chunkSize}
}

// Chat mocks a streamed completion.
func (m *MockStreamingModel) Chat(ctx context.Context, messages []core.Message, params core.ModelParams) (<-chan core.Chunk, error) {
	m.recordCall("Chat", ModelCall{Messages: append([]core.Message(nil), messages...), Params: params})
	text, err := m.MockModel.Complete(ctx, messages, params)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Chunk)
	go func() {
		defer close(out)
		for start := 0; start < len(text); start += m.ChunkSize {
			end := min(start+m.ChunkSize, len(text))
			select {
			case out <- core.Chunk{Text: text[start:end]}:
			case <-ctx.Done():
				select {
				case out <- core.Chunk{Err: ctx.Err()}:
				default:
				}
				return
			}
		}
	}()
	return out, nil
}

// MockExecutor implements core.ExecutorPort for testing.
type MockExecutor struct {
	executeFunc func(context.Context, string, core.ExecOptions) (*core.ExecutionResult, error)
	queue       []*core.ExecutionResult
	result      *core.ExecutionResult
	err         error
	calls       []MockCall
	mu          sync.Mutex
}

// ExecCall is the argument recorded for an execution.
type ExecCall struct {
	Code    string
	Options core.ExecOptions
}

// NewMockExecutor creates an executor whose runs succeed with empty output.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		result: &core.ExecutionResult{Success: true},
		calls:  make([]MockCall, 0),
	}
}

// Execute mocks a code execution.
func (m *MockExecutor) Execute(ctx context.Context, code string, opts core.ExecOptions) (*core.ExecutionResult, error) {
	m.recordCall("Execute", ExecCall{Code: code, Options: opts})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	fn := m.executeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, code, opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		res := m.queue[0]
		m.queue = m.queue[1:]
		return cloneResult(res), nil
	}
	return cloneResult(m.result), nil
}

func cloneResult(r *core.ExecutionResult) *core.ExecutionResult {
	out := *r
	return &out
}

// WithExecuteFunc sets a custom execute function.
func (m *MockExecutor) WithExecuteFunc(fn func(context.Context, string, core.ExecOptions) (*core.ExecutionResult, error)) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = fn
	return m
}

// WithResult sets the default result.
func (m *MockExecutor) WithResult(res *core.ExecutionResult) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = res
	return m
}

// Enqueue appends results returned in order before the default result.
func (m *MockExecutor) Enqueue(results ...*core.ExecutionResult) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, results...)
	return m
}

// WithError configures the mock to return an error.
func (m *MockExecutor) WithError(err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// ExecCalls returns the recorded executions.
func (m *MockExecutor) ExecCalls() []ExecCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecCall, 0, len(m.calls))
	for _, c := range m.calls {
		if ec, ok := c.Args.(ExecCall); ok {
			out = append(out, ec)
		}
	}
	return out
}

// CallCount returns number of calls to a method.
func (m *MockExecutor) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

func (m *MockExecutor) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

var (
	_ core.ModelPort      = (*MockModel)(nil)
	_ core.StreamingModel = (*MockStreamingModel)(nil)
	_ core.ExecutorPort   = (*MockExecutor)(nil)
)
