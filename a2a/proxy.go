package a2a

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/hupe1980/auditmesh/agent"
	"github.com/hupe1980/auditmesh/config"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
)

// Metadata keys set on events produced by a ProxyAgent.
const (
	MetadataTaskID    = "a2a_task_id"
	MetadataContextID = "a2a_context_id"
)

var (
	// ErrRemoteTask is returned when the peer reports a failed, rejected or
	// cancelled task.
	ErrRemoteTask = errors.New("remote task did not complete")

	// ErrEmptyMessage is returned when there is nothing to send.
	ErrEmptyMessage = errors.New("no content to send")
)

// ProxyOptions configures a ProxyAgent.
type ProxyOptions struct {
	Description string
	// OutputKey stores the final remote answer in session state.
	OutputKey string
	// Card skips card resolution.
	Card *a2a.AgentCard
	// CardFile reads the card from a local JSON file.
	CardFile string
	Headers  map[string]string
	// Timeout bounds one delegation including retries. Zero disables it.
	Timeout time.Duration
	// Streaming uses message/stream instead of message/send.
	Streaming bool
	// Retries is the number of extra attempts after a failed send. Attempt
	// n waits n*RetryBackoff first.
	Retries      int
	RetryBackoff time.Duration
	// PollInterval is used while waiting for a non-terminal task returned
	// by message/send.
	PollInterval time.Duration
	// ContextKeys names state entries written by earlier agents. Their
	// values are sent along with the user content.
	ContextKeys []string
	// HTTPClient is used for card resolution and JSON-RPC calls. Its
	// Timeout, if any, applies to a whole streamed response.
	HTTPClient *http.Client
	Metrics     *metrics.Metrics
	Logger      logging.Logger
}

// ProxyAgent is a local stand-in for a remote A2A agent. A run sends the
// user content to the peer and turns the answer into events.
type ProxyAgent struct {
	agent.BaseAgent

	url          string
	outputKey    string
	cardFile     string
	timeout      time.Duration
	streaming    bool
	retries      int
	retryBackoff time.Duration
	pollInterval time.Duration
	contextKeys  []string
	httpClient   *http.Client
	metrics      *metrics.Metrics
	logger       logging.Logger

	mu   sync.Mutex
	card *a2a.AgentCard
}

var _ core.Agent = (*ProxyAgent)(nil)

// NewProxyAgent creates a proxy for the peer at url. url may be empty when
// a card or card file is supplied.
func NewProxyAgent(name, url string, optFns ...func(o *ProxyOptions)) (*ProxyAgent, error) {
	opts := ProxyOptions{
		Timeout:      config.DefaultA2ATimeout,
		RetryBackoff: 500 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if name == "" {
		return nil, fmt.Errorf("%w: proxy agent name is required", config.ErrInvalidConfig)
	}

	if url == "" && opts.Card == nil && opts.CardFile == "" {
		return nil, fmt.Errorf("%w: proxy agent %s: url, card or card file is required", config.ErrInvalidConfig, name)
	}

	if opts.Retries < 0 {
		return nil, fmt.Errorf("%w: proxy agent %s: retries must not be negative", config.ErrInvalidConfig, name)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if len(opts.Headers) > 0 {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		clone := *httpClient
		clone.Transport = &headerTransport{base: base, headers: opts.Headers}
		httpClient = &clone
	}

	p := &ProxyAgent{
		url:          strings.TrimSuffix(url, "/"),
		outputKey:    opts.OutputKey,
		cardFile:     opts.CardFile,
		timeout:      opts.Timeout,
		streaming:    opts.Streaming,
		retries:      opts.Retries,
		retryBackoff: opts.RetryBackoff,
		pollInterval: opts.PollInterval,
		contextKeys:  opts.ContextKeys,
		httpClient:   httpClient,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		card:         opts.Card,
	}

	p.Init(name, opts.Description, "a2a", p)

	return p, nil
}

// NewProxyAgentFromConfig creates a proxy from a remote agent config.
func NewProxyAgentFromConfig(cfg config.RemoteAgentConfig, optFns ...func(o *ProxyOptions)) (*ProxyAgent, error) {
	return NewProxyAgent(cfg.Name, cfg.URL, append([]func(o *ProxyOptions){
		func(o *ProxyOptions) {
			o.Description = cfg.Description
			o.OutputKey = cfg.OutputKey
			o.CardFile = cfg.AgentCard
		},
	}, optFns...)...)
}

// URL returns the peer base URL.
func (p *ProxyAgent) URL() string { return p.url }

// OutputKey returns the state key the answer is stored under.
func (p *ProxyAgent) OutputKey() string { return p.outputKey }

// Run delegates the run to the peer. Failures are reported as an error
// event with code A2A_ERROR and returned.
func (p *ProxyAgent) Run(runCtx *core.RunContext) error {
	start := time.Now()

	err := p.delegate(runCtx)

	status := metrics.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = metrics.StatusCancelled
	default:
		status = metrics.StatusError
	}
	p.metrics.A2ARequest(p.Name(), status, time.Since(start))

	if err == nil {
		return nil
	}

	if runCtx.Err() != nil {
		return runCtx.Err()
	}

	runCtx.LogWarn("a2a.proxy.failed", "agent", p.Name(), "url", p.url, "error", err.Error())

	if emitErr := runCtx.EmitEvent(core.NewErrorEvent(runCtx.RunID, p.Name(), core.ErrorCodeA2A, err)); emitErr != nil {
		return errors.Join(fmt.Errorf("a2a agent %s: %w", p.Name(), err), emitErr)
	}

	return fmt.Errorf("a2a agent %s: %w", p.Name(), err)
}

func (p *ProxyAgent) delegate(runCtx *core.RunContext) error {
	ctx := runCtx.Context
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg, err := p.buildMessage(runCtx)
	if err != nil {
		return err
	}

	var res *remoteResult

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * p.retryBackoff
			runCtx.LogInfo("a2a.proxy.retry", "agent", p.Name(), "attempt", attempt, "wait_ms", wait.Milliseconds())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		var emitted bool
		res, emitted, err = p.attempt(ctx, runCtx, msg)

		if err == nil || emitted || !retryable(err) || attempt >= p.retries {
			break
		}
	}

	if err != nil {
		return err
	}

	return p.finish(runCtx, res)
}

// attempt resolves the card and sends msg once. A peer that is still
// starting fails card resolution, which is retried like a failed send.
func (p *ProxyAgent) attempt(ctx context.Context, runCtx *core.RunContext, msg *a2a.Message) (*remoteResult, bool, error) {
	card, err := p.resolveCard(ctx)
	if err != nil {
		return nil, false, err
	}

	// Deadlines come from ctx. The transport's own default client would
	// cut every call off after five seconds.
	client, err := a2aclient.NewFromCard(ctx, card, a2aclient.WithJSONRPCTransport(p.httpClient))
	if err != nil {
		return nil, false, fmt.Errorf("create client: %w", err)
	}
	defer func() { _ = client.Destroy() }()

	if p.streaming {
		return p.stream(ctx, runCtx, client, msg)
	}

	res, err := p.send(ctx, client, msg)

	return res, false, err
}

// remoteResult is the collected answer of one delegation.
type remoteResult struct {
	taskID    string
	contextID string
	parts     []core.Part
}

func (p *ProxyAgent) send(ctx context.Context, client *a2aclient.Client, msg *a2a.Message) (*remoteResult, error) {
	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	switch v := result.(type) {
	case *a2a.Message:
		return &remoteResult{
			taskID:    string(v.TaskID),
			contextID: v.ContextID,
			parts:     appendParts(nil, fromA2AParts(v.Parts)...),
		}, nil
	case *a2a.Task:
		task := v
		for !settled(task.Status.State) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.pollInterval):
			}

			task, err = client.GetTask(ctx, &a2a.TaskQueryParams{ID: task.ID})
			if err != nil {
				return nil, fmt.Errorf("get task: %w", err)
			}
		}
		return taskResult(task)
	default:
		return nil, fmt.Errorf("unexpected send result %T", result)
	}
}

// settled reports whether polling can stop. Tasks waiting for input or
// auth do not progress without the caller.
func settled(state a2a.TaskState) bool {
	return state.Terminal() || state == a2a.TaskStateInputRequired || state == a2a.TaskStateAuthRequired
}

func taskResult(task *a2a.Task) (*remoteResult, error) {
	if err := statusError(task.Status); err != nil {
		return nil, err
	}

	res := &remoteResult{taskID: string(task.ID), contextID: task.ContextID}

	for _, artifact := range task.Artifacts {
		res.parts = appendParts(res.parts, fromA2AParts(artifact.Parts)...)
	}

	if len(res.parts) == 0 && task.Status.Message != nil {
		res.parts = appendParts(res.parts, fromA2AParts(task.Status.Message.Parts)...)
	}

	return res, nil
}

// stream consumes message/stream. emitted reports whether partial events
// already reached the caller, in which case the send is not retried.
func (p *ProxyAgent) stream(
	ctx context.Context,
	runCtx *core.RunContext,
	client *a2aclient.Client,
	msg *a2a.Message,
) (*remoteResult, bool, error) {
	res := &remoteResult{}
	emitted := false

	var statusParts []core.Part

	for event, err := range client.SendStreamingMessage(ctx, &a2a.MessageSendParams{Message: msg}) {
		if err != nil {
			return nil, emitted, fmt.Errorf("stream message: %w", err)
		}

		switch v := event.(type) {
		case *a2a.Message:
			res.taskID, res.contextID = string(v.TaskID), v.ContextID
			res.parts = appendParts(res.parts, fromA2AParts(v.Parts)...)
		case *a2a.Task:
			res.taskID, res.contextID = string(v.ID), v.ContextID
			if v.Status.State.Terminal() {
				final, err := taskResult(v)
				if err != nil {
					return nil, emitted, err
				}
				if len(res.parts) == 0 {
					res.parts = final.parts
				}
			}
		case *a2a.TaskArtifactUpdateEvent:
			res.taskID, res.contextID = string(v.TaskID), v.ContextID
			if len(v.Artifact.Parts) == 0 {
				continue
			}
			chunk := fromA2AParts(v.Artifact.Parts)
			res.parts = appendParts(res.parts, chunk...)
			if err := p.emitPartial(runCtx, chunk); err != nil {
				return nil, emitted, err
			}
			emitted = true
		case *a2a.TaskStatusUpdateEvent:
			res.taskID, res.contextID = string(v.TaskID), v.ContextID
			if err := statusError(v.Status); err != nil {
				return nil, emitted, err
			}
			if v.Status.Message != nil {
				statusParts = appendParts(statusParts, fromA2AParts(v.Status.Message.Parts)...)
			}
		}
	}

	if len(res.parts) == 0 {
		res.parts = statusParts
	}

	return res, emitted, nil
}

func (p *ProxyAgent) emitPartial(runCtx *core.RunContext, parts []core.Part) error {
	ev := core.NewEvent(runCtx.RunID, p.Name())
	ev.Content = &core.Content{Role: core.RoleAssistant, Parts: parts}
	ev.Partial = core.Ptr(true)
	return runCtx.EmitEvent(ev)
}

// finish saves returned files, stores the output key and emits the final
// event.
func (p *ProxyAgent) finish(runCtx *core.RunContext, res *remoteResult) error {
	for i, part := range res.parts {
		fp, ok := part.(core.FilePart)
		if !ok || fp.File.Bytes == "" {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(fp.File.Bytes)
		if err != nil {
			return fmt.Errorf("decode file %q: %w", fp.File.Name, err)
		}

		id := fp.File.Name
		if id == "" {
			id = fmt.Sprintf("%s-%s-%d", p.Name(), res.taskID, i)
		}

		if err := runCtx.SaveArtifact(id, data); err != nil {
			return fmt.Errorf("save artifact %s: %w", id, err)
		}
	}

	text := partsText(res.parts)

	if p.outputKey != "" {
		runCtx.SetState(p.outputKey, text)
	}

	ev := core.NewEvent(runCtx.RunID, p.Name())
	ev.Content = &core.Content{Role: core.RoleAssistant, Parts: res.parts}
	ev.TurnComplete = core.Ptr(true)
	ev.CustomMetadata = map[string]string{
		MetadataTaskID:    res.taskID,
		MetadataContextID: res.contextID,
	}

	runCtx.LogDebug("a2a.proxy.complete", "agent", p.Name(), "task_id", res.taskID, "chars", len(text))

	return runCtx.EmitEvent(ev)
}

func (p *ProxyAgent) buildMessage(runCtx *core.RunContext) (*a2a.Message, error) {
	parts := toA2AParts(runCtx.UserContent.Parts)

	for _, key := range p.contextKeys {
		v, ok := runCtx.GetState(key)
		if !ok {
			continue
		}
		parts = append(parts, a2a.TextPart{Text: fmt.Sprintf("%s:\n%v", key, v)})
	}

	if len(parts) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := a2a.NewMessage(a2a.MessageRoleUser, parts...)
	msg.ContextID = runCtx.SessionID

	return msg, nil
}

// resolveCard returns the cached card or loads it once.
func (p *ProxyAgent) resolveCard(ctx context.Context) (*a2a.AgentCard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.card != nil {
		return p.card, nil
	}

	var (
		card *a2a.AgentCard
		err  error
	)

	if p.cardFile != "" {
		card, err = readCardFile(p.cardFile)
	} else {
		card, err = agentcard.NewResolver(p.httpClient).Resolve(ctx, p.url)
		if err != nil {
			err = fmt.Errorf("resolve agent card from %s: %w", p.url, err)
		}
	}

	if err != nil {
		return nil, err
	}

	if card.URL == "" {
		card.URL = p.url
	}

	p.logger.Debug("a2a.card.resolved", "agent", p.Name(), "peer", card.Name, "url", card.URL)
	p.card = card

	return card, nil
}

func readCardFile(path string) (*a2a.AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent card %s: %w", path, err)
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card %s: %w", path, err)
	}

	return &card, nil
}

func statusError(status a2a.TaskStatus) error {
	switch status.State {
	case a2a.TaskStateFailed, a2a.TaskStateRejected, a2a.TaskStateCanceled:
	default:
		return nil
	}

	detail := string(status.State)
	if status.Message != nil {
		if text := partsText(fromA2AParts(status.Message.Parts)); text != "" {
			detail += ": " + text
		}
	}

	return fmt.Errorf("%w: %s", ErrRemoteTask, detail)
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrRemoteTask)
}

// headerTransport sets fixed headers on every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
