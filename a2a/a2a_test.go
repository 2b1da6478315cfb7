package a2a

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/auditmesh/agent"
	"github.com/hupe1980/auditmesh/artifact"
	"github.com/hupe1980/auditmesh/config"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/internal/testutil"
	"github.com/hupe1980/auditmesh/metrics"
	"github.com/hupe1980/auditmesh/model"
	"github.com/hupe1980/auditmesh/runner"
	"github.com/hupe1980/auditmesh/session"
)

// peer is a remote A2A agent served by httptest.
type peer struct {
	ts *httptest.Server

	failPosts atomic.Int32
	failGets  atomic.Int32
	posts     atomic.Int32

	mu          sync.Mutex
	cardHeaders http.Header
	postHeaders http.Header
}

func newPeer(t *testing.T, a core.Agent) *peer {
	t.Helper()

	p := &peer{ts: httptest.NewUnstartedServer(nil)}
	url := "http://" + p.ts.Listener.Addr().String()

	srv := NewServer(runner.New(a), func(o *ServerOptions) {
		o.PublicURL = url
		o.Metrics = metrics.New()
	})
	handler := srv.Handler()

	p.ts.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			p.mu.Lock()
			p.cardHeaders = r.Header.Clone()
			p.mu.Unlock()

			if p.failGets.Load() > 0 {
				p.failGets.Add(-1)
				http.Error(w, "starting", http.StatusServiceUnavailable)
				return
			}
		}

		if r.Method == http.MethodPost {
			p.posts.Add(1)
			p.mu.Lock()
			p.postHeaders = r.Header.Clone()
			p.mu.Unlock()

			if p.failPosts.Load() > 0 {
				p.failPosts.Add(-1)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		handler.ServeHTTP(w, r)
	})
	p.ts.Start()
	t.Cleanup(p.ts.Close)

	return p
}

func (p *peer) cardHeader(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cardHeaders.Get(key)
}

func (p *peer) postHeader(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postHeaders.Get(key)
}

func newCritic(reply string, streaming bool) (*agent.ModelAgent, *model.MockModel) {
	llm := model.NewMockModel("critic-llm", "mock")
	llm.Script(model.Response{Content: core.NewTextContent(core.RoleAssistant, reply)})

	return agent.NewModelAgent("critic", llm, func(o *agent.ModelAgentOptions) {
		o.Description = config.DefaultCriticDescription
		o.EnableStreaming = streaming
	}), llm
}

func runProxy(t *testing.T, proxy core.Agent, store core.SessionStore, text string) ([]core.Event, error) {
	t.Helper()

	if store == nil {
		store = session.NewInMemoryStore()
	}

	r := runner.New(proxy, func(o *runner.Options) { o.SessionStore = store })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, events, errs, err := r.Run(ctx, "s1", core.NewTextContent(core.RoleUser, text))
	require.NoError(t, err)

	var all []core.Event
	for ev := range events {
		all = append(all, ev)
	}

	return all, <-errs
}

func finalEvent(t *testing.T, events []core.Event) core.Event {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].IsPartial() {
			return events[i]
		}
	}
	t.Fatalf("no final event in %d events", len(events))
	return core.Event{}
}

func TestServer_Endpoints(t *testing.T) {
	critic, _ := newCritic("ok", false)
	p := newPeer(t, critic)

	for _, path := range []string{"/.well-known/agent-card.json", LegacyAgentCardPath} {
		resp, err := http.Get(p.ts.URL + path)
		require.NoError(t, err)

		var card map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "critic", card["name"])
		assert.Equal(t, p.ts.URL, card["url"])
	}

	resp, err := http.Get(p.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(p.ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestBuildAgentCard_Skills(t *testing.T) {
	auditor := agent.NewSequentialAgent(config.DefaultAuditorName, config.DefaultAuditorDescription,
		testutil.NewReplyAgent("critic", "x"), testutil.NewReplyAgent("reviser", "y"))

	card := BuildAgentCard(auditor, "http://localhost:9000", "1.2.3", true)

	assert.Equal(t, config.DefaultAuditorName, card.Name)
	assert.Equal(t, "http://localhost:9000", card.URL)
	assert.True(t, card.Capabilities.Streaming)
	require.Len(t, card.Skills, 3)
	assert.Equal(t, "critic", card.Skills[1].Name)
	assert.Equal(t, "reviser", card.Skills[2].Name)
}

func TestProxyAgent_Send(t *testing.T) {
	critic, _ := newCritic("The answer is accurate.", false)
	p := newPeer(t, critic)

	m := metrics.New()
	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.OutputKey = config.DefaultCriticOutputKey
		o.Metrics = m
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	store := session.NewInMemoryStore()
	events, err := runProxy(t, proxy, store, "Paris is the capital of France.")
	require.NoError(t, err)

	final := finalEvent(t, events)
	assert.Equal(t, "critic", final.Author)
	assert.Equal(t, "The answer is accurate.", final.Content.Text())
	assert.NotEmpty(t, final.CustomMetadata[MetadataTaskID])

	sess, err := store.Get("s1")
	require.NoError(t, err)
	v, ok := sess.GetState(config.DefaultCriticOutputKey)
	require.True(t, ok)
	assert.Equal(t, "The answer is accurate.", v)
}

func TestProxyAgent_Streaming(t *testing.T) {
	critic, _ := newCritic("verified", true)
	p := newPeer(t, critic)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Streaming = true
		o.OutputKey = "critic_result"
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)

	var partial int
	for _, ev := range events {
		if ev.IsPartial() {
			partial++
		}
	}

	assert.Positive(t, partial)
	assert.Equal(t, "verified", partsText(finalEvent(t, events).Content.Parts))
}

func TestProxyAgent_RemoteFailure(t *testing.T) {
	critic, llm := newCritic("", false)
	llm.FailWith(assert.AnError)
	p := newPeer(t, critic)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Retries = 2
		o.RetryBackoff = time.Millisecond
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteTask)

	last := events[len(events)-1]
	require.True(t, last.IsError())
	assert.Equal(t, core.ErrorCodeA2A, *last.ErrorCode)
}

func TestProxyAgent_RetriesTransientFailures(t *testing.T) {
	critic, _ := newCritic("ok after retry", false)
	p := newPeer(t, critic)
	p.failPosts.Store(2)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Retries = 2
		o.RetryBackoff = time.Millisecond
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)
	assert.Equal(t, "ok after retry", finalEvent(t, events).Content.Text())
	assert.GreaterOrEqual(t, p.posts.Load(), int32(3))
}

func TestProxyAgent_RetriesExhausted(t *testing.T) {
	critic, _ := newCritic("never", false)
	p := newPeer(t, critic)
	p.failPosts.Store(10)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Retries = 1
		o.RetryBackoff = time.Millisecond
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.Error(t, err)
	assert.True(t, events[len(events)-1].IsError())
	assert.Equal(t, int32(2), p.posts.Load())
}

func TestProxyAgent_ContextKeysAndHeaders(t *testing.T) {
	reviser, llm := newCritic("revised answer", false)
	p := newPeer(t, reviser)

	proxy, err := NewProxyAgent("reviser", p.ts.URL, func(o *ProxyOptions) {
		o.ContextKeys = []string{"critic_result", "missing"}
		o.Headers = map[string]string{"X-Api-Key": "secret"}
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	store := session.NewInMemoryStore()
	require.NoError(t, testutil.NewSessionBuilder("s1").State("critic_result", "claim is outdated").Seed(store))

	_, err = runProxy(t, proxy, store, "original answer")
	require.NoError(t, err)

	reqs := llm.Requests()
	require.NotEmpty(t, reqs)
	last := reqs[0].Contents[len(reqs[0].Contents)-1].Text()
	assert.Contains(t, last, "original answer")
	assert.Contains(t, last, "critic_result:\nclaim is outdated")
	assert.NotContains(t, last, "missing")

	assert.Equal(t, "secret", p.cardHeader("X-Api-Key"))
	assert.Equal(t, "secret", p.postHeader("X-Api-Key"))
}

func TestProxyAgent_StreamingSendsHeaders(t *testing.T) {
	critic, _ := newCritic("streamed", true)
	p := newPeer(t, critic)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Streaming = true
		o.Headers = map[string]string{"Authorization": "Bearer token"}
	})
	require.NoError(t, err)

	_, err = runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)

	assert.Equal(t, "Bearer token", p.postHeader("Authorization"))
}

// countingTransport counts requests passing through a caller's client.
type countingTransport struct {
	posts atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		c.posts.Add(1)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestProxyAgent_UsesHTTPClientForMessages(t *testing.T) {
	critic, _ := newCritic("ok", false)
	p := newPeer(t, critic)

	rt := &countingTransport{}
	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	_, err = runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)

	assert.Equal(t, p.posts.Load(), rt.posts.Load())
	assert.Positive(t, rt.posts.Load())
}

func TestProxyAgent_DefaultClientHasNoTimeout(t *testing.T) {
	proxy, err := NewProxyAgent("critic", "http://critic", func(o *ProxyOptions) {
		o.Headers = map[string]string{"X-Api-Key": "secret"}
	})
	require.NoError(t, err)

	assert.Zero(t, proxy.httpClient.Timeout)
}

func TestProxyAgent_SlowPeerWithinTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a slow peer")
	}

	slow := &testutil.FuncAgent{
		AgentName: "critic",
		RunFunc: func(runCtx *core.RunContext) error {
			select {
			case <-time.After(6 * time.Second):
			case <-runCtx.Context.Done():
				return runCtx.Context.Err()
			}
			return runCtx.EmitEvent(core.NewMessageEvent(runCtx.RunID, "critic", "checked slowly"))
		},
	}
	p := newPeer(t, slow)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Timeout = 30 * time.Second
		o.PollInterval = 50 * time.Millisecond
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)
	assert.Equal(t, "checked slowly", finalEvent(t, events).Content.Text())
}

func TestProxyAgent_RetriesCardResolution(t *testing.T) {
	critic, _ := newCritic("ready now", false)
	p := newPeer(t, critic)
	p.failGets.Store(2)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.Retries = 2
		o.RetryBackoff = time.Millisecond
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check this")
	require.NoError(t, err)
	assert.Equal(t, "ready now", finalEvent(t, events).Content.Text())
}

func TestProxyAgent_CardResolutionWithoutRetries(t *testing.T) {
	critic, _ := newCritic("never", false)
	p := newPeer(t, critic)
	p.failGets.Store(1)

	proxy, err := NewProxyAgent("critic", p.ts.URL)
	require.NoError(t, err)

	_, err = runProxy(t, proxy, nil, "check this")
	require.Error(t, err)
	assert.Zero(t, p.posts.Load())
}

func TestSettled(t *testing.T) {
	tests := []struct {
		state a2a.TaskState
		want  bool
	}{
		{a2a.TaskStateSubmitted, false},
		{a2a.TaskStateWorking, false},
		{a2a.TaskStateInputRequired, true},
		{a2a.TaskStateAuthRequired, true},
		{a2a.TaskStateCompleted, true},
		{a2a.TaskStateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, settled(tt.state))
		})
	}
}

func TestExecutor_ErrorEventWithoutMessage(t *testing.T) {
	failing := &testutil.FuncAgent{
		AgentName: "critic",
		RunFunc: func(runCtx *core.RunContext) error {
			return runCtx.EmitEvent(testutil.NewEventBuilder("critic").Invocation(runCtx.RunID).ErrorCode("UPSTREAM_ERROR").Build())
		},
	}
	p := newPeer(t, failing)

	proxy, err := NewProxyAgent("critic", p.ts.URL, func(o *ProxyOptions) {
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	_, err = runProxy(t, proxy, nil, "check this")
	require.ErrorIs(t, err, ErrRemoteTask)
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
}

func TestProxyAgent_CardFile(t *testing.T) {
	critic, _ := newCritic("from card file", false)
	p := newPeer(t, critic)

	card := BuildAgentCard(critic, p.ts.URL, "1.0.0", false)
	data, err := json.Marshal(card)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "critic.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	proxy, err := NewProxyAgentFromConfig(config.RemoteAgentConfig{
		Name:      "critic",
		AgentCard: path,
		OutputKey: "critic_result",
	}, func(o *ProxyOptions) { o.PollInterval = 20 * time.Millisecond })
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check")
	require.NoError(t, err)
	assert.Equal(t, "from card file", finalEvent(t, events).Content.Text())
	assert.Equal(t, "critic_result", proxy.OutputKey())
}

func TestProxyAgent_SavesFileArtifacts(t *testing.T) {
	reporter := &testutil.FuncAgent{
		AgentName: "reporter",
		RunFunc: func(runCtx *core.RunContext) error {
			ev := core.NewEvent(runCtx.RunID, "reporter")
			ev.Content = &core.Content{Role: core.RoleAssistant, Parts: []core.Part{
				core.TextPart{Text: "see report"},
				core.FilePart{File: core.FilePartFile{
					Name:     "report.txt",
					MimeType: "text/plain",
					Bytes:    base64.StdEncoding.EncodeToString([]byte("all claims verified")),
				}},
			}}
			return runCtx.EmitEvent(ev)
		},
	}
	p := newPeer(t, reporter)

	proxy, err := NewProxyAgent("reporter", p.ts.URL, func(o *ProxyOptions) {
		o.PollInterval = 20 * time.Millisecond
	})
	require.NoError(t, err)

	artifacts := artifact.NewInMemoryStore()
	r := runner.New(proxy, func(o *runner.Options) { o.ArtifactStore = artifacts })

	_, events, errs, err := r.Run(context.Background(), "s1", core.NewTextContent(core.RoleUser, "report"))
	require.NoError(t, err)
	got, err := runner.Collect(context.Background(), events, errs)
	require.NoError(t, err)

	final := got[len(got)-1]
	assert.Equal(t, 1, final.Actions.ArtifactDelta["report.txt"])

	data, err := artifacts.Get("s1", "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "all claims verified", string(data))
}

func TestProxyAgent_UnreachablePeer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	proxy, err := NewProxyAgent("critic", url, func(o *ProxyOptions) { o.Timeout = time.Second })
	require.NoError(t, err)

	events, err := runProxy(t, proxy, nil, "check")
	require.Error(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, core.ErrorCodeA2A, *events[len(events)-1].ErrorCode)
}

func TestNewProxyAgent_Validation(t *testing.T) {
	_, err := NewProxyAgent("", "http://critic")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewProxyAgent("critic", "")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewProxyAgent("critic", "http://critic", func(o *ProxyOptions) { o.Retries = -1 })
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	proxy, err := NewProxyAgent("critic", config.DefaultCriticURL+"/", func(o *ProxyOptions) {
		o.Description = config.DefaultCriticDescription
	})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCriticURL, proxy.URL())
	assert.Equal(t, config.DefaultCriticDescription, proxy.Description())
	assert.Equal(t, core.AgentInfo{Name: "critic", Type: "a2a"}, proxy.Info())
}
