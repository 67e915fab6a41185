package provider

import (
	"context"
	"testing"

	"github.com/kaiho/agentloop/internal/policy"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	resp *Response
	err  error
	got  Request
}

func (f *fakeClient) Send(ctx context.Context, req Request) (*Response, error) {
	f.got = req
	return f.resp, f.err
}

func TestRouter_ResolveByPurpose(t *testing.T) {
	r := NewRouter()
	require.Equal(t, NameAnthropic, r.Resolve(policy.PurposeDev, ""))
	require.Equal(t, NameGrok, r.Resolve(policy.PurposeDefault, ""))
	require.Equal(t, NameGrok, r.Resolve(policy.PurposeHeartbeat, ""))
	require.Equal(t, NameGrok, r.Resolve(policy.PurposeRuntime, ""))
}

func TestRouter_ExplicitOverrideWinsOverPurpose(t *testing.T) {
	r := NewRouter()
	require.Equal(t, NameGrok, r.Resolve(policy.PurposeDev, NameGrok))
}

func TestRouter_Send_FillsDefaultModelAndPlaceholderTurn(t *testing.T) {
	r := NewRouter()
	fc := &fakeClient{resp: &Response{Message: TextMessage("assistant", "hi")}}
	r.Register(NameGrok, fc, "grok-default")

	_, err := r.Send(context.Background(), policy.PurposeDefault, "", Request{
		Messages: []Message{TextMessage("assistant", "previous turn")},
	})
	require.NoError(t, err)
	require.Equal(t, "grok-default", fc.got.Model)
	require.Len(t, fc.got.Messages, 2)
	require.Equal(t, "user", fc.got.Messages[0].Role)
}

func TestRouter_Send_NoPlaceholderWhenUserTurnPresent(t *testing.T) {
	r := NewRouter()
	fc := &fakeClient{resp: &Response{Message: TextMessage("assistant", "hi")}}
	r.Register(NameAnthropic, fc, "claude-default")

	_, err := r.Send(context.Background(), policy.PurposeDev, "", Request{
		Messages: []Message{TextMessage("user", "hello")},
	})
	require.NoError(t, err)
	require.Len(t, fc.got.Messages, 1)
}

func TestRouter_Send_UnknownProvider(t *testing.T) {
	r := NewRouter()
	_, err := r.Send(context.Background(), policy.PurposeDev, "", Request{})
	require.Error(t, err)
}

func TestUsage_NormalizeFillsTotal(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}.Normalize()
	require.Equal(t, 15, u.TotalTokens)
}

func TestWireUsageShapes_AllNormalizeToCanonical(t *testing.T) {
	require.Equal(t, Usage{10, 5, 15}, wireUsagePromptCompletion{PromptTokens: 10, CompletionTokens: 5}.toUsage())
	require.Equal(t, Usage{10, 5, 15}, wireUsageInputOutput{InputTokens: 10, OutputTokens: 5}.toUsage())
	require.Equal(t, Usage{10, 5, 15}, wireUsageCamel{InputTokens: 10, OutputTokens: 5}.toUsage())
}
