package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseResponseToolRequest(t *testing.T) {
	raw := `Sure, I'll look that up.
{"type":"tool_request","id":"r1","tool_calls":[{"id":"c1","name":"web_search","arguments":{"query":"boiling point"}}]}`
	parsed, err := ParseResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed.Request)
	require.Nil(t, parsed.Final)
	require.Equal(t, "r1", parsed.Request.ID)
	require.Len(t, parsed.Request.ToolCalls, 1)
	require.Equal(t, "web_search", parsed.Request.ToolCalls[0].Name)
	require.Equal(t, "boiling point", parsed.Request.ToolCalls[0].Arguments["query"])
}

func TestParseResponseFinal(t *testing.T) {
	parsed, err := ParseResponse(`{"type":"final","id":"f1","answer":"Water boils at 100C."}`)
	require.NoError(t, err)
	require.NotNil(t, parsed.Final)
	require.Equal(t, "Water boils at 100C.", parsed.Final.Answer)
}

func TestParseResponseRejectsUnknownShape(t *testing.T) {
	cases := []string{
		`no json here at all`,
		`{"type":"banana","id":"x"}`,
		`{"id":"x","answer":"missing type"}`,
		`{"type":"tool_request","id":"x","tool_calls":[]}`,
	}
	for _, raw := range cases {
		_, err := ParseResponse(raw)
		require.Error(t, err, "input %q must violate the contract", raw)
		var ce *ContractError
		require.ErrorAs(t, err, &ce)
	}
}

func TestParseResponseRejectsUnknownFields(t *testing.T) {
	_, err := ParseResponse(`{"type":"final","id":"f1","answer":"a","extra":"nope"}`)
	require.Error(t, err)
}

func TestParseResponseCallCountBounds(t *testing.T) {
	var calls []string
	for i := 0; i < 7; i++ {
		calls = append(calls, `{"id":"c","name":"t","arguments":{}}`)
	}
	raw := `{"type":"tool_request","id":"r","tool_calls":[` + strings.Join(calls, ",") + `]}`
	_, err := ParseResponse(raw)
	require.Error(t, err, "more than 6 calls is a violation")

	ok := `{"type":"tool_request","id":"r","tool_calls":[` + strings.Join(calls[:6], ",") + `]}`
	_, err = ParseResponse(ok)
	require.NoError(t, err)
}

func TestParseResponseFieldCaps(t *testing.T) {
	longID := strings.Repeat("i", 65)
	_, err := ParseResponse(`{"type":"final","id":"` + longID + `","answer":"a"}`)
	require.Error(t, err)

	longAnswer := strings.Repeat("a", maxAnswerLen+100)
	parsed, err := ParseResponse(`{"type":"final","id":"f","answer":"` + longAnswer + `"}`)
	require.NoError(t, err)
	require.Len(t, parsed.Final.Answer, maxAnswerLen, "oversized answers are truncated, not rejected")
}

func TestParseResponseNamelessCall(t *testing.T) {
	_, err := ParseResponse(`{"type":"tool_request","id":"r","tool_calls":[{"id":"c","name":"","arguments":{}}]}`)
	require.Error(t, err)
}
