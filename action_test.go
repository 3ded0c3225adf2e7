package dunning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionKind(t *testing.T) {
	cases := map[string]ActionKind{
		"email":           ActionEmail,
		" SMS ":           ActionSMS,
		"suspend-service": ActionSuspendService,
		"suspend_service": ActionSuspendService,
	}
	for in, want := range cases {
		got, ok := ParseActionKind(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseActionKind("fax")
	assert.False(t, ok)
	assert.Equal(t, []ActionKind{ActionEmail, ActionSMS, ActionSuspendService}, ActionKinds())
}

func TestActionValidate(t *testing.T) {
	require.NoError(t, EmailAction(0, "tpl").Validate())
	require.NoError(t, SMSAction(2, "tpl").Validate())
	require.NoError(t, SuspendServiceAction(7, "").Validate())

	bad := []Action{
		{Kind: "fax"},
		EmailAction(-1, "tpl"),
		{Kind: ActionEmail},
		EmailAction(0, " "),
		{Kind: ActionSMS, SMS: &SMSConfig{}},
		{Kind: ActionSuspendService},
		{Kind: ActionEmail, Email: &EmailConfig{TemplateRef: "a"}, SMS: &SMSConfig{TemplateRef: "b"}},
	}
	for i, a := range bad {
		assert.Error(t, a.Validate(), "case %d", i)
	}
}

func TestValidateActionsOrdering(t *testing.T) {
	assert.Error(t, ValidateActions(nil))
	assert.NoError(t, ValidateActions([]Action{EmailAction(0, "a"), SMSAction(0, "b"), SuspendServiceAction(3, "")}))

	err := ValidateActions([]Action{EmailAction(5, "a"), SMSAction(2, "b")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action 1")
}

func TestCloneActionsIsDeep(t *testing.T) {
	in := []Action{EmailAction(0, "a")}
	out := CloneActions(in)
	out[0].Email.TemplateRef = "changed"
	assert.Equal(t, "a", in[0].TemplateRef())
	assert.Nil(t, CloneActions(nil))
}
