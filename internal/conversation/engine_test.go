package conversation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dealer-sms-agent/internal/events"
)

func testEngine() *Engine {
	return NewEngine(Persona{
		AgentName:         "Jerry",
		DealershipName:    "Foothills Motors",
		DealershipAddress: "100 Main St",
		DealershipHours:   "Mon-Sat 9-7",
		InventoryURL:      "https://example.com/inventory",
	})
}

func freshConversation() Conversation {
	return Conversation{
		ID:            uuid.New(),
		CustomerPhone: "+14035550100",
		Status:        StatusActive,
		Stage:         StageGreeting,
	}
}

// step applies a decision the way a committed turn would.
func step(t *testing.T, e *Engine, conv *Conversation, body string) Decision {
	t.Helper()
	d := e.Decide(*conv, body)
	d.Patch.Apply(conv)
	return d
}

func TestEngineHappyPathTestDrive(t *testing.T) {
	e := testEngine()
	conv := freshConversation()

	d := step(t, e, &conv, "I want an SUV")
	assert.Equal(t, OutcomeAdvanced, d.Outcome)
	assert.Contains(t, d.Reply, "budget")
	assert.Equal(t, "SUV", conv.VehicleType)
	assert.Equal(t, StageBudget, conv.Stage)

	d = step(t, e, &conv, "40k")
	assert.Contains(t, d.Reply, "1) Book a test drive")
	require.NotNil(t, conv.BudgetAmount)
	assert.Equal(t, int64(40000), *conv.BudgetAmount)
	assert.Equal(t, Budget30kTo50k, conv.Budget)
	assert.Equal(t, StageAppointment, conv.Stage)

	d = step(t, e, &conv, "1")
	assert.Contains(t, d.Reply, "name")
	assert.Equal(t, IntentTestDrive, conv.Intent)
	assert.Equal(t, StageName, conv.Stage)

	d = step(t, e, &conv, "Jane Doe")
	assert.Contains(t, d.Reply, "When would you like to come in")
	assert.Equal(t, "Jane doe", conv.CustomerName)
	assert.Equal(t, "Jane doe", d.CustomerName)
	assert.Equal(t, StageDatetime, conv.Stage)

	d = step(t, e, &conv, "tomorrow morning")
	assert.Equal(t, OutcomeFinalized, d.Outcome)
	require.NotNil(t, d.Finalization)
	assert.Equal(t, FinalizationAppointment, d.Finalization.Kind)
	assert.Equal(t, conv.ID, d.Finalization.ConversationID)
	assert.Equal(t, "Jane doe", d.Finalization.Name)
	assert.Equal(t, "SUV", d.Finalization.VehicleType)
	assert.Equal(t, Budget30kTo50k, d.Finalization.Budget)
	assert.Equal(t, int64(40000), *d.Finalization.BudgetAmount)
	assert.Equal(t, "Tomorrow morning", d.Finalization.PreferredDatetime)
	assert.False(t, d.Finalization.Rescheduled)
	assert.Equal(t, "Tomorrow morning", conv.Datetime)
	assert.Equal(t, StatusConverted, conv.Status)
	assert.Equal(t, StageConfirmed, conv.Stage)
	require.Len(t, d.Events, 1)
	assert.Equal(t, events.AnalyticsAppointmentBooked, d.Events[0].Type)
}

func TestEngineCallbackFinalization(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	step(t, e, &conv, "truck")
	step(t, e, &conv, "something cheap")
	assert.Equal(t, BudgetUnder30k, conv.Budget)
	assert.Nil(t, conv.BudgetAmount)

	d := step(t, e, &conv, "2")
	assert.Equal(t, IntentCallback, conv.Intent)
	d = step(t, e, &conv, "my name is sam")
	assert.Contains(t, d.Reply, "call you")
	d = step(t, e, &conv, "today afternoon")
	require.NotNil(t, d.Finalization)
	assert.Equal(t, FinalizationCallback, d.Finalization.Kind)
	assert.Equal(t, events.AnalyticsCallbackRequested, d.Events[0].Type)
	assert.Equal(t, "Today afternoon", conv.Datetime)
}

func TestEngineStageMonotonic(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	inputs := []string{"hello", "a sedan", "no idea", "$45,000", "what?", "test drive", "?!", "Jane", "", "this weekend", "thanks"}
	last := conv.Stage.Rank()
	for _, in := range inputs {
		step(t, e, &conv, in)
		require.GreaterOrEqual(t, conv.Stage.Rank(), last, "stage regressed on %q", in)
		require.LessOrEqual(t, conv.Stage.Rank()-last, 1, "stage skipped on %q", in)
		last = conv.Stage.Rank()
	}
	assert.Equal(t, StageConfirmed, conv.Stage)
}

func TestEngineRepromptsNeverMutate(t *testing.T) {
	e := testEngine()
	cases := []struct {
		stage Stage
		body  string
	}{
		{StageGreeting, "hello there"},
		{StageGreeting, ""},
		{StageBudget, "no idea"},
		{StageAppointment, "maybe"},
		{StageName, "12345 !!"},
		{StageDatetime, "   "},
		{Stage("bogus"), "anything"},
	}
	for _, tc := range cases {
		conv := freshConversation()
		conv.Stage = tc.stage
		d := e.Decide(conv, tc.body)
		assert.Equal(t, OutcomeReprompt, d.Outcome, "%s/%q", tc.stage, tc.body)
		assert.NotEmpty(t, d.Reply)
		assert.False(t, d.Mutates(), "%s/%q mutated state", tc.stage, tc.body)
	}
}

func TestEngineFallbackAsksForEverything(t *testing.T) {
	d := testEngine().Decide(freshConversation(), "hello")
	assert.Contains(t, d.Reply, "SUV")
	assert.Contains(t, d.Reply, "budget")
	assert.Contains(t, d.Reply, "test drive")
}

func TestEngineGreetingVehicleKeywords(t *testing.T) {
	e := testEngine()
	cases := map[string]string{
		"Looking for an SUV":        "SUV",
		"need a pickup":             "Truck",
		"Sedans?":                   "Sedan",
		"yes I want a car":          "Car",
		"yeah interested":           "Vehicle",
		"I'm shopping for a truck!": "Truck",
	}
	for body, want := range cases {
		d := e.Decide(freshConversation(), body)
		require.NotNil(t, d.Patch.VehicleType, body)
		assert.Equal(t, want, *d.Patch.VehicleType, body)
	}
}

func TestEngineOptOutAtAnyStage(t *testing.T) {
	e := testEngine()
	for _, stage := range []Stage{StageGreeting, StageBudget, StageAppointment, StageName, StageDatetime, StageConfirmed} {
		conv := freshConversation()
		conv.Stage = stage
		before := conv
		d := e.Decide(conv, "STOP")
		assert.Equal(t, OutcomeOptedOut, d.Outcome)
		assert.Contains(t, d.Reply, "unsubscribed")
		d.Patch.Apply(&conv)
		assert.Equal(t, StatusStopped, conv.Status)
		conv.Status = before.Status
		assert.Equal(t, before, conv, "opt-out touched more than status at %s", stage)
		assert.Nil(t, d.Finalization)
		require.Len(t, d.Events, 1)
		assert.Equal(t, events.AnalyticsOptedOut, d.Events[0].Type)
	}
}

func TestEngineOptOutKeywords(t *testing.T) {
	e := testEngine()
	for _, body := range []string{"stop", "Stop!", "Stop texting me", "please stop messaging", "STOPALL", "unsubscribe", "END", "quit."} {
		assert.Equal(t, OutcomeOptedOut, e.Decide(freshConversation(), body).Outcome, body)
	}
	for _, body := range []string{"stopping by tomorrow", "Stop by tomorrow morning", "end of the week", "can I cancel"} {
		assert.NotEqual(t, OutcomeOptedOut, e.Decide(freshConversation(), body).Outcome, body)
	}
}

func TestEngineStoppedIsSilentUntilResume(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	conv.Stage = StageBudget
	conv.VehicleType = "SUV"
	conv.Status = StatusStopped

	for _, body := range []string{"40k", "hello", "STOP", "where are you"} {
		d := e.Decide(conv, body)
		assert.Equal(t, OutcomeSilent, d.Outcome, body)
		assert.Empty(t, d.Reply)
		assert.False(t, d.Mutates())
	}

	d := e.Decide(conv, "START")
	assert.Equal(t, OutcomeResumed, d.Outcome)
	assert.Contains(t, d.Reply, "Welcome back!")
	assert.Contains(t, d.Reply, "spend")
	require.NotNil(t, d.Patch.Status)
	assert.Equal(t, StatusActive, *d.Patch.Status)
	assert.Nil(t, d.Patch.Stage)
}

func TestEngineResumeConfirmedKeepsConverted(t *testing.T) {
	conv := freshConversation()
	conv.Stage = StageConfirmed
	conv.Datetime = "This weekend"
	conv.Status = StatusStopped
	d := testEngine().Decide(conv, "unstop")
	require.NotNil(t, d.Patch.Status)
	assert.Equal(t, StatusConverted, *d.Patch.Status)
	assert.Contains(t, d.Reply, "This weekend")
}

func TestEngineLocationInterrupt(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	conv.Stage = StageAppointment
	d := e.Decide(conv, "Where are you located?")
	assert.Equal(t, OutcomeInterrupt, d.Outcome)
	assert.Contains(t, d.Reply, "100 Main St")
	assert.Contains(t, d.Reply, "Mon-Sat 9-7")
	assert.False(t, d.Mutates())
}

func TestEngineLocationHoursNeedQuestion(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	conv.Stage = StageAppointment
	for _, body := range []string{"What are your hours?", "when are you open", "hours of operation?"} {
		assert.Equal(t, OutcomeInterrupt, e.Decide(conv, body).Outcome, body)
	}
}

func TestEngineDatetimeAnswersAreNotInterrupts(t *testing.T) {
	e := testEngine()
	for _, body := range []string{"Stop by tomorrow morning", "in a couple hours", "after work hours"} {
		conv := freshConversation()
		conv.Stage = StageDatetime
		conv.Intent = IntentTestDrive
		conv.CustomerName = "Jane"
		d := e.Decide(conv, body)
		assert.Equal(t, OutcomeFinalized, d.Outcome, body)
		require.NotNil(t, d.Finalization, body)
		require.NotNil(t, d.Patch.Status, body)
		assert.Equal(t, StatusConverted, *d.Patch.Status, body)
	}
}

func TestEngineBudgetWithoutAmountReprompts(t *testing.T) {
	e := testEngine()
	for _, body := range []string{"not sure about my budget yet", "no budget in mind", "whats the top price"} {
		conv := freshConversation()
		conv.Stage = StageBudget
		conv.VehicleType = "SUV"
		d := e.Decide(conv, body)
		assert.Equal(t, OutcomeReprompt, d.Outcome, body)
		assert.False(t, d.Mutates(), body)
	}
}

func TestEngineManagerShortcut(t *testing.T) {
	e := testEngine()

	conv := freshConversation()
	d := e.Decide(conv, "can I talk to a manager")
	assert.Equal(t, OutcomeInterrupt, d.Outcome)
	require.NotNil(t, d.Patch.Intent)
	assert.Equal(t, IntentCallback, *d.Patch.Intent)
	assert.Equal(t, StageName, *d.Patch.Stage)
	assert.Contains(t, d.Reply, "name")
	assert.Equal(t, events.AnalyticsManagerRequested, d.Events[0].Type)

	named := freshConversation()
	named.Stage = StageName
	named.CustomerName = "Jane"
	d = e.Decide(named, "just call me")
	assert.Equal(t, StageDatetime, *d.Patch.Stage)
	assert.Contains(t, d.Reply, "call you")
}

func TestEngineManagerShortcutIgnoredAfterFinalization(t *testing.T) {
	conv := freshConversation()
	conv.Stage = StageConfirmed
	conv.Status = StatusConverted
	conv.Datetime = "Tomorrow morning"
	d := testEngine().Decide(conv, "manager please")
	assert.NotEqual(t, OutcomeInterrupt, d.Outcome)
	assert.Nil(t, d.Patch.Intent)
	assert.Nil(t, d.Finalization)
}

func TestEngineConfirmedSideIntents(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	conv.Stage = StageConfirmed
	conv.Status = StatusConverted
	conv.Intent = IntentTestDrive
	conv.Datetime = "Tomorrow morning"

	d := e.Decide(conv, "do you have photos?")
	assert.Equal(t, OutcomeInterrupt, d.Outcome)
	assert.Contains(t, d.Reply, "https://example.com/inventory")
	assert.False(t, d.Mutates())

	d = e.Decide(conv, "thanks!")
	assert.Contains(t, d.Reply, "You're all set for Tomorrow morning")
	assert.False(t, d.Mutates())

	d = e.Decide(conv, "cancel")
	assert.Equal(t, OutcomeCancelled, d.Outcome)
	assert.Equal(t, StatusCancelled, *d.Patch.Status)
	assert.Contains(t, d.Reply, "test drive has been cancelled")
	assert.Nil(t, d.Finalization)
}

func TestEngineRescheduleLoop(t *testing.T) {
	e := testEngine()
	conv := freshConversation()
	conv.Stage = StageConfirmed
	conv.Status = StatusConverted
	conv.Intent = IntentTestDrive
	conv.CustomerName = "Jane doe"
	conv.Datetime = "Tomorrow morning"

	d := step(t, e, &conv, "can I reschedule?")
	assert.Equal(t, StageDatetime, conv.Stage)
	assert.Equal(t, StatusConverted, conv.Status)
	assert.Equal(t, events.AnalyticsRescheduleRequest, d.Events[0].Type)

	d = step(t, e, &conv, "next week")
	assert.Equal(t, OutcomeRescheduled, d.Outcome)
	require.NotNil(t, d.Finalization)
	assert.True(t, d.Finalization.Rescheduled)
	assert.Equal(t, "Next week", d.Finalization.PreferredDatetime)
	assert.Contains(t, d.Reply, "now set for Next week")
	assert.Equal(t, StageConfirmed, conv.Stage)
	assert.Equal(t, events.AnalyticsRescheduled, d.Events[0].Type)
}

func TestEngineCancelDuringReschedule(t *testing.T) {
	conv := freshConversation()
	conv.Stage = StageDatetime
	conv.Status = StatusConverted
	conv.Intent = IntentCallback
	d := testEngine().Decide(conv, "never mind, cancel it")
	assert.Equal(t, OutcomeCancelled, d.Outcome)
	assert.Contains(t, d.Reply, "call back has been cancelled")
}

func TestEngineCancelledConversationOnlyReprompts(t *testing.T) {
	conv := freshConversation()
	conv.Status = StatusCancelled
	conv.Stage = StageConfirmed
	d := testEngine().Decide(conv, "SUV")
	assert.Equal(t, OutcomeReprompt, d.Outcome)
	assert.False(t, d.Mutates())
}

func TestEngineDecideDoesNotMutateInput(t *testing.T) {
	conv := freshConversation()
	snapshot := conv
	testEngine().Decide(conv, "SUV")
	assert.Equal(t, snapshot, conv)
}
