package conversation

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/dealer-sms-agent/internal/events"
)

// Outcome labels what a turn did, for logs and metrics.
type Outcome string

const (
	OutcomeAdvanced    Outcome = "advanced"
	OutcomeReprompt    Outcome = "reprompt"
	OutcomeInterrupt   Outcome = "interrupt"
	OutcomeFinalized   Outcome = "finalized"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeOptedOut    Outcome = "opted_out"
	OutcomeResumed     Outcome = "resumed"
	OutcomeSilent      Outcome = "silent"
)

// Decision is the result of one dialogue turn. The engine never touches the store;
// the pipeline commits the decision.
type Decision struct {
	Reply        string
	Patch        ConversationPatch
	CustomerName string
	Finalization *Finalization
	Events       []AnalyticsEvent
	Outcome      Outcome
}

// Mutates reports whether committing the decision changes conversation state.
func (d Decision) Mutates() bool {
	return !d.Patch.IsEmpty() || d.CustomerName != "" || d.Finalization != nil || len(d.Events) > 0
}

var (
	optOutExactRE   = regexp.MustCompile(`(?i)^\s*(stop|stopall|unsubscribe|end|quit)\s*[.!]*\s*$`)
	optOutPhraseRE  = regexp.MustCompile(`(?i)^\s*(please\s+)?stop\s+(texting|messaging|contacting|sending)\b`)
	resumeRE        = regexp.MustCompile(`(?i)^\s*(start|unstop|resume)\s*[.!]*\s*$`)
	locationRE      = regexp.MustCompile(`(?i)\b(where|location|located|address|directions|hours of operation)\b|\b(what|your|store|opening|business)\s+hours\b|\bwhen\s+are\s+you\s+open\b`)
	rescheduleRE    = regexp.MustCompile(`(?i)\b(reschedule|change|move it|different time|another time)\b`)
	cancelRE        = regexp.MustCompile(`(?i)\b(cancel|never ?mind)\b`)
	inventoryRE     = regexp.MustCompile(`(?i)\b(inventory|photos?|pictures?|pics|stock|available|availability)\b`)
)

var (
	suvWords         = []string{"suv", "suvs", "crossover"}
	truckWords       = []string{"truck", "trucks", "pickup", "pickups"}
	sedanWords       = []string{"sedan", "sedans"}
	carWords         = []string{"car", "cars"}
	affirmativeWords = []string{"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "interested", "looking", "shopping", "want", "buy", "buying", "vehicle"}
	testDriveWords   = []string{"1", "one", "test", "drive", "testdrive"}
	callbackWords    = []string{"2", "two", "call", "callback", "phone"}
)

// Engine drives the scripted qualification funnel. It is safe for concurrent use.
type Engine struct {
	persona Persona
	now     func() time.Time
}

// NewEngine creates an engine that replies in the given persona.
func NewEngine(persona Persona) *Engine {
	return &Engine{
		persona: persona.withDefaults(),
		now:     time.Now,
	}
}

// Persona returns the persona used for replies.
func (e *Engine) Persona() Persona {
	return e.persona
}

// Decide computes the reply and state changes for an inbound message against conv.
// It is pure with respect to conv, which must be freshly read from the store.
func (e *Engine) Decide(conv Conversation, body string) Decision {
	text := strings.TrimSpace(body)

	if isOptOut(text) {
		if conv.Status == StatusStopped {
			return Decision{Outcome: OutcomeSilent}
		}
		// Opt-out changes status only.
		d := Decision{Reply: e.persona.optedOutReply(), Outcome: OutcomeOptedOut}
		d.Patch.Status = ptr(StatusStopped)
		e.record(&d, conv, events.AnalyticsOptedOut, nil)
		return d
	}

	switch conv.Status {
	case StatusStopped:
		if !resumeRE.MatchString(text) {
			return Decision{Outcome: OutcomeSilent}
		}
		return e.resume(conv)
	case StatusCancelled:
		return Decision{Reply: e.persona.fallbackReply(), Outcome: OutcomeReprompt}
	}

	if locationRE.MatchString(text) {
		return Decision{Reply: e.persona.locationReply(), Outcome: OutcomeInterrupt}
	}

	if conv.Status == StatusActive && conv.Stage.Rank() > 0 && conv.Stage.Rank() < StageDatetime.Rank() && IsManagerRequest(text) {
		return e.managerShortcut(conv)
	}

	switch conv.Stage {
	case StageGreeting:
		return e.greeting(conv, text)
	case StageBudget:
		return e.budget(conv, text)
	case StageAppointment:
		return e.appointment(conv, text)
	case StageName:
		return e.name(conv, text)
	case StageDatetime:
		return e.datetime(conv, text)
	case StageConfirmed:
		return e.confirmed(conv, text)
	default:
		return Decision{Reply: e.persona.fallbackReply(), Outcome: OutcomeReprompt}
	}
}

func (e *Engine) resume(conv Conversation) Decision {
	status := StatusActive
	if conv.Stage == StageConfirmed {
		status = StatusConverted
	}
	resumed := conv
	resumed.Status = status
	d := e.decision(OutcomeResumed, "Welcome back! "+e.persona.stagePrompt(resumed))
	d.Patch.Status = ptr(status)
	e.record(&d, conv, events.AnalyticsResumed, nil)
	return d
}

func (e *Engine) managerShortcut(conv Conversation) Decision {
	next := StageName
	prompt := e.persona.namePrompt()
	if conv.CustomerName != "" {
		next = StageDatetime
		prompt = e.persona.datetimePrompt(IntentCallback, conv.CustomerName)
	}
	d := e.decision(OutcomeInterrupt, e.persona.managerPrefix()+" "+prompt)
	d.Patch.Intent = ptr(IntentCallback)
	d.Patch.Stage = ptr(next)
	e.record(&d, conv, events.AnalyticsManagerRequested, map[string]any{"next_stage": string(next)})
	return d
}

func (e *Engine) greeting(conv Conversation, text string) Decision {
	vehicle := matchVehicle(text)
	if vehicle == "" {
		return Decision{Reply: e.persona.fallbackReply(), Outcome: OutcomeReprompt}
	}
	d := e.decision(OutcomeAdvanced, e.persona.budgetPrompt(vehicle))
	d.Patch.VehicleType = ptr(vehicle)
	d.Patch.Stage = ptr(StageBudget)
	e.record(&d, conv, events.AnalyticsVehicleSelected, map[string]any{"vehicle_type": vehicle})
	return d
}

func (e *Engine) budget(conv Conversation, text string) Decision {
	var (
		bucket string
		amount *int64
	)
	if parsed := ExtractBudget(text); parsed != nil && *parsed > 0 {
		amount = parsed
		bucket = BudgetBucket(*parsed)
	} else {
		bucket = BudgetFromKeywords(text)
	}
	if bucket == "" {
		return Decision{Reply: e.persona.budgetReprompt(), Outcome: OutcomeReprompt}
	}

	d := e.decision(OutcomeAdvanced, e.persona.appointmentPrompt(bucket))
	d.Patch.Budget = ptr(bucket)
	d.Patch.BudgetAmount = amount
	d.Patch.Stage = ptr(StageAppointment)
	payload := map[string]any{"budget": bucket}
	if amount != nil {
		payload["budget_amount"] = *amount
	}
	e.record(&d, conv, events.AnalyticsBudgetCaptured, payload)
	return d
}

func (e *Engine) appointment(conv Conversation, text string) Decision {
	tokens := words(text)
	var intent Intent
	switch {
	case containsAny(tokens, testDriveWords):
		intent = IntentTestDrive
	case containsAny(tokens, callbackWords):
		intent = IntentCallback
	default:
		return Decision{Reply: e.persona.appointmentReprompt(), Outcome: OutcomeReprompt}
	}
	d := e.decision(OutcomeAdvanced, e.persona.namePrompt())
	d.Patch.Intent = ptr(intent)
	d.Patch.Stage = ptr(StageName)
	e.record(&d, conv, events.AnalyticsIntentSelected, map[string]any{"intent": string(intent)})
	return d
}

func (e *Engine) name(conv Conversation, text string) Decision {
	name := ExtractName(text)
	if name == "" {
		name = FormatName(text)
	}
	if name == "" {
		return Decision{Reply: e.persona.nameReprompt(), Outcome: OutcomeReprompt}
	}
	d := e.decision(OutcomeAdvanced, e.persona.datetimePrompt(conv.Intent, name))
	d.Patch.CustomerName = ptr(name)
	d.Patch.Stage = ptr(StageDatetime)
	d.CustomerName = name
	e.record(&d, conv, events.AnalyticsNameCaptured, map[string]any{"name": name})
	return d
}

func (e *Engine) datetime(conv Conversation, text string) Decision {
	if conv.Status == StatusConverted && cancelRE.MatchString(text) {
		return e.cancel(conv)
	}
	if text == "" {
		return Decision{Reply: e.persona.datetimeReprompt(), Outcome: OutcomeReprompt}
	}

	when := NormalizeDatetime(text)
	rescheduled := conv.Status == StatusConverted
	kind := FinalizationAppointment
	if conv.Intent == IntentCallback {
		kind = FinalizationCallback
	}
	fin := &Finalization{
		Kind:              kind,
		ConversationID:    conv.ID,
		Phone:             conv.CustomerPhone,
		Name:              conv.CustomerName,
		VehicleType:       conv.VehicleType,
		Budget:            conv.Budget,
		BudgetAmount:      conv.BudgetAmount,
		PreferredDatetime: when,
		Rescheduled:       rescheduled,
		CreatedAt:         e.now().UTC(),
	}

	outcome := OutcomeFinalized
	eventType := events.AnalyticsAppointmentBooked
	switch {
	case rescheduled:
		outcome = OutcomeRescheduled
		eventType = events.AnalyticsRescheduled
	case kind == FinalizationCallback:
		eventType = events.AnalyticsCallbackRequested
	}

	d := e.decision(outcome, e.persona.confirmation(*fin))
	d.Patch.Datetime = ptr(when)
	d.Patch.Status = ptr(StatusConverted)
	d.Patch.Stage = ptr(StageConfirmed)
	d.Finalization = fin
	e.record(&d, conv, eventType, map[string]any{
		"kind":     string(kind),
		"datetime": when,
	})
	return d
}

func (e *Engine) confirmed(conv Conversation, text string) Decision {
	switch {
	case rescheduleRE.MatchString(text):
		d := e.decision(OutcomeAdvanced, e.persona.reschedulePrompt())
		d.Patch.Stage = ptr(StageDatetime)
		e.record(&d, conv, events.AnalyticsRescheduleRequest, map[string]any{"previous_datetime": conv.Datetime})
		return d
	case cancelRE.MatchString(text):
		return e.cancel(conv)
	case inventoryRE.MatchString(text):
		return Decision{Reply: e.persona.inventoryReply(), Outcome: OutcomeInterrupt}
	default:
		return Decision{Reply: e.persona.allSetReply(conv.Datetime), Outcome: OutcomeReprompt}
	}
}

func (e *Engine) cancel(conv Conversation) Decision {
	d := e.decision(OutcomeCancelled, e.persona.cancelledReply(conv.Intent))
	d.Patch.Status = ptr(StatusCancelled)
	e.record(&d, conv, events.AnalyticsCancelled, map[string]any{"datetime": conv.Datetime})
	return d
}

// decision starts a mutating decision whose reply is also kept as the conversation's last message.
func (e *Engine) decision(outcome Outcome, reply string) Decision {
	return Decision{
		Reply:   reply,
		Outcome: outcome,
		Patch:   ConversationPatch{LastMessage: ptr(reply)},
	}
}

func (e *Engine) record(d *Decision, conv Conversation, eventType string, payload map[string]any) {
	data := map[string]any{
		"conversation_id": conv.ID.String(),
		"stage":           string(conv.Stage),
	}
	for k, v := range payload {
		data[k] = v
	}
	d.Events = append(d.Events, AnalyticsEvent{
		Type:      eventType,
		Phone:     conv.CustomerPhone,
		Payload:   data,
		CreatedAt: e.now().UTC(),
	})
}

func isOptOut(text string) bool {
	return optOutExactRE.MatchString(text) || optOutPhraseRE.MatchString(text)
}

func matchVehicle(text string) string {
	tokens := words(text)
	switch {
	case containsAny(tokens, suvWords):
		return "SUV"
	case containsAny(tokens, truckWords):
		return "Truck"
	case containsAny(tokens, sedanWords):
		return "Sedan"
	case containsAny(tokens, carWords):
		return "Car"
	case containsAny(tokens, affirmativeWords):
		return "Vehicle"
	default:
		return ""
	}
}

func words(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func containsAny(set map[string]struct{}, candidates []string) bool {
	for _, c := range candidates {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T {
	return &v
}
