package events

// Analytics event types recorded alongside dialogue transitions.
const (
	AnalyticsVehicleSelected    = "vehicle_selected"
	AnalyticsBudgetCaptured     = "budget_captured"
	AnalyticsIntentSelected     = "intent_selected"
	AnalyticsNameCaptured       = "name_captured"
	AnalyticsAppointmentBooked  = "appointment_booked"
	AnalyticsCallbackRequested  = "callback_requested"
	AnalyticsRescheduleRequest  = "reschedule_requested"
	AnalyticsRescheduled        = "rescheduled"
	AnalyticsCancelled          = "cancelled"
	AnalyticsOptedOut           = "opted_out"
	AnalyticsResumed            = "resumed"
	AnalyticsManagerRequested   = "manager_requested"
	AnalyticsOperatorReply      = "operator_reply"
	AnalyticsOutreachSent       = "outreach_sent"
	AnalyticsConversationPurged = "conversation_deleted"
)

// ProviderTwilio namespaces Twilio message ids in the processed events table.
const ProviderTwilio = "twilio"
