package conversation

import (
	"fmt"
	"strings"
)

// Persona personalises the scripted replies.
type Persona struct {
	AgentName         string
	DealershipName    string
	DealershipAddress string
	DealershipHours   string
	InventoryURL      string
}

func (p Persona) withDefaults() Persona {
	if strings.TrimSpace(p.AgentName) == "" {
		p.AgentName = "Jerry"
	}
	if strings.TrimSpace(p.DealershipName) == "" {
		p.DealershipName = "the dealership"
	}
	return p
}

// OpeningMessage is the first outbound prompt of a conversation.
func (p Persona) OpeningMessage() string {
	p = p.withDefaults()
	return fmt.Sprintf("Hi! This is %s from %s. Are you shopping for an SUV, a truck, or a sedan?", p.AgentName, p.DealershipName)
}

func (p Persona) fallbackReply() string {
	return "I can help you find the right vehicle! Tell me what you're after (SUV, truck, sedan), " +
		"your budget, and whether you'd like a test drive or a call back."
}

func (p Persona) greetingReprompt() string {
	return "Happy to help! What kind of vehicle are you looking for: an SUV, a truck, or a sedan?"
}

func (p Persona) budgetPrompt(vehicle string) string {
	return fmt.Sprintf("Great choice, let's find you the right %s. What budget are you working with? (e.g. 25k or $40,000)", strings.ToLower(vehicle))
}

func (p Persona) budgetReprompt() string {
	return "Sorry, I didn't catch that. Roughly how much would you like to spend? (e.g. 30k)"
}

func (p Persona) appointmentPrompt(budget string) string {
	return fmt.Sprintf("Got it, %s. Would you like to:\n1) Book a test drive\n2) Get a call back from our team\nReply 1 or 2.", budget)
}

func (p Persona) appointmentReprompt() string {
	return "Please reply 1 to book a test drive or 2 to get a call back."
}

func (p Persona) namePrompt() string {
	return "Perfect! What name should I put this under?"
}

func (p Persona) nameReprompt() string {
	return "Sorry, I didn't get your name. What should we call you?"
}

func (p Persona) datetimePrompt(intent Intent, name string) string {
	greeting := "Thanks!"
	if name != "" {
		greeting = fmt.Sprintf("Thanks %s!", name)
	}
	if intent == IntentCallback {
		return greeting + " When is a good time for us to call you? (e.g. today afternoon, tomorrow evening)"
	}
	return greeting + " When would you like to come in for the test drive? (e.g. tomorrow morning, this weekend)"
}

func (p Persona) datetimeReprompt() string {
	return "When works best for you? (e.g. tomorrow morning, this weekend)"
}

func (p Persona) confirmation(f Finalization) string {
	p = p.withDefaults()
	who := ""
	if f.Name != "" {
		who = ", " + f.Name
	}
	if f.Rescheduled {
		return fmt.Sprintf("Updated%s! You're now set for %s.", who, f.PreferredDatetime)
	}
	if f.Kind == FinalizationCallback {
		return fmt.Sprintf("Done%s! Someone from %s will call you at your preferred time: %s.", who, p.DealershipName, f.PreferredDatetime)
	}
	vehicle := "a vehicle"
	if f.VehicleType != "" {
		vehicle = "the " + strings.ToLower(f.VehicleType)
	}
	return fmt.Sprintf("You're booked%s! Test drive for %s: %s. See you at %s.", who, vehicle, f.PreferredDatetime, p.DealershipName)
}

func (p Persona) reschedulePrompt() string {
	return "No problem. When would you prefer instead?"
}

func (p Persona) cancelledReply(intent Intent) string {
	what := "test drive"
	if intent == IntentCallback {
		what = "call back"
	}
	return fmt.Sprintf("Your %s has been cancelled. Text us anytime if you change your mind.", what)
}

func (p Persona) allSetReply(datetime string) string {
	return fmt.Sprintf("You're all set for %s. Reply RESCHEDULE to change the time or CANCEL to cancel.", datetime)
}

func (p Persona) inventoryReply() string {
	p = p.withDefaults()
	if p.InventoryURL != "" {
		return fmt.Sprintf("You can browse our current inventory and photos at %s. Anything else I can help with?", p.InventoryURL)
	}
	return fmt.Sprintf("I'll have someone from %s send over photos and availability. Anything else I can help with?", p.DealershipName)
}

func (p Persona) locationReply() string {
	p = p.withDefaults()
	var b strings.Builder
	b.WriteString("You can find us at ")
	if p.DealershipAddress != "" {
		b.WriteString(p.DealershipName + ", " + p.DealershipAddress)
	} else {
		b.WriteString(p.DealershipName)
	}
	b.WriteString(".")
	if p.DealershipHours != "" {
		b.WriteString(" Hours: " + p.DealershipHours + ".")
	}
	return b.String()
}

func (p Persona) optedOutReply() string {
	return "You've been unsubscribed and won't receive more messages. Reply START to resume."
}

func (p Persona) managerPrefix() string {
	return "Absolutely, I'll have a manager reach out to you."
}

// stagePrompt re-asks the question for conv's current stage.
func (p Persona) stagePrompt(conv Conversation) string {
	switch conv.Stage {
	case StageGreeting:
		return p.greetingReprompt()
	case StageBudget:
		return p.budgetReprompt()
	case StageAppointment:
		return p.appointmentReprompt()
	case StageName:
		return p.namePrompt()
	case StageDatetime:
		return p.datetimePrompt(conv.Intent, conv.CustomerName)
	case StageConfirmed:
		return p.allSetReply(conv.Datetime)
	default:
		return p.fallbackReply()
	}
}
