package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Message is the human-readable form of an event
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Narrator turns an event into a message
type Narrator interface {
	Narrate(ctx context.Context, event safety.SafetyEvent) (Message, error)
}

var eventTitles = map[safety.EventType]string{
	safety.EventProximityConflict: "Proximity conflict",
	safety.EventTCASRA:            "TCAS resolution advisory",
	safety.EventTCASTA:            "TCAS traffic advisory",
	safety.EventExtremeVS:         "Extreme vertical rate",
	safety.EventVSReversal:        "Vertical rate reversal",
	safety.EventEmergencySquawk:   "Emergency squawk",
}

// TemplateNarrator renders fixed sentences with humanized numbers
type TemplateNarrator struct{}

// Narrate implements Narrator
func (TemplateNarrator) Narrate(_ context.Context, ev safety.SafetyEvent) (Message, error) {
	title := eventTitles[ev.Type]
	if title == "" {
		title = string(ev.Type)
	}
	msg := Message{Title: fmt.Sprintf("[%s] %s", strings.ToUpper(string(ev.Severity)), title)}

	d := ev.Details
	switch ev.Type {
	case safety.EventProximityConflict, safety.EventTCASRA, safety.EventTCASTA:
		secondary := "unknown"
		if ev.Secondary != nil {
			secondary = identity(*ev.Secondary)
		}
		parts := []string{
			fmt.Sprintf("%s and %s are %s NM apart with %s ft vertical separation",
				identity(ev.Primary), secondary,
				humanize.FtoaWithDigits(d["distance_nm"], 2),
				humanize.Comma(int64(d["altitude_diff_ft"]))),
		}
		if v, ok := d["closure_rate_kt"]; ok {
			parts = append(parts, fmt.Sprintf("closing at %s kt", humanize.Comma(int64(v))))
		}
		if v, ok := d["vertical_closure_fpm"]; ok && v > 0 {
			parts = append(parts, fmt.Sprintf("vertical closure %s fpm", humanize.Comma(int64(v))))
		}
		msg.Body = strings.Join(parts, ", ") + "."

	case safety.EventExtremeVS:
		msg.Body = fmt.Sprintf("%s is %s at %s fpm (limit %s fpm).",
			identity(ev.Primary), climbing(d["vertical_rate_fpm"]),
			humanize.Comma(abs(d["vertical_rate_fpm"])),
			humanize.Comma(int64(d["threshold_fpm"])))

	case safety.EventVSReversal:
		msg.Body = fmt.Sprintf("%s reversed from %s at %s fpm to %s at %s fpm.",
			identity(ev.Primary),
			climbing(d["previous_rate_fpm"]), humanize.Comma(abs(d["previous_rate_fpm"])),
			climbing(d["current_rate_fpm"]), humanize.Comma(abs(d["current_rate_fpm"])))

	case safety.EventEmergencySquawk:
		kind := strings.ReplaceAll(ev.SubKind, "_", " ")
		msg.Body = fmt.Sprintf("%s is squawking %04d (%s).", identity(ev.Primary), int(d["squawk"]), kind)
		if ev.Snapshot.AltBaroFt != nil {
			msg.Body += fmt.Sprintf(" Last altitude %s ft.", humanize.Comma(int64(*ev.Snapshot.AltBaroFt)))
		}

	default:
		msg.Body = fmt.Sprintf("%s: %s.", identity(ev.Primary), ev.DedupKey)
	}

	return msg, nil
}

func identity(id safety.Identity) string {
	if id.Callsign != "" {
		return fmt.Sprintf("%s (%s)", id.Callsign, id.Hex)
	}
	return id.Hex
}

func climbing(rate float64) string {
	if rate < 0 {
		return "descending"
	}
	return "climbing"
}

func abs(v float64) int64 {
	if v < 0 {
		return int64(-v)
	}
	return int64(v)
}

const narratorSystemPrompt = `You write one or two sentence alerts for air traffic safety supervisors.
Use plain language, keep every number from the input, and do not speculate about causes.`

// OpenAINarrator asks a chat model to phrase the alert and falls back to a template on failure
type OpenAINarrator struct {
	client   openai.Client
	model    string
	fallback Narrator
	logger   *logger.Logger
}

// NewOpenAINarrator creates a narrator using the chat completions API
func NewOpenAINarrator(apiKey, model string, log *logger.Logger, opts ...option.RequestOption) *OpenAINarrator {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAINarrator{
		client:   openai.NewClient(opts...),
		model:    model,
		fallback: TemplateNarrator{},
		logger:   log.Named("narrator"),
	}
}

// Narrate implements Narrator
func (n *OpenAINarrator) Narrate(ctx context.Context, ev safety.SafetyEvent) (Message, error) {
	base, err := n.fallback.Narrate(ctx, ev)
	if err != nil {
		return Message{}, err
	}

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(narratorSystemPrompt),
			openai.UserMessage(base.Title + "\n" + base.Body),
		},
		Model: openai.ChatModel(n.model),
	})
	if err != nil {
		n.logger.Warn("Narration request failed, using template", logger.Error(err))
		return base, nil
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		n.logger.Warn("Narration returned no content, using template")
		return base, nil
	}

	return Message{Title: base.Title, Body: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}
