package diagnosis

import (
	"fmt"
	"strings"

	"github.com/carhelperai/carhelper/pkg/models"
)

// maxHistoryTurns bounds how much client-supplied history reaches the model.
const maxHistoryTurns = 10

const systemPrompt = `You are CarHelper.ai, an automotive diagnostic assistant. Triage the symptoms, judge the risk, rank the most likely causes and guide the user one step at a time. Safety comes first.

Rules:
1) Triage: ask at most 3 short clarifying questions per reply (when it started, warning lights, conditions such as cold start, acceleration or braking, recent work, sounds, smells, leaks).
2) Red flags: when the symptoms suggest brake failure, a fuel leak, overheating, loss of steering or a battery thermal event, set severity to "high" and fill safetyAdvisory with a stop-driving warning and safe next steps.
3) Differential: give 2 to 5 likely causes. For each, explain why it matches, list simple checks, the risk of ignoring it and how to verify it. Probabilities should add up to 100. Give an overall confidence from 0 to 100.
4) Skill level:
   - beginner: plain language, no jargon, one or two basic checks.
   - diy: step-by-step procedures, tool lists with torque specs where relevant, time and difficulty.
   - pro: specifications, expected test values, service bulletins, voltage or waveform expectations.
5) Costs: estimate parts price ranges and labor hours; total = parts + labor hours x labor rate range. State your assumptions.
6) OBD-II: decode any trouble code the user gives, map it to causes and tests, and group multiple codes by system.
7) Maintenance: point out overdue service when the symptoms fit it.
8) Uncertainty: below 50 confidence, say so and list the most informative next tests.
9) Tone: calm and professional. Never overstate certainty.
10) Never advise bypassing safety or emissions systems. Mention warranty or recall implications and recommend a professional when risk is high.

Reply with a short plain-language summary for the user's skill level, then one JSON object with exactly these fields:
{
  "summary": "",
  "nextQuestions": [""],
  "likelyCauses": [{"cause": "", "probability": 0, "whyLikely": "", "checks": [""], "risksIfIgnored": "", "verify": ""}],
  "severity": "low | medium | high",
  "confidence": 0,
  "safetyAdvisory": "",
  "diySteps": [{"step": "", "tools": [""], "timeMin": 0, "difficulty": "easy | moderate | hard"}],
  "parts": [{"name": "", "oemOrAftermarket": "OEM | Aftermarket", "qty": 1, "priceLow": 0, "priceHigh": 0}],
  "estimates": {"laborHours": 0, "laborRateRange": [95, 185], "partsLow": 0, "partsHigh": 0, "totalLow": 0, "totalHigh": 0, "notes": ""},
  "whatToDoNext": [""],
  "followUpNeeded": true,
  "references": [""]
}`

// PromptContext is everything known about the request when the prompt is built.
type PromptContext struct {
	SkillLevel string
	Vehicle    *models.Vehicle
	OBDCode    string
	Message    string
	History    []models.ChatTurn
}

// BuildTurns renders the conversation sent to the model: one user turn with
// the request context, then the most recent history turns in order.
func BuildTurns(pc PromptContext) []models.ChatTurn {
	var b strings.Builder
	fmt.Fprintf(&b, "User skill level: %s\n", pc.SkillLevel)
	if pc.Vehicle != nil {
		fmt.Fprintf(&b, "Vehicle: %s\n", pc.Vehicle.DisplayName())
		if pc.Vehicle.Mileage != nil && *pc.Vehicle.Mileage > 0 {
			fmt.Fprintf(&b, "Mileage: %d\n", *pc.Vehicle.Mileage)
		}
	}
	if code := strings.TrimSpace(pc.OBDCode); code != "" {
		fmt.Fprintf(&b, "OBD Code: %s\n", code)
	}
	fmt.Fprintf(&b, "\nProblem: %s", pc.Message)

	history := pc.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	turns := make([]models.ChatTurn, 0, len(history)+1)
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: b.String()})
	for _, h := range history {
		role := models.RoleAssistant
		if h.Role == models.RoleUser {
			role = models.RoleUser
		}
		turns = append(turns, models.ChatTurn{Role: role, Content: h.Content})
	}
	return turns
}

// SystemPrompt returns the fixed diagnostic policy.
func SystemPrompt() string { return systemPrompt }

// conversationTitle is the first 50 characters of the message, with an
// ellipsis when it was cut.
func conversationTitle(message string) string {
	const maxRunes = 50
	r := []rune(message)
	if len(r) <= maxRunes {
		return message
	}
	return string(r[:maxRunes]) + "..."
}
