package diagnosis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTurns_FullContext(t *testing.T) {
	trim := "EX"
	mileage := 85000
	turns := BuildTurns(PromptContext{
		SkillLevel: "diy",
		Vehicle:    &models.Vehicle{Year: 2018, Make: "Honda", Model: "Civic", Trim: &trim, Mileage: &mileage},
		OBDCode:    "P0300",
		Message:    "Engine shakes at idle",
	})

	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t,
		"User skill level: diy\nVehicle: 2018 Honda Civic EX\nMileage: 85000\nOBD Code: P0300\n\nProblem: Engine shakes at idle",
		turns[0].Content)
}

func TestBuildTurns_MinimalContext(t *testing.T) {
	turns := BuildTurns(PromptContext{SkillLevel: "beginner", Message: "car won't start"})

	require.Len(t, turns, 1)
	assert.NotContains(t, turns[0].Content, "Vehicle:")
	assert.NotContains(t, turns[0].Content, "OBD Code:")
	assert.True(t, strings.HasSuffix(turns[0].Content, "Problem: car won't start"))
}

func TestBuildTurns_HistoryOrderAndRoles(t *testing.T) {
	turns := BuildTurns(PromptContext{
		SkillLevel: "pro",
		Message:    "follow-up",
		History: []models.ChatTurn{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "second"},
			{Role: "system", Content: "third"},
		},
	})

	require.Len(t, turns, 4)
	assert.Equal(t, "first", turns[1].Content)
	assert.Equal(t, models.RoleUser, turns[1].Role)
	assert.Equal(t, models.RoleAssistant, turns[2].Role)
	assert.Equal(t, models.RoleAssistant, turns[3].Role, "unknown roles become assistant")
}

func TestBuildTurns_HistoryKeepsMostRecent(t *testing.T) {
	var history []models.ChatTurn
	for i := 1; i <= 12; i++ {
		history = append(history, models.ChatTurn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	turns := BuildTurns(PromptContext{SkillLevel: "beginner", Message: "m", History: history})

	require.Len(t, turns, 1+maxHistoryTurns)
	assert.Equal(t, "turn 3", turns[1].Content)
	assert.Equal(t, "turn 12", turns[len(turns)-1].Content)
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "short", conversationTitle("short"))

	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, conversationTitle(exact))

	long := strings.Repeat("b", 51)
	assert.Equal(t, strings.Repeat("b", 50)+"...", conversationTitle(long))

	// Multi-byte characters are counted as characters, not bytes.
	accented := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50)+"...", conversationTitle(accented))
}

func TestSystemPrompt_DescribesContract(t *testing.T) {
	p := SystemPrompt()
	for _, field := range []string{"likelyCauses", "safetyAdvisory", "diySteps", "laborRateRange", "followUpNeeded"} {
		assert.Contains(t, p, field)
	}
}
