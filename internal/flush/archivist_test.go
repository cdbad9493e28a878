package flush

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArchivistReply_SentinelAlone(t *testing.T) {
	suppressed, facts := parseArchivistReply(Sentinel)

	assert.True(t, suppressed)
	assert.Empty(t, facts)
}

func TestParseArchivistReply_SentinelWithShortAck(t *testing.T) {
	suppressed, facts := parseArchivistReply(Sentinel + " Nothing new this session.")

	assert.True(t, suppressed)
	assert.Empty(t, facts)
}

func TestParseArchivistReply_SentinelWithLongTail(t *testing.T) {
	tail := strings.Repeat("the conversation covered routine debugging ", 4)
	suppressed, facts := parseArchivistReply(Sentinel + "\n" + tail)

	assert.True(t, suppressed)
	assert.Empty(t, facts)
}

func TestParseArchivistReply_SentinelWithBulletPayload(t *testing.T) {
	reply := Sentinel + "\n- user prefers table-driven tests\n- project pins Go 1.24"

	suppressed, facts := parseArchivistReply(reply)

	assert.False(t, suppressed)
	assert.Equal(t, []string{"user prefers table-driven tests", "project pins Go 1.24"}, facts)
}

func TestParseArchivistReply_BulletsOnly(t *testing.T) {
	reply := "- deploys happen from the release branch\n\nsome trailing commentary"

	suppressed, facts := parseArchivistReply(reply)

	assert.False(t, suppressed)
	assert.Equal(t, []string{"deploys happen from the release branch"}, facts)
}

func TestParseArchivistReply_ProseWithoutBullets(t *testing.T) {
	suppressed, facts := parseArchivistReply("I could not find anything worth storing long-term.")

	assert.True(t, suppressed)
	assert.Empty(t, facts)
}

func TestParseArchivistReply_Empty(t *testing.T) {
	suppressed, facts := parseArchivistReply("   \n  ")

	assert.True(t, suppressed)
	assert.Empty(t, facts)
}

func TestBulletLines(t *testing.T) {
	text := "intro\n- first fact\n  -   second fact\nnot a bullet\n-\n- third"

	assert.Equal(t, []string{"first fact", "second fact", "third"}, bulletLines(text))
}

func TestSimilarityForFacts(t *testing.T) {
	assert.Equal(t, 1.0, similarity("same fact", "same fact"))
	assert.GreaterOrEqual(t, similarity("user prefers tabs over spaces", "user prefers tabs over spaces!"), 0.9)
	assert.Less(t, similarity("user prefers tabs", "deploys from main"), 0.5)
}
