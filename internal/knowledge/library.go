package knowledge

import "strings"

// Snippet is one coaching framework in the built-in library
type Snippet struct {
	ID      string
	Title   string
	Tags    []string
	Content string
}

// DefaultSnippetID is returned by the keyword fallback when nothing matches
const DefaultSnippetID = "active-listening"

// Library is the built-in framework library
var Library = []Snippet{
	{
		ID:    "nvc-core",
		Title: "Non-Violent Communication (NVC)",
		Tags:  []string{"conflict", "relationship", "feelings", "empathy", "general"},
		Content: `NVC Framework:
1. Observation: State the facts without judgment ("When I see socks on the floor...").
2. Feeling: Express emotion ("I feel frustrated...").
3. Need: Connect to a value ("...because I need order in the house.").
4. Request: Ask for a specific action ("Would you be willing to put them in the hamper?").
Avoid words that imply wrongness (lazy, messy, rude).`,
	},
	{
		ID:    "dear-man",
		Title: "DEAR MAN (DBT Skill)",
		Tags:  []string{"request", "work", "negotiation", "assertiveness", "boundary"},
		Content: `DEAR MAN for getting what you want:
- Describe: Stick to facts.
- Express: Use "I" statements for feelings.
- Assert: Ask clearly. Don't hint.
- Reinforce: Explain why it benefits the other person.
- Mindful: Don't get distracted. Broken record technique.
- Appear Confident: Eye contact, steady voice.
- Negotiate: Be willing to give to get.`,
	},
	{
		ID:    "fbi-negotiation",
		Title: "Tactical Empathy (Chris Voss)",
		Tags:  []string{"negotiation", "work", "conflict", "interview"},
		Content: `- Mirroring: Repeat the last 3 words the person said as a question.
- Labeling: "It seems like you're upset about X." (Don't use "I think").
- Calibrated Questions: "How am I supposed to do that?" instead of "No".
- Late Night DJ Voice: Deep, calm, slow downward inflection to soothe.`,
	},
	{
		ID:    "star-method",
		Title: "STAR Method",
		Tags:  []string{"interview", "work", "career"},
		Content: `For answering behavioral interview questions:
- Situation: Set the scene.
- Task: What was the challenge?
- Action: What specifically did YOU do?
- Result: What was the outcome? (Use numbers/metrics if possible).`,
	},
	{
		ID:    DefaultSnippetID,
		Title: "Active Listening",
		Tags:  []string{"general", "relationship", "dating", "social"},
		Content: `- Paraphrasing: "What I'm hearing is..."
- Validation: "It makes sense you feel that way because..."
- Open-ended questions: Who, what, where, how (avoid Why, it sounds accusatory).
- Silence: Allow pauses for the other person to think.`,
	},
	{
		ID:    "boundary-setting",
		Title: "Setting Boundaries",
		Tags:  []string{"boundaries", "relationship", "work", "family"},
		Content: `- The "Sandwich" is outdated. Be direct.
- "I am not comfortable with X."
- "I can do X, but I cannot do Y."
- "If this continues, I will have to leave the conversation."
- Boundaries are about what YOU will do, not controlling the other person.`,
	},
	{
		ID:    "cognitive-reframing",
		Title: "Cognitive Reframing (CBT)",
		Tags:  []string{"anxiety", "confidence", "self-talk"},
		Content: `- Identify the distortion: (e.g., Catastrophizing, Mind Reading).
- Challenge it: "Do I have evidence for this?"
- Reframe: "This is a challenge, not a disaster."
- Replace "I should" with "I would prefer".`,
	},
}

// embedText is what gets embedded for a snippet
func (s Snippet) embedText() string {
	return s.Title + " " + strings.Join(s.Tags, " ") + ": " + s.Content
}

func findSnippet(library []Snippet, id string) (Snippet, bool) {
	for _, s := range library {
		if s.ID == id {
			return s, true
		}
	}
	return Snippet{}, false
}
