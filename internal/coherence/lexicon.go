package coherence

// assumptionLexicon lists phrases that attribute intent, goals, or pattern
// continuation to the user. A candidate using one of these is asserting
// context it cannot see; the phrase only passes when the words around it are
// themselves backed by verified evidence.
var assumptionLexicon = []string{
	"you've been",
	"you have been",
	"you usually",
	"you always",
	"you often",
	"as usual",
	"your pattern",
	"your habit",
	"like last time",
	"you're planning",
	"you are planning",
	"planning to",
	"you want to",
	"you're trying to",
	"you are trying to",
	"your goal",
	"you intend",
	"you need to",
	"continuing your",
	"you prefer",
}
