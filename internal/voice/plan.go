// Package voice turns pretrained model identifiers into engine construction
// recipes and executes them.
//
// [Classify] is a pure function: it inspects only the identifier text and an
// external [SpeakerTable] and returns a [Plan] describing which artifacts to
// fetch and how to assemble the engine configuration. A [Builder] executes a
// Plan against an [artifact.Fetcher] and an [engine.Factory].
package voice

import (
	"strings"
)

// TagDelimiter separates an identifier from its optional metadata tag.
const TagDelimiter = "|"

// SplitTag splits id into its collection and optional tag. The tag is
// metadata only and never part of an artifact lookup.
func SplitTag(id string) (collection, tag string) {
	collection, tag, _ = strings.Cut(id, TagDelimiter)
	return collection, tag
}

// Kind enumerates the construction recipes.
type Kind int

const (
	KindUnknown Kind = iota
	SingleFileVoice
	MultiSpeakerVoice
	LexiconVoice
	NormalizedTextVoice
	DictionarySegmentedVoice
	DelegatingVoice
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	SingleFileVoice:          "single_file",
	MultiSpeakerVoice:        "multi_speaker",
	LexiconVoice:             "lexicon",
	NormalizedTextVoice:      "normalized_text",
	DictionarySegmentedVoice: "dictionary_segmented",
	DelegatingVoice:          "delegating",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// SpeakerTable maps a collection id (without tag) to its documented number
// of speakers. Collections absent from the table are single-speaker or
// unknown.
type SpeakerTable map[string]int

// Lookup returns the documented speaker count of collection, or 0.
func (t SpeakerTable) Lookup(collection string) int {
	return t[collection]
}

// Plan is the output of [Classify]: everything a [Builder] needs to fetch
// artifacts and assemble an engine configuration.
type Plan struct {
	// ID is the identifier as supplied, including any tag.
	ID string

	// Collection is ID with the tag stripped. All artifact lookups use it.
	Collection string

	// Tag is the metadata tag, empty when absent.
	Tag string

	// Kind is the classified recipe.
	Kind Kind

	// Delegate is the recipe a DelegatingVoice runs. Zero otherwise.
	Delegate Kind

	// ModelFile is the acoustic model filename inside the collection.
	ModelFile string

	// Lexicon reports whether lexicon.txt must be fetched.
	Lexicon bool

	// RuleFsts lists the rule transducer filenames in application order.
	RuleFsts []string

	// RuleArchive is an optional compiled rule archive filename. Its absence
	// from the collection is tolerated.
	RuleArchive string

	// NeedsPhonemeData reports whether the phoneme data directory must be
	// configured.
	NeedsPhonemeData bool

	// NeedsDictionary reports whether the segmentation dictionary directory
	// must be provisioned.
	NeedsDictionary bool

	// Speakers is the documented speaker count. File-based layouts default
	// to 1; hub-hosted voices without a documented count report 0 (unknown).
	Speakers int
}

// Recipe returns the recipe that actually runs: Delegate for a
// DelegatingVoice, Kind otherwise.
func (p Plan) Recipe() Kind {
	if p.Kind == DelegatingVoice {
		return p.Delegate
	}
	return p.Kind
}

// Files returns the mandatory artifact filenames of the plan in fetch order.
// The optional rule archive is not included.
func (p Plan) Files() []string {
	files := []string{p.ModelFile}
	if p.Lexicon {
		files = append(files, lexiconFile)
	}
	files = append(files, tokensFile)
	return append(files, p.RuleFsts...)
}
