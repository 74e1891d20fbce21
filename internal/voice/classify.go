package voice

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
)

const (
	tokensFile  = "tokens.txt"
	lexiconFile = "lexicon.txt"

	// genericModelFile is the model filename of collections that do not
	// embed the voice name in it.
	genericModelFile = "model.onnx"

	// ruleArchiveFile is the optional compiled rule archive of hub-hosted
	// voices.
	ruleArchiveFile = "rule.far"
)

// Markers recognised in identifiers.
const (
	hubHostedMarker   = "-hf-"
	translationMarker = "vits-mms-"
	familyPrefix      = "vits-"
	noDictionaryMark  = "xiaomaiiwn"
)

// lastSegmentMarkers select the last path segment as the model base name of
// a hub-hosted voice instead of its last hyphen-delimited segment.
var lastSegmentMarkers = []string{"fanchen", "vits-cantonese-hf-xiaomaiiwn"}

// normalizationRules is the ordered rule transducer set of hub-hosted voices.
var normalizationRules = []string{"phone.fst", "date.fst", "number.fst", "new_heteronym.fst"}

// withoutPhonemeData lists family voices that run without phoneme data.
var withoutPhonemeData = map[string]bool{
	"vits-coqui-uk-mai": true,
}

// legacyLayout describes a collection whose files do not follow any naming
// convention.
type legacyLayout struct {
	model    string
	speakers int
	rules    []string
}

var legacyLayouts = map[string]legacyLayout{
	"csukuangfj/vits-vctk":        {model: "vits-vctk.onnx", speakers: 109},
	"csukuangfj/vits-ljs":         {model: "vits-ljs.onnx"},
	"csukuangfj/vits-zh-aishell3": {model: "vits-aishell3.onnx", speakers: 174, rules: []string{"phone.fst", "date.fst", "number.fst"}},
}

// rule inspects a tag-free collection id and reports whether it applies.
type rule func(collection string, speakers SpeakerTable) (Plan, bool)

// rules are evaluated in order and the first match wins. Hub-hosted voices
// must be recognised before the family shape, and the family shape before
// the legacy names.
var rules = []rule{
	hubHostedRule,
	familyRule,
	translationRule,
	legacyRule,
}

// Classify maps id to a construction [Plan]. It performs no I/O.
//
// A tagged identifier ("collection|tag") is classified by its collection and
// carries the tag as metadata. A numeric tag is the documented speaker count
// and takes precedence over speakers.
func Classify(id string, speakers SpeakerTable) (Plan, error) {
	collection, tag := SplitTag(id)
	if collection == "" || (strings.Contains(id, TagDelimiter) && tag == "") {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnsupported, id)
	}

	var (
		p  Plan
		ok bool
	)
	for _, r := range rules {
		if p, ok = r(collection, speakers); ok {
			break
		}
	}
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnsupported, id)
	}

	p.ID = id
	p.Collection = collection
	p.Tag = tag
	if n, err := strconv.Atoi(tag); err == nil && n > 0 {
		p.Speakers = n
		p = promoteMultiSpeaker(p)
	}
	return p, nil
}

// promoteMultiSpeaker upgrades single-file recipes to the multi-speaker
// recipe when more than one speaker is documented.
func promoteMultiSpeaker(p Plan) Plan {
	if p.Speakers <= 1 {
		return p
	}
	if p.Kind == SingleFileVoice {
		p.Kind = MultiSpeakerVoice
	}
	if p.Delegate == SingleFileVoice {
		p.Delegate = MultiSpeakerVoice
	}
	return p
}

// singleUnlessDocumented returns n, or 1 when no count is documented. The
// file-based layouts ship one speaker unless the catalog says otherwise.
func singleUnlessDocumented(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func hubHostedRule(collection string, speakers SpeakerTable) (Plan, bool) {
	if !strings.Contains(collection, hubHostedMarker) {
		return Plan{}, false
	}
	base := collection[strings.LastIndex(collection, "-")+1:]
	for _, m := range lastSegmentMarkers {
		if strings.Contains(collection, m) {
			base = path.Base(collection)
			break
		}
	}
	p := Plan{
		Kind:            DictionarySegmentedVoice,
		ModelFile:       base + ".onnx",
		Lexicon:         true,
		RuleFsts:        slices.Clone(normalizationRules),
		RuleArchive:     ruleArchiveFile,
		NeedsDictionary: true,
		Speakers:        speakers.Lookup(collection),
	}
	if strings.Contains(collection, noDictionaryMark) {
		p.Kind = NormalizedTextVoice
		p.NeedsDictionary = false
	}
	return p, true
}

// familyRule matches vits-<family>-<locale>-<name...> with a known family.
func familyRule(collection string, speakers SpeakerTable) (Plan, bool) {
	name := path.Base(collection)
	parts := strings.Split(name, "-")
	if len(parts) < 4 || parts[0]+"-" != familyPrefix {
		return Plan{}, false
	}
	var model string
	switch parts[1] {
	case "piper":
		model = strings.TrimPrefix(name, "vits-piper-") + ".onnx"
	case "coqui":
		model = genericModelFile
	default:
		return Plan{}, false
	}
	p := Plan{
		Kind:             SingleFileVoice,
		ModelFile:        model,
		NeedsPhonemeData: !withoutPhonemeData[name],
		Speakers:         singleUnlessDocumented(speakers.Lookup(collection)),
	}
	return promoteMultiSpeaker(p), true
}

// translationRule matches massively multilingual voices, which reuse the
// single-file recipe under a fixed model name.
func translationRule(collection string, speakers SpeakerTable) (Plan, bool) {
	if !strings.Contains(collection, translationMarker) {
		return Plan{}, false
	}
	p := Plan{
		Kind:      DelegatingVoice,
		Delegate:  SingleFileVoice,
		ModelFile: genericModelFile,
		Speakers:  singleUnlessDocumented(speakers.Lookup(collection)),
	}
	return promoteMultiSpeaker(p), true
}

func legacyRule(collection string, speakers SpeakerTable) (Plan, bool) {
	l, ok := legacyLayouts[collection]
	if !ok {
		return Plan{}, false
	}
	n := l.speakers
	if v := speakers.Lookup(collection); v > 0 {
		n = v
	}
	return Plan{
		Kind:      LexiconVoice,
		ModelFile: l.model,
		Lexicon:   true,
		RuleFsts:  slices.Clone(l.rules),
		Speakers:  singleUnlessDocumented(n),
	}, true
}
