package voice_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/ttshub/internal/voice"
)

var testSpeakers = voice.SpeakerTable{
	"csukuangfj/vits-piper-en_US-libritts-high": 904,
	"csukuangfj/vits-coqui-en-vctk":             109,
}

func TestClassify(t *testing.T) {
	t.Parallel()

	fourRules := []string{"phone.fst", "date.fst", "number.fst", "new_heteronym.fst"}

	tests := []struct {
		id       string
		kind     voice.Kind
		delegate voice.Kind
		model    string
		lexicon  bool
		rules    []string
		phonemes bool
		dict     bool
		speakers int
	}{
		{id: "csukuangfj/vits-piper-en_US-amy-low", kind: voice.SingleFileVoice, model: "en_US-amy-low.onnx", phonemes: true, speakers: 1},
		{id: "csukuangfj/vits-piper-en_US-libritts-high", kind: voice.MultiSpeakerVoice, model: "en_US-libritts-high.onnx", phonemes: true, speakers: 904},
		{id: "csukuangfj/vits-coqui-en-vctk", kind: voice.MultiSpeakerVoice, model: "model.onnx", phonemes: true, speakers: 109},
		{id: "csukuangfj/vits-coqui-de-css10", kind: voice.SingleFileVoice, model: "model.onnx", phonemes: true, speakers: 1},
		{id: "csukuangfj/vits-coqui-uk-mai", kind: voice.SingleFileVoice, model: "model.onnx", speakers: 1},
		{id: "csukuangfj/vits-zh-hf-theresa", kind: voice.DictionarySegmentedVoice, model: "theresa.onnx", lexicon: true, rules: fourRules, dict: true},
		{id: "csukuangfj/vits-zh-hf-fanchen-C", kind: voice.DictionarySegmentedVoice, model: "vits-zh-hf-fanchen-C.onnx", lexicon: true, rules: fourRules, dict: true},
		{id: "csukuangfj/vits-cantonese-hf-xiaomaiiwn", kind: voice.NormalizedTextVoice, model: "vits-cantonese-hf-xiaomaiiwn.onnx", lexicon: true, rules: fourRules},
		{id: "csukuangfj/vits-mms-deu", kind: voice.DelegatingVoice, delegate: voice.SingleFileVoice, model: "model.onnx", speakers: 1},
		{id: "csukuangfj/vits-vctk", kind: voice.LexiconVoice, model: "vits-vctk.onnx", lexicon: true, speakers: 109},
		{id: "csukuangfj/vits-ljs", kind: voice.LexiconVoice, model: "vits-ljs.onnx", lexicon: true, speakers: 1},
		{id: "csukuangfj/vits-zh-aishell3", kind: voice.LexiconVoice, model: "vits-aishell3.onnx", lexicon: true, rules: []string{"phone.fst", "date.fst", "number.fst"}, speakers: 174},
	}

	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			t.Parallel()
			p, err := voice.Classify(tc.id, testSpeakers)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if p.Kind != tc.kind {
				t.Errorf("Kind = %v, want %v", p.Kind, tc.kind)
			}
			if p.Delegate != tc.delegate {
				t.Errorf("Delegate = %v, want %v", p.Delegate, tc.delegate)
			}
			if p.ModelFile != tc.model {
				t.Errorf("ModelFile = %q, want %q", p.ModelFile, tc.model)
			}
			if p.Lexicon != tc.lexicon {
				t.Errorf("Lexicon = %v, want %v", p.Lexicon, tc.lexicon)
			}
			if !slices.Equal(p.RuleFsts, tc.rules) {
				t.Errorf("RuleFsts = %v, want %v", p.RuleFsts, tc.rules)
			}
			if p.NeedsPhonemeData != tc.phonemes {
				t.Errorf("NeedsPhonemeData = %v, want %v", p.NeedsPhonemeData, tc.phonemes)
			}
			if p.NeedsDictionary != tc.dict {
				t.Errorf("NeedsDictionary = %v, want %v", p.NeedsDictionary, tc.dict)
			}
			if p.Speakers != tc.speakers {
				t.Errorf("Speakers = %d, want %d", p.Speakers, tc.speakers)
			}
			if p.Collection != tc.id || p.ID != tc.id || p.Tag != "" {
				t.Errorf("identity fields = (%q, %q, %q)", p.ID, p.Collection, p.Tag)
			}
		})
	}
}

func TestClassify_Tagged(t *testing.T) {
	t.Parallel()

	p, err := voice.Classify("csukuangfj/vits-zh-hf-zenyatta|804", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Collection != "csukuangfj/vits-zh-hf-zenyatta" {
		t.Errorf("Collection = %q, tag not stripped", p.Collection)
	}
	if p.Tag != "804" || p.ID != "csukuangfj/vits-zh-hf-zenyatta|804" {
		t.Errorf("Tag = %q, ID = %q", p.Tag, p.ID)
	}
	if p.Kind != voice.DictionarySegmentedVoice {
		t.Errorf("Kind = %v, want %v", p.Kind, voice.DictionarySegmentedVoice)
	}
	if p.ModelFile != "zenyatta.onnx" {
		t.Errorf("ModelFile = %q, want zenyatta.onnx", p.ModelFile)
	}
	if p.Speakers != 804 {
		t.Errorf("Speakers = %d, want 804", p.Speakers)
	}
}

func TestClassify_TagPromotesSingleFile(t *testing.T) {
	t.Parallel()
	p, err := voice.Classify("csukuangfj/vits-piper-en_US-amy-low|3", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Kind != voice.MultiSpeakerVoice || p.Speakers != 3 {
		t.Errorf("got Kind=%v Speakers=%d, want multi_speaker with 3", p.Kind, p.Speakers)
	}

	p, err = voice.Classify("csukuangfj/vits-ljs|studio", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Kind != voice.LexiconVoice || p.Tag != "studio" || p.Speakers != 1 {
		t.Errorf("non-numeric tag changed classification: %+v", p)
	}
}

func TestClassify_Unsupported(t *testing.T) {
	t.Parallel()

	ids := []string{
		"",
		"csukuangfj/unknown-model",
		"csukuangfj/vits-espnet-en-x",
		"csukuangfj/vits-piper-en",
		"|804",
		"csukuangfj/vits-ljs|",
		"someone/vits-vctk",
	}
	for _, id := range ids {
		if _, err := voice.Classify(id, nil); !errors.Is(err, voice.ErrUnsupported) {
			t.Errorf("Classify(%q) error = %v, want ErrUnsupported", id, err)
		}
	}
}

func TestClassify_OrderHubHostedBeforeFamily(t *testing.T) {
	t.Parallel()
	// Matches both the hub-hosted marker and the family shape.
	p, err := voice.Classify("x/vits-piper-hf-voice", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Kind != voice.DictionarySegmentedVoice {
		t.Errorf("Kind = %v, want hub-hosted recipe to win", p.Kind)
	}
}

func TestPlanFiles(t *testing.T) {
	t.Parallel()
	p, err := voice.Classify("csukuangfj/vits-zh-aishell3", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"vits-aishell3.onnx", "lexicon.txt", "tokens.txt", "phone.fst", "date.fst", "number.fst"}
	if got := p.Files(); !slices.Equal(got, want) {
		t.Errorf("Files() = %v, want %v", got, want)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if got := voice.DictionarySegmentedVoice.String(); got != "dictionary_segmented" {
		t.Errorf("String() = %q", got)
	}
	if got := voice.Kind(99).String(); got != "unknown" {
		t.Errorf("String() for out of range = %q", got)
	}
}
