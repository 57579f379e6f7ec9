package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultFilters are the characters the word splitter replaces with spaces.
const DefaultFilters = "!\"#$%&()*+,-./:;<=>?@[\\]^_`{|}~\t\n"

// Vocabulary maps words to integer ids the way the model was trained.
type Vocabulary struct {
	index    map[string]int
	numWords int // 0 means unlimited
	oovIndex int // 0 means unknown words are dropped
	lower    bool
	filters  string
}

// kerasTokenizer is the layout of a Keras Tokenizer.to_json() export.
type kerasTokenizer struct {
	ClassName string `json:"class_name"`
	Config    struct {
		NumWords  *int    `json:"num_words"`
		Filters   *string `json:"filters"`
		Lower     *bool   `json:"lower"`
		OOVToken  *string `json:"oov_token"`
		WordIndex string  `json:"word_index"`
	} `json:"config"`
}

// NewVocabulary creates a vocabulary from a word index with default options.
func NewVocabulary(index map[string]int) *Vocabulary {
	return &Vocabulary{index: index, lower: true, filters: DefaultFilters}
}

// LoadVocabulary reads a vocabulary file: either a flat {"word": id} object
// or a Keras tokenizer JSON export.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading vocabulary: %w", ErrModelLoad, err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}
	return v, nil
}

// ParseVocabulary parses vocabulary JSON.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var kt kerasTokenizer
	if err := json.Unmarshal(data, &kt); err == nil && kt.Config.WordIndex != "" {
		index := map[string]int{}
		if err := json.Unmarshal([]byte(kt.Config.WordIndex), &index); err != nil {
			return nil, fmt.Errorf("parsing word_index: %w", err)
		}
		v := NewVocabulary(index)
		if kt.Config.NumWords != nil {
			v.numWords = *kt.Config.NumWords
		}
		if kt.Config.Filters != nil {
			v.filters = *kt.Config.Filters
		}
		if kt.Config.Lower != nil {
			v.lower = *kt.Config.Lower
		}
		if kt.Config.OOVToken != nil {
			v.oovIndex = index[*kt.Config.OOVToken]
		}
		return v, v.validate()
	}

	index := map[string]int{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	v := NewVocabulary(index)
	return v, v.validate()
}

func (v *Vocabulary) validate() error {
	if len(v.index) == 0 {
		return fmt.Errorf("empty word index")
	}
	for w, i := range v.index {
		if i < 1 {
			return fmt.Errorf("word %q has id %d, ids start at 1", w, i)
		}
	}
	return nil
}

// Size returns the number of known words.
func (v *Vocabulary) Size() int {
	return len(v.index)
}

// Encode turns morphs into word ids. The morphs are joined with spaces and
// re-split after lower-casing and filtering, so a morph containing a filter
// character yields several words. Unknown words and words beyond the
// num_words cut-off map to the OOV id, or are dropped without one.
func (v *Vocabulary) Encode(morphs []string) []int {
	text := strings.Join(morphs, " ")
	if v.lower {
		text = strings.ToLower(text)
	}
	if v.filters != "" {
		text = strings.Map(func(r rune) rune {
			if strings.ContainsRune(v.filters, r) {
				return ' '
			}
			return r
		}, text)
	}

	var seq []int
	for _, w := range strings.Split(text, " ") {
		if w == "" {
			continue
		}
		i, ok := v.index[w]
		switch {
		case ok && (v.numWords == 0 || i < v.numWords):
			seq = append(seq, i)
		case v.oovIndex > 0:
			seq = append(seq, v.oovIndex)
		}
	}
	return seq
}

// Pad returns seq as exactly maxLen ids: zeros are prepended to short
// sequences and the oldest ids are cut from long ones. A non-positive maxLen
// yields an empty sequence.
func Pad(seq []int, maxLen int) []int {
	if maxLen < 1 {
		return []int{}
	}
	out := make([]int, maxLen)
	if len(seq) > maxLen {
		seq = seq[len(seq)-maxLen:]
	}
	copy(out[maxLen-len(seq):], seq)
	return out
}
