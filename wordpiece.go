package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// WordPiece tokenization, the scheme BERT-family vocabularies use. Unlike a
// trained BPE this tokenizer is entirely vocabulary-driven: given vocab.txt
// (one token per line, id = line number), a word is split greedily into the
// longest prefix present in the vocabulary, then the longest prefix of the
// remainder marked with "##", and so on. A word that cannot be covered at
// all becomes [UNK].
//
// The part the probing pipeline actually depends on is not the ids but the
// WORD SPAN TABLE: jiant-format span annotations index whitespace-delimited
// words of the source text, while the encoder consumes subword positions.
// Encode records, for every source word, the half-open range of token
// positions covering it (including the +1 shift introduced by [CLS]) and
// marks a word unresolved when truncation cut any of its pieces off. Span
// alignment (dataset.go) is a pure table lookup after that.
//
// ===========================================================================

// Special tokens, BERT vocabulary convention.
const (
	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
)

// maxWordChars bounds per-word splitting work; longer words become [UNK].
const maxWordChars = 100

// TokenSpan is a half-open range [Start, End) of token positions.
type TokenSpan struct {
	Start int
	End   int
}

// Encoding is the fixed-length result of tokenizing one text.
type Encoding struct {
	IDs           []int       // length exactly maxLen, padded with [PAD]
	Tokens        []string    // token strings, same length as IDs
	AttentionMask []int       // 1 for [CLS]/pieces/[SEP], 0 for padding
	wordSpans     []TokenSpan // per source word; End==0 marks unresolved
}

// WordToTokens resolves a source word index to its covering token range.
// Returns false for out-of-range words and for words lost to truncation.
// Position 0 is always [CLS], so End==0 can double as the unresolved mark.
func (e *Encoding) WordToTokens(word int) (TokenSpan, bool) {
	if word < 0 || word >= len(e.wordSpans) {
		return TokenSpan{}, false
	}
	span := e.wordSpans[word]
	if span.End == 0 {
		return TokenSpan{}, false
	}
	return span, true
}

// NumWords returns the number of whitespace-delimited words in the source
// text, resolved or not.
func (e *Encoding) NumWords() int {
	return len(e.wordSpans)
}

// WordPiece is a vocabulary-driven subword tokenizer.
type WordPiece struct {
	vocab    map[string]int
	vocabInv map[int]string
	lower    bool // lowercase words before splitting (uncased vocabularies)

	padID, unkID, clsID, sepID int
}

// NewWordPiece builds a tokenizer from an ordered token list. The list must
// contain [PAD], [UNK], [CLS] and [SEP]; ids are list positions.
func NewWordPiece(tokens []string, lower bool) (*WordPiece, error) {
	wp := &WordPiece{
		vocab:    make(map[string]int, len(tokens)),
		vocabInv: make(map[int]string, len(tokens)),
		lower:    lower,
	}

	for id, tok := range tokens {
		if _, dup := wp.vocab[tok]; dup {
			return nil, fmt.Errorf("wordpiece: duplicate token %q at id %d", tok, id)
		}
		wp.vocab[tok] = id
		wp.vocabInv[id] = tok
	}

	for _, required := range []string{PadToken, UnkToken, ClsToken, SepToken} {
		if _, ok := wp.vocab[required]; !ok {
			return nil, fmt.Errorf("wordpiece: vocabulary is missing %s", required)
		}
	}

	wp.padID = wp.vocab[PadToken]
	wp.unkID = wp.vocab[UnkToken]
	wp.clsID = wp.vocab[ClsToken]
	wp.sepID = wp.vocab[SepToken]
	return wp, nil
}

// LoadWordPiece reads a vocab.txt file: one token per line, id = line number.
func LoadWordPiece(path string, lower bool) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wordpiece: failed to open vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r\n")
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wordpiece: error reading vocabulary: %w", err)
	}

	return NewWordPiece(tokens, lower)
}

// Save writes the vocabulary back as vocab.txt, in id order.
func (wp *WordPiece) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wordpiece: failed to create file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for id := 0; id < len(wp.vocabInv); id++ {
		if _, err := fmt.Fprintln(w, wp.vocabInv[id]); err != nil {
			return fmt.Errorf("wordpiece: failed to write token %d: %w", id, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("wordpiece: failed to flush: %w", err)
	}
	return nil
}

// VocabSize returns the vocabulary size.
func (wp *WordPiece) VocabSize() int {
	return len(wp.vocab)
}

// Token returns the token string for an id, or [UNK] for unknown ids.
func (wp *WordPiece) Token(id int) string {
	if tok, ok := wp.vocabInv[id]; ok {
		return tok
	}
	return UnkToken
}

// ID returns the id of a token string.
func (wp *WordPiece) ID(token string) (int, bool) {
	id, ok := wp.vocab[token]
	return id, ok
}

// PadID returns the [PAD] id.
func (wp *WordPiece) PadID() int { return wp.padID }

// ClsID returns the [CLS] id.
func (wp *WordPiece) ClsID() int { return wp.clsID }

// SepID returns the [SEP] id.
func (wp *WordPiece) SepID() int { return wp.sepID }

// UnkID returns the [UNK] id.
func (wp *WordPiece) UnkID() int { return wp.unkID }

// SplitWord splits one word into wordpieces, longest-match-first. A word with
// no covering in the vocabulary (or longer than maxWordChars) is [UNK].
func (wp *WordPiece) SplitWord(word string) []string {
	if wp.lower {
		word = strings.ToLower(word)
	}

	runes := []rune(word)
	if len(runes) == 0 || len(runes) > maxWordChars {
		return []string{UnkToken}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		var piece string
		found := false
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if _, ok := wp.vocab[candidate]; ok {
				piece = candidate
				found = true
				break
			}
			end--
		}
		if !found {
			return []string{UnkToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// Encode tokenizes a text into a fixed-length [CLS] pieces... [SEP] [PAD]...
// layout and records the word span table. Span indices in jiant data refer to
// whitespace-delimited words of the text; that is exactly the word list built
// here. A word whose pieces do not all fit before the [SEP] cut is left
// unresolved in the table.
func (wp *WordPiece) Encode(text string, maxLen int) Encoding {
	if maxLen < 2 {
		panic("wordpiece: maxLen must fit at least [CLS] and [SEP]")
	}

	words := strings.Fields(text)

	enc := Encoding{
		IDs:           make([]int, 0, maxLen),
		Tokens:        make([]string, 0, maxLen),
		AttentionMask: make([]int, 0, maxLen),
		wordSpans:     make([]TokenSpan, len(words)),
	}

	enc.IDs = append(enc.IDs, wp.clsID)
	enc.Tokens = append(enc.Tokens, ClsToken)
	enc.AttentionMask = append(enc.AttentionMask, 1)

	// One position is reserved for [SEP].
	limit := maxLen - 1
	for wi, word := range words {
		pieces := wp.SplitWord(word)
		if len(enc.IDs)+len(pieces) > limit {
			break
		}
		start := len(enc.IDs)
		for _, piece := range pieces {
			id, ok := wp.vocab[piece]
			if !ok {
				id = wp.unkID
			}
			enc.IDs = append(enc.IDs, id)
			enc.Tokens = append(enc.Tokens, piece)
			enc.AttentionMask = append(enc.AttentionMask, 1)
		}
		enc.wordSpans[wi] = TokenSpan{Start: start, End: len(enc.IDs)}
	}

	enc.IDs = append(enc.IDs, wp.sepID)
	enc.Tokens = append(enc.Tokens, SepToken)
	enc.AttentionMask = append(enc.AttentionMask, 1)

	for len(enc.IDs) < maxLen {
		enc.IDs = append(enc.IDs, wp.padID)
		enc.Tokens = append(enc.Tokens, PadToken)
		enc.AttentionMask = append(enc.AttentionMask, 0)
	}

	return enc
}
