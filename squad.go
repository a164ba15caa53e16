package main

import (
	"fmt"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// SQuAD-style featurization: turning a (question, context) pair into
// encoder-ready windows. The context can be longer than one sequence, so it
// slides:
//
//	[CLS] query pieces [SEP] context window [SEP] [PAD]...
//	                         ^--- advances by docStride per window
//
// Windows overlap, which means a context token can appear in several
// features. The MAX-CONTEXT rule picks, for every token, the single window
// where it sits most centrally (score = min(left, right) + 0.01·windowLen);
// answer spans are only allowed to START at a token in its max-context
// window, so overlapping windows never produce duplicate answers for the
// same position.
//
// Positions are tracked at two granularities throughout: ORIGINAL tokens
// (whitespace words of the context, what the answer text is built from) and
// wordpieces (what the encoder consumes). TokenToOrig is the bridge back;
// only context pieces appear in it, which is also how answer parsing knows
// a logit position belongs to the context and not the query or a special.
//
// ===========================================================================

// SQuADExample is one question over one context passage.
type SQuADExample struct {
	Question string

	// DocTokens are the whitespace-delimited words of the context.
	// Answers are ranges of these.
	DocTokens []string
}

// NewSQuADExample builds an example from raw question and context strings.
func NewSQuADExample(question, context string) (*SQuADExample, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("squad: empty question")
	}
	docTokens := strings.Fields(context)
	if len(docTokens) == 0 {
		return nil, fmt.Errorf("squad: empty context")
	}
	return &SQuADExample{Question: question, DocTokens: docTokens}, nil
}

// InputFeatures is one encoder-ready window of a featurized example.
type InputFeatures struct {
	Tokens []string // [CLS] query [SEP] window [SEP], unpadded

	TokenIDs []int // padded to maxSeqLen
	TypeIDs  []int // 0 for query segment, 1 for context segment, 0 for padding
	Mask     []int // 1 for real tokens, 0 for padding

	// TokenToOrig maps a context piece's position in Tokens back to its
	// original context word. Query, specials and padding are absent.
	TokenToOrig map[int]int

	// TokenIsMaxContext marks positions where THIS window is the one the
	// token is most central in.
	TokenIsMaxContext map[int]bool

	// DocSpanStart is the window's offset into the context piece stream.
	DocSpanStart int
}

type docSpan struct {
	start  int
	length int
}

// FeaturizeExample expands an example into its sliding windows. Every
// returned feature is exactly maxSeqLen ids long; the query is truncated to
// maxQueryLen pieces first, and whatever room remains after the query and
// the three specials is the window size.
func FeaturizeExample(wp *WordPiece, ex *SQuADExample, maxSeqLen, docStride, maxQueryLen int) ([]InputFeatures, error) {
	var queryPieces []string
	for _, word := range strings.Fields(ex.Question) {
		queryPieces = append(queryPieces, wp.SplitWord(word)...)
	}
	if len(queryPieces) > maxQueryLen {
		queryPieces = queryPieces[:maxQueryLen]
	}

	// Flatten the context into pieces, remembering each piece's word.
	var docPieces []string
	var pieceToOrig []int
	for wi, word := range ex.DocTokens {
		for _, piece := range wp.SplitWord(word) {
			docPieces = append(docPieces, piece)
			pieceToOrig = append(pieceToOrig, wi)
		}
	}

	// [CLS], [SEP] and [SEP] take three positions.
	maxTokensForDoc := maxSeqLen - len(queryPieces) - 3
	if maxTokensForDoc < 1 {
		return nil, fmt.Errorf("squad: query of %d pieces leaves no room for context in %d positions",
			len(queryPieces), maxSeqLen)
	}

	var spans []docSpan
	for start := 0; start < len(docPieces); {
		length := min(len(docPieces)-start, maxTokensForDoc)
		spans = append(spans, docSpan{start: start, length: length})
		if start+length == len(docPieces) {
			break
		}
		start += min(length, docStride)
	}

	features := make([]InputFeatures, 0, len(spans))
	for spanIndex, span := range spans {
		feat := InputFeatures{
			TokenToOrig:       make(map[int]int, span.length),
			TokenIsMaxContext: make(map[int]bool, span.length),
			DocSpanStart:      span.start,
		}

		appendTok := func(piece string, typeID int) {
			id, ok := wp.ID(piece)
			if !ok {
				id = wp.UnkID()
			}
			feat.Tokens = append(feat.Tokens, piece)
			feat.TokenIDs = append(feat.TokenIDs, id)
			feat.TypeIDs = append(feat.TypeIDs, typeID)
			feat.Mask = append(feat.Mask, 1)
		}

		appendTok(ClsToken, 0)
		for _, piece := range queryPieces {
			appendTok(piece, 0)
		}
		appendTok(SepToken, 0)

		for i := 0; i < span.length; i++ {
			pieceIndex := span.start + i
			feat.TokenToOrig[len(feat.Tokens)] = pieceToOrig[pieceIndex]
			feat.TokenIsMaxContext[len(feat.Tokens)] = checkIsMaxContext(spans, spanIndex, pieceIndex)
			appendTok(docPieces[pieceIndex], 1)
		}
		appendTok(SepToken, 1)

		for len(feat.TokenIDs) < maxSeqLen {
			feat.TokenIDs = append(feat.TokenIDs, wp.PadID())
			feat.TypeIDs = append(feat.TypeIDs, 0)
			feat.Mask = append(feat.Mask, 0)
		}

		features = append(features, feat)
	}
	return features, nil
}

// checkIsMaxContext reports whether the window at curIndex is the one where
// the piece at position sits most centrally. Of all windows containing the
// position, the winner maximizes min(left context, right context) with a
// small bonus for longer windows as the tie-break.
func checkIsMaxContext(spans []docSpan, curIndex, position int) bool {
	bestIndex := -1
	bestScore := 0.0
	for i, span := range spans {
		end := span.start + span.length - 1
		if position < span.start || position > end {
			continue
		}
		left := position - span.start
		right := end - position
		score := float64(min(left, right)) + 0.01*float64(span.length)
		if bestIndex < 0 || score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}
	return bestIndex == curIndex
}
