package model

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// BpeTokenizer is a local deterministic tokenizer capability. It does not
// share a vocabulary with the model being trained, so it is only suitable for
// dry runs of the data pipeline; real runs encode through the trainer.
type BpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewBpeTokenizer(encoding string) (*BpeTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("error loading bpe encoding '%v': %w", encoding, err)
	}
	return &BpeTokenizer{enc: enc}, nil
}

func (t *BpeTokenizer) Encode(text string, maxLength int) ([]int, error) {
	ids := t.enc.EncodeOrdinary(text)
	if maxLength > 0 && len(ids) > maxLength {
		ids = ids[:maxLength]
	}
	return ids, nil
}
