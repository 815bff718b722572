package dataset

import (
	"fmt"

	"github.com/dzuokumor/LoRA/corpus"
	"github.com/dzuokumor/LoRA/model"
)

// TemplateFunc renders a system prompt and a user turn into the model's
// structured prompt text. It must be pure.
type TemplateFunc func(systemPrompt, userText string) string

// ChatTemplate renders the chat format the base model was trained on.
func ChatTemplate(systemPrompt, userText string) string {
	return fmt.Sprintf("<|system|>\n%s</s>\n<|user|>\n%s</s>\n<|assistant|>\n", systemPrompt, userText)
}

// FormattedExample is one rendered, tokenized record. It belongs to exactly
// one split.
type FormattedExample struct {
	Prompt   string
	Target   string
	TokenIDs []int
}

// FormatError identifies a record that could not be rendered or tokenized.
// Formatting failures are skip-and-count: the caller excludes the record and
// keeps going.
type FormatError struct {
	Source      corpus.Source
	Index       int
	Instruction string
	Err         error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot format record %d (source %v, instruction %.40q): %v", e.Index, e.Source, e.Instruction, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatRecord(rec corpus.RawRecord, index int, systemPrompt string, template TemplateFunc, tokenizer model.Tokenizer, maxLength int) (FormattedExample, error) {
	prompt := template(systemPrompt, rec.Instruction)
	target := rec.Response + "</s>"

	tokens, err := tokenizer.Encode(prompt+target, maxLength)
	if err != nil {
		return FormattedExample{}, &FormatError{Source: rec.Source, Index: index, Instruction: rec.Instruction, Err: err}
	}
	if len(tokens) == 0 {
		return FormattedExample{}, &FormatError{Source: rec.Source, Index: index, Instruction: rec.Instruction, Err: fmt.Errorf("tokenizer produced zero tokens")}
	}

	return FormattedExample{Prompt: prompt, Target: rec.Response, TokenIDs: tokens}, nil
}
