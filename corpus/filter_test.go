package corpus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(instruction, response string) RawRecord {
	return RawRecord{Source: SourceGeneral, Instruction: instruction, Response: response}
}

func TestFilterKeywordMatch(t *testing.T) {
	records := []RawRecord{
		rec("What is a neural network?", "A neural network is a function approximator."),
		rec("Best pasta recipe?", "Boil water, add salt."),
		rec("Explain gradient descent", "It minimizes a loss function iteratively."),
		rec("GRADIENT checking", "compare analytic and numeric derivatives"),
	}

	filtered := Filter(records, []string{"neural network", "gradient"})

	require.Len(t, filtered, 3)
	assert.Equal(t, records[0], filtered[0])
	assert.Equal(t, records[2], filtered[1])
	assert.Equal(t, records[3], filtered[2])
}

func TestFilterEmptyKeywordSetRetainsNothing(t *testing.T) {
	records := []RawRecord{rec("a", "b"), rec("c", "d")}

	assert.Empty(t, Filter(records, nil))
	assert.Empty(t, Filter(records, []string{}))
	assert.Empty(t, Filter(records, []string{"  ", ""}))
}

func TestFilterCaseInsensitive(t *testing.T) {
	records := []RawRecord{rec("TRANSFORMER architectures", "attention is all you need")}

	assert.Len(t, Filter(records, []string{"transformer"}), 1)
	assert.Len(t, Filter(records, []string{"ATTENTION"}), 1)
	assert.Empty(t, Filter(records, []string{"convolution"}))
}

func TestFilterPreservesOrder(t *testing.T) {
	records := make([]RawRecord, 0, 100)
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			records = append(records, rec("keep", strings.Repeat("ml ", i+1)))
		} else {
			records = append(records, rec("skip", "nothing relevant"))
		}
	}

	filtered := Filter(records, []string{"ml"})

	prev := -1
	for _, f := range filtered {
		assert.Equal(t, "keep", f.Instruction)
		idx := len(f.Response) / 3 // recover original index from response length
		assert.Greater(t, idx, prev)
		prev = idx
	}
}

func TestReadJSONL(t *testing.T) {
	input := `{"instruction": "q1", "response": "a1"}
{"instruction": "q2", "response": "a2"}`

	records, err := ReadJSONL(strings.NewReader(input), SourceDomainQA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, SourceDomainQA, records[0].Source)
	assert.Equal(t, "q1", records[0].Instruction)
	assert.Equal(t, "a2", records[1].Response)
}

func TestReadJSONLMalformed(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader(`{"instruction": "q1"`), SourceGeneral)
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	input := "instruction,response\nq1,a1\nq2,a2\n"

	records, err := ReadCSV(strings.NewReader(input), SourceGeneral)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "q2", records[1].Instruction)
	assert.Equal(t, "a1", records[0].Response)
}

func TestReadCSVAlternateHeaders(t *testing.T) {
	input := "question,answer\nq1,a1\n"

	records, err := ReadCSV(strings.NewReader(input), SourceDomainQA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "q1", records[0].Instruction)
}

func TestReadCSVMissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("foo,bar\nx,y\n"), SourceGeneral)
	assert.Error(t, err)
}
