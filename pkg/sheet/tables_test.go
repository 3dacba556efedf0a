package sheet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumCounts(t *testing.T) {
	body := `[
		{"key":"t1","label":"F 01.01","cellcount":30,"invalidcount":3,"children":[
			{"key":"s1","label":"Sheet 1","cellcount":10,"invalidcount":1},
			{"key":"s2","label":"Sheet 2","cellcount":20,"invalidcount":2}
		]},
		{"key":"t2","label":"F 02.00","cellcount":5},
		{"key":"t3","label":"Empty"}
	]`

	var nodes []TableNode
	require.NoError(t, json.Unmarshal([]byte(body), &nodes))

	got := SumCounts(nodes)
	assert.Equal(t, TotalCounts{TotalCellCount: 35, TotalInvalidCount: 3}, got)
}
