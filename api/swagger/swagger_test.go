package swagger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestRegisteredDocIsValidJSON(t *testing.T) {
	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc struct {
		Paths map[string]interface{} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	for _, p := range []string{"/api/v1/leaves", "/api/v1/documents/{id}/lines/{lineId}/decision", "/api/v1/staff-changes/{id}/sheet"} {
		assert.Contains(t, doc.Paths, p)
	}
}
