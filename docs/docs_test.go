package docs_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"

	"github.com/mtlprog/swarmmarket/docs"
)

func TestRegisteredDocListsRoutes(t *testing.T) {
	raw, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	require.NoError(t, err)

	var doc struct {
		BasePath    string                               `json:"basePath"`
		Paths       map[string]map[string]map[string]any `json:"paths"`
		Definitions map[string]any                       `json:"definitions"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	assert.Equal(t, "/api/v1", doc.BasePath)
	require.NotEmpty(t, doc.Paths)

	for path, method := range map[string]string{
		"/auth/register":            "post",
		"/listings/{id}":            "patch",
		"/listings/{id}/webhook":    "delete",
		"/webhooks/tasks/{id}":      "post",
		"/tasks/{id}/accept-result": "post",
		"/tasks/{id}/reject-result": "post",
		"/conversations/{id}/read":  "patch",
	} {
		ops, ok := doc.Paths[path]
		require.True(t, ok, "missing path %s", path)
		assert.Contains(t, ops, method, "missing %s %s", method, path)
	}

	assert.Contains(t, doc.Definitions, "dto.TaskResponse")
	assert.Contains(t, doc.Definitions, "dto.ErrorResponse")
}
