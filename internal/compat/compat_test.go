package compat_test

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitize/version-service/internal/compat"
	"github.com/apitize/version-service/internal/models"
)

func loadSpec(t *testing.T, data string) *openapi3.T {
	t.Helper()
	doc, err := compat.ParseSpec([]byte(data))
	require.NoError(t, err)
	return doc
}

const baseSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "orders", "version": "1.0.0"},
  "paths": {
    "/orders": {
      "get": {
        "responses": {
          "200": {
            "description": "list",
            "content": {
              "application/json": {
                "schema": {"type": "array", "items": {"type": "object"}}
              }
            }
          }
        }
      }
    },
    "/orders/{id}": {
      "get": {
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "one order"}
        }
      }
    }
  }
}`

func TestCompareIdenticalSpecs(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, baseSpec)

	report := compat.Compare("orders-api", "1.0.0", "1.0.1", from, to)

	assert.True(t, report.Compatible)
	assert.Empty(t, report.BreakingChanges)
	assert.Equal(t, 100, report.Score)
}

func TestCompareRemovedEndpoint(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "2.0.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {
	            "description": "list",
	            "content": {
	              "application/json": {
	                "schema": {"type": "array", "items": {"type": "object"}}
	              }
	            }
	          }
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "2.0.0", from, to)

	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, compat.ChangeRemovedEndpoint, report.BreakingChanges[0].Type)
	assert.Equal(t, models.SeverityCritical, report.BreakingChanges[0].Severity)
	assert.Equal(t, "/orders/{id}", report.BreakingChanges[0].Path)
	assert.Equal(t, 75, report.Score)
	assert.False(t, report.Compatible)
}

func TestCompareRemovedMethod(t *testing.T) {
	from := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "1.0.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {"description": "list"}
	        }
	      },
	      "post": {
	        "responses": {
	          "200": {"description": "created"}
	        }
	      }
	    }
	  }
	}`)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "2.0.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {"description": "list"}
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "2.0.0", from, to)

	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, compat.ChangeRemovedMethod, report.BreakingChanges[0].Type)
	assert.Equal(t, models.SeverityCritical, report.BreakingChanges[0].Severity)
	assert.Equal(t, "/orders", report.BreakingChanges[0].Path)
	assert.Equal(t, "POST", report.BreakingChanges[0].Method)
	assert.Equal(t, 75, report.Score)
	assert.False(t, report.Compatible)
}

func TestCompareChangedParamType(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "1.1.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {
	            "description": "list",
	            "content": {
	              "application/json": {
	                "schema": {"type": "array", "items": {"type": "object"}}
	              }
	            }
	          }
	        }
	      }
	    },
	    "/orders/{id}": {
	      "get": {
	        "parameters": [
	          {"name": "id", "in": "path", "required": true, "schema": {"type": "integer"}}
	        ],
	        "responses": {
	          "200": {"description": "one order"}
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "1.1.0", from, to)

	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, compat.ChangeParamType, report.BreakingChanges[0].Type)
	assert.Equal(t, models.SeverityMedium, report.BreakingChanges[0].Severity)
	assert.Equal(t, "/orders/{id}", report.BreakingChanges[0].Path)
	assert.Equal(t, 90, report.Score)
}

func TestCompareChangedResponseFormat(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "1.1.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {
	            "description": "list",
	            "content": {
	              "application/json": {
	                "schema": {"type": "object"}
	              }
	            }
	          }
	        }
	      }
	    },
	    "/orders/{id}": {
	      "get": {
	        "parameters": [
	          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
	        ],
	        "responses": {
	          "200": {"description": "one order"}
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "1.1.0", from, to)

	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, compat.ChangeResponseFormat, report.BreakingChanges[0].Type)
	assert.Equal(t, models.SeverityHigh, report.BreakingChanges[0].Severity)
	assert.Equal(t, "GET", report.BreakingChanges[0].Method)
	assert.Equal(t, 85, report.Score)
}

func TestCompareAddedRequiredParam(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "1.1.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "parameters": [
	          {"name": "tenant", "in": "query", "required": true, "schema": {"type": "string"}}
	        ],
	        "responses": {
	          "200": {
	            "description": "list",
	            "content": {
	              "application/json": {
	                "schema": {"type": "array", "items": {"type": "object"}}
	              }
	            }
	          }
	        }
	      }
	    },
	    "/orders/{id}": {
	      "get": {
	        "parameters": [
	          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
	        ],
	        "responses": {
	          "200": {"description": "one order"}
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "1.1.0", from, to)

	require.Len(t, report.BreakingChanges, 1)
	assert.Equal(t, compat.ChangeAddedRequiredParam, report.BreakingChanges[0].Type)
	assert.Equal(t, models.SeverityHigh, report.BreakingChanges[0].Severity)
}

func TestCompareAddedEndpointIsWarningOnly(t *testing.T) {
	from := loadSpec(t, baseSpec)
	to := loadSpec(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "orders", "version": "1.1.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "responses": {
	          "200": {
	            "description": "list",
	            "content": {
	              "application/json": {
	                "schema": {"type": "array", "items": {"type": "object"}}
	              }
	            }
	          }
	        }
	      }
	    },
	    "/orders/{id}": {
	      "get": {
	        "parameters": [
	          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
	        ],
	        "responses": {
	          "200": {"description": "one order"}
	        }
	      }
	    },
	    "/refunds": {
	      "post": {
	        "responses": {
	          "200": {"description": "refund created"}
	        }
	      }
	    }
	  }
	}`)

	report := compat.Compare("orders-api", "1.0.0", "1.1.0", from, to)

	assert.True(t, report.Compatible)
	assert.Equal(t, 100, report.Score)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, compat.WarningAddedEndpoint, report.Warnings[0].Type)
}

func TestParseSpecRejectsGarbage(t *testing.T) {
	_, err := compat.ParseSpec([]byte("not a spec"))
	assert.ErrorIs(t, err, models.ErrInvalidSpecification)
}
