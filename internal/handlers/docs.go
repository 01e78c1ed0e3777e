package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func queryParam(name, description, typ string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      map[string]string{"type": typ},
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "integer"},
	}
}

func jsonResponses(ok string, codes ...int) map[string]interface{} {
	responses := map[string]interface{}{
		"200": map[string]interface{}{
			"description": ok,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		},
	}
	for _, code := range codes {
		responses[strconv.Itoa(code)] = map[string]interface{}{
			"description": http.StatusText(code),
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/Error"},
				},
			},
		}
	}
	return responses
}

var windowParams = []map[string]interface{}{
	queryParam("from", "Window start, YYYY-MM-DD or RFC3339 (civil time)", "string", true),
	queryParam("to", "Window end, exclusive", "string", true),
	queryParam("resolution", "D, h or 15min (default h)", "string", false),
	queryParam("offset_summertime", "Return timestamps in CET/CEST instead of the fixed reference zone", "boolean", false),
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Load Forecast API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Load Forecast API",
			"description": "Day-profile (VTV) rollout forecasts of electrical load curves",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/timeseries": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Look up series by name",
					"parameters": []map[string]interface{}{queryParam("name", "Substring or LIKE pattern", "string", true)},
					"responses":  jsonResponses("Matching series", 400),
				},
			},
			"/api/timeseries/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Series description",
					"parameters": []map[string]interface{}{pathParam("id", "Valuelist id")},
					"responses":  jsonResponses("Series description", 400, 404),
				},
			},
			"/api/timeseries/{id}/values": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Series values reindexed onto the full window, null for gaps",
					"parameters": append([]map[string]interface{}{pathParam("id", "Valuelist id")}, windowParams...),
					"responses":  jsonResponses("Series values", 400, 404),
				},
			},
			"/api/forecast/rollout": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Run a VTV rollout",
					"description": "History is taken from ts_id or from an inline series. Option overrides are merged onto the server defaults.",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]string{"$ref": "#/components/schemas/RolloutRequest"},
							},
						},
					},
					"responses": jsonResponses("Forecast, per-day coverage and yearly energy comparison", 400, 404),
				},
			},
			"/api/forecast/accuracy": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Accuracy of a stored forecast against stored actuals",
					"parameters": append([]map[string]interface{}{
						queryParam("actual_id", "Valuelist id of the actuals", "integer", true),
						queryParam("predicted_id", "Valuelist id of the forecast", "integer", true),
					}, windowParams...),
					"responses": jsonResponses("MAE, MSE, RMSE, MAPE and coverage", 400, 404),
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Health check",
					"responses": jsonResponses("Service and dependency status", 503),
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
				"RolloutRequest": map[string]interface{}{
					"type":     "object",
					"required": []string{"start", "end"},
					"properties": map[string]interface{}{
						"ts_id":             map[string]string{"type": "integer"},
						"history":           map[string]string{"type": "object"},
						"history_from":      map[string]string{"type": "string", "format": "date-time"},
						"history_to":        map[string]string{"type": "string", "format": "date-time"},
						"resolution":        map[string]string{"type": "string"},
						"offset_summertime": map[string]string{"type": "boolean"},
						"start":             map[string]string{"type": "string", "format": "date-time"},
						"end":               map[string]string{"type": "string", "format": "date-time"},
						"options": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"max_window_size": map[string]string{"type": "integer"},
								"window_size":     map[string]string{"type": "integer"},
								"expand_step":     map[string]string{"type": "integer"},
								"n_val_min":       map[string]string{"type": "integer"},
								"n_iter_max":      map[string]string{"type": "integer"},
								"daytype_replace": map[string]string{"type": "integer"},
								"tz":              map[string]string{"type": "string"},
								"freq":            map[string]string{"type": "string"},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
