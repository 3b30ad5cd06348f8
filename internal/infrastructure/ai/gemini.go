package ai

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

func geminiAdapter() providerAdapter {
	return providerAdapter{
		buildURL:      geminiURL,
		buildRequest:  buildGeminiRequest,
		parseResponse: parseGeminiResponse,
	}
}

// geminiURL appends the API key as a query parameter; Gemini does not
// use an Authorization header.
func geminiURL(endpoint, apiKey string) string {
	return endpoint + "?key=" + url.QueryEscape(apiKey)
}

func buildGeminiRequest(prompt string) ([]byte, error) {
	request := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     0.7,
			"maxOutputTokens": 2048,
			"topP":            0.9,
			"topK":            40,
		},
		"safetySettings": []map[string]string{
			{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
			{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
		},
	}
	return json.Marshal(request)
}

func parseGeminiResponse(body []byte) (string, error) {
	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	parts := response.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", errors.New("candidate has no content parts")
	}
	return strings.TrimSpace(parts[0].Text), nil
}
