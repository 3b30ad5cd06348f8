package ai

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const groqModelID = "llama-3.3-70b-versatile"

func groqAdapter() providerAdapter {
	return providerAdapter{
		buildRequest:  buildGroqRequest,
		parseResponse: parseGroqResponse,
		setHeaders:    setGroqHeaders,
	}
}

func buildGroqRequest(prompt string) ([]byte, error) {
	request := map[string]interface{}{
		"model": groqModelID,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.7,
		"max_tokens":  2048,
		"top_p":       0.9,
	}
	return json.Marshal(request)
}

func parseGroqResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func setGroqHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}
