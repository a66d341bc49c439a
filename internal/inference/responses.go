package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// APIError is an error answer from the inference API.
type APIError struct {
	StatusCode    int
	Message       string
	EstimatedTime float64
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inference: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("inference: HTTP %d: %s", e.StatusCode, e.Message)
}

// Loading reports whether the model is still being loaded upstream.
func (e *APIError) Loading() bool {
	return e.StatusCode == 503
}

// errorBody is the {"error": ...} shape the API uses for failures.
type errorBody struct {
	Error         json.RawMessage `json:"error"`
	EstimatedTime float64         `json:"estimated_time"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && len(eb.Error) > 0 {
		var msg string
		if json.Unmarshal(eb.Error, &msg) == nil {
			apiErr.Message = msg
		} else {
			apiErr.Message = string(eb.Error)
		}
		apiErr.EstimatedTime = eb.EstimatedTime
	}
	return apiErr
}

// LabelScore is one scored label from a classification or sentiment model.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SummaryResult is the summarization answer: [{"summary_text": "..."}].
type SummaryResult struct {
	Text string
}

func (r *SummaryResult) UnmarshalJSON(data []byte) error {
	var items []struct {
		SummaryText   *string `json:"summary_text"`
		GeneratedText *string `json:"generated_text"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if len(items) == 0 {
		r.Text = ""
		return nil
	}
	switch {
	case items[0].SummaryText != nil:
		r.Text = *items[0].SummaryText
	case items[0].GeneratedText != nil:
		r.Text = *items[0].GeneratedText
	default:
		return fmt.Errorf("summary: missing summary_text")
	}
	return nil
}

// ClassificationResult is the zero-shot answer, ordered by descending score.
// The API answers either {"labels": [...], "scores": [...]} or [{"label", "score"}].
type ClassificationResult struct {
	Labels []LabelScore
}

func (r *ClassificationResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("classification: empty body")
	}

	switch data[0] {
	case '{':
		var obj struct {
			Labels []string  `json:"labels"`
			Scores []float64 `json:"scores"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("classification: %w", err)
		}
		if obj.Labels == nil {
			return fmt.Errorf("classification: missing labels")
		}
		r.Labels = make([]LabelScore, len(obj.Labels))
		for i, l := range obj.Labels {
			r.Labels[i].Label = l
			if i < len(obj.Scores) {
				r.Labels[i].Score = obj.Scores[i]
			}
		}
	case '[':
		var list []LabelScore
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("classification: %w", err)
		}
		r.Labels = list
	default:
		return fmt.Errorf("classification: unexpected shape")
	}

	sortByScore(r.Labels)
	return nil
}

// Top returns the best label, or "" when there is none.
func (r ClassificationResult) Top() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[0].Label
}

// SentimentResult is the sentiment answer, ordered by descending score.
// The API answers either [[{"label", "score"}]] or [{"label", "score"}].
type SentimentResult struct {
	Labels []LabelScore
}

func (r *SentimentResult) UnmarshalJSON(data []byte) error {
	var nested [][]LabelScore
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) > 0 {
			r.Labels = nested[0]
		}
		sortByScore(r.Labels)
		return nil
	}

	var flat []LabelScore
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("sentiment: %w", err)
	}
	r.Labels = flat
	sortByScore(r.Labels)
	return nil
}

// Top returns the best label, or "" when there is none.
func (r SentimentResult) Top() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[0].Label
}

func sortByScore(ls []LabelScore) {
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].Score > ls[j].Score })
}
