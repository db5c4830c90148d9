package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quiz-arena-service/internal/domain"
)

// HTTPSupplier calls the content API's internal generation endpoint,
// authenticated with the shared service secret.
type HTTPSupplier struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPSupplier(baseURL, secret string) *HTTPSupplier {
	return &HTTPSupplier{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSupplier) Generate(ctx context.Context, req Request) (domain.Question, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Question{}, fmt.Errorf("%w: encode request: %v", ErrGeneration, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/internal/questions/generate", bytes.NewReader(body))
	if err != nil {
		return domain.Question{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Internal-Secret", s.secret)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return domain.Question{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Question{}, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, msg)
	}

	var q domain.Question
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return domain.Question{}, fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	q.Category = req.Category
	q.Difficulty = req.Difficulty

	if err := Validate(q); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}
