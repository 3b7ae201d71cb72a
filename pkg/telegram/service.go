package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

type Service struct {
	apiURL     string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
	breaker    *gobreaker.CircuitBreaker
}

func (s *Service) LoggerComponent() string {
	return "Telegram.Service"
}

func NewService(apiURL, token string, opts ...ServiceOption) (*Service, error) {
	if token == "" {
		return nil, errors.New("telegram: empty bot token")
	}

	c := &Service{
		apiURL:     apiURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Logger,
	}

	for _, o := range opts {
		o(c)
	}

	c.logger = c.logger.With().Str("component", c.LoggerComponent()).Logger()

	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(DefaultBreakerSettings(c.logger))
	}

	return c, nil
}

type ServiceOption func(*Service)

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = c
	}
}

func WithBreaker(st gobreaker.Settings) ServiceOption {
	return func(s *Service) {
		s.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// DefaultBreakerSettings opens after 5 consecutive transport failures for 30s
func DefaultBreakerSettings(l zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}
}

func (s *Service) SendMessage(ctx context.Context, in *SendMessageRequest) (*Message, error) {
	l := s.logger.With().
		Str("method", "SendMessage").
		Int64("chat_id", in.ChatID).
		Logger()
	ctx = l.WithContext(ctx)

	out := &Message{}
	if err := s.genericCall(ctx, "sendMessage", in, out); err != nil {
		return nil, err
	}

	l.Debug().Int64("message_id", out.MessageID).Msg("SendMessage success")

	return out, nil
}

func (s *Service) EditMessageText(ctx context.Context, in *EditMessageTextRequest) error {
	l := s.logger.With().
		Str("method", "EditMessageText").
		Int64("chat_id", in.ChatID).
		Int64("message_id", in.MessageID).
		Logger()
	ctx = l.WithContext(ctx)

	var out json.RawMessage
	return s.genericCall(ctx, "editMessageText", in, &out)
}

func (s *Service) AnswerCallbackQuery(ctx context.Context, in *AnswerCallbackQueryRequest) error {
	l := s.logger.With().
		Str("method", "AnswerCallbackQuery").
		Str("callback_query_id", in.CallbackQueryID).
		Logger()
	ctx = l.WithContext(ctx)

	var ok bool
	return s.genericCall(ctx, "answerCallbackQuery", in, &ok)
}

func (s *Service) SetWebhook(ctx context.Context, in *SetWebhookRequest) error {
	l := s.logger.With().
		Str("method", "SetWebhook").
		Str("url", in.URL).
		Logger()
	ctx = l.WithContext(ctx)

	var ok bool
	return s.genericCall(ctx, "setWebhook", in, &ok)
}

type RemoteError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  time.Duration
}

func NewRemoteError(statusCode int, res *apiResponse) *RemoteError {
	e := &RemoteError{StatusCode: statusCode, ErrorCode: res.ErrorCode, Description: res.Description}
	if res.Parameters != nil {
		e.RetryAfter = time.Duration(res.Parameters.RetryAfter) * time.Second
	}
	return e
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.ErrorCode, e.Description)
}

// Temporary reports whether the call may succeed when repeated
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// genericCall runs a Bot API method through the circuit breaker.
// Permanent remote errors (4xx) bypass the failure count.
func (s *Service) genericCall(ctx context.Context, method string, in interface{}, out interface{}) error {
	l := zerolog.Ctx(ctx).With().Str("api_method", method).Logger()
	ctx = l.WithContext(ctx)

	res, err := s.breaker.Execute(func() (interface{}, error) {
		res, err := s.call(ctx, method, in)
		if err != nil {
			return nil, err
		}
		var re *RemoteError
		if errors.As(res.err, &re) && re.Temporary() {
			return nil, res.err
		}
		return res, nil
	})
	if err != nil {
		l.Error().Err(err).Msg("Service request failed")
		return fmt.Errorf("%s: %w", method, err)
	}

	r := res.(*callResult)
	if r.err != nil {
		l.Error().Err(r.err).Msg("Service responded with error")
		return fmt.Errorf("%s: %w", method, r.err)
	}

	if out != nil && len(r.result) > 0 {
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("%s: result decode: %w", method, err)
		}
	}

	return nil
}

type callResult struct {
	result rawJSON
	err    error
}

func (s *Service) call(ctx context.Context, method string, in interface{}) (*callResult, error) {
	res, err := s.request(ctx, method, in)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	out := &apiResponse{}
	if err := readJSON(res.Body, out); err != nil {
		return nil, fmt.Errorf("body read: %w", err)
	}

	if !out.OK || res.StatusCode >= 400 {
		return &callResult{err: NewRemoteError(res.StatusCode, out)}, nil
	}

	return &callResult{result: out.Result}, nil
}

func (s *Service) request(ctx context.Context, method string, bodyParams interface{}) (*http.Response, error) {
	fullURL := fmt.Sprintf("%s/bot%s/%s", s.apiURL, s.token, method)
	l := zerolog.Ctx(ctx).With().
		Str("http_method", http.MethodPost).
		Str("api_method", method).
		Logger()
	l.Debug().Msg("HTTP request")

	body, err := json.Marshal(bodyParams)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")

	l.Debug().Str("request_body", string(body)).Msg("Doing request")

	res, err := s.httpClient.Do(req)
	if err != nil {
		l.Error().Err(err).Msg("Call failed")
		return nil, fmt.Errorf("do request: %w", err)
	}

	return res, nil
}
