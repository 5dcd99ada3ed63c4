package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
)

const klinePath = "/quote-b-api/kline"

// klineTypes maps timeframe names onto the provider's kline_type codes.
var klineTypes = map[string]int{
	"1m":  1,
	"5m":  2,
	"15m": 3,
	"30m": 4,
	"1h":  5,
	"4h":  7,
	"1d":  8,
}

// AllTickOptions parameterise the AllTick REST provider.
type AllTickOptions struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// AllTick fetches closed kline bars from the AllTick quote API.
type AllTick struct {
	opts    AllTickOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAllTick constructs an AllTick provider.
func NewAllTick(opts AllTickOptions, logger zerolog.Logger) *AllTick {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://quote.alltick.io"
	}

	return &AllTick{
		opts:    opts,
		logger:  logger.With().Str("component", "alltick_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements Provider.
func (a *AllTick) Name() string { return "AllTick" }

// FetchLatestBar requests the most recent closed kline for the pair.
func (a *AllTick) FetchLatestBar(ctx context.Context, pair domain.Pair) (*domain.Bar, error) {
	kt, ok := klineTypes[pair.Timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", pair.Timeframe)
	}

	query := klineQuery{
		Trace: fmt.Sprintf("barwatch-%d", time.Now().UnixNano()),
		Data: klineQueryData{
			Code:           pair.Symbol,
			KlineType:      kt,
			KlineTimestamp: 0,
			QueryKlineNum:  1,
			AdjustType:     0,
		},
	}
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("token", a.opts.Token)
	params.Set("query", string(queryJSON))

	endpoint := a.baseURL + klinePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "barwatch/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res klineResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	if res.Ret != 200 {
		return nil, fmt.Errorf("alltick api error (%d): %s", res.Ret, res.Msg)
	}
	if len(res.Data.KlineList) == 0 {
		return nil, nil
	}

	k := res.Data.KlineList[0]
	ts, err := strconv.ParseInt(k.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse kline timestamp: %w", err)
	}

	bar := &domain.Bar{
		Symbol:    pair.Symbol,
		Timeframe: pair.Timeframe,
		Timestamp: time.Unix(ts, 0).UTC(),
		Provider:  a.Name(),
	}
	if bar.Open, err = decimal.NewFromString(k.OpenPrice); err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}
	if bar.High, err = decimal.NewFromString(k.HighPrice); err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(k.LowPrice); err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(k.ClosePrice); err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}
	if k.Volume != "" {
		if bar.Volume, err = decimal.NewFromString(k.Volume); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}
	}

	return bar, nil
}

type klineQuery struct {
	Trace string         `json:"trace"`
	Data  klineQueryData `json:"data"`
}

type klineQueryData struct {
	Code           string `json:"code"`
	KlineType      int    `json:"kline_type"`
	KlineTimestamp int64  `json:"kline_timestamp_end"`
	QueryKlineNum  int    `json:"query_kline_num"`
	AdjustType     int    `json:"adjust_type"`
}

type klineResponse struct {
	Ret  int    `json:"ret"`
	Msg  string `json:"msg"`
	Data struct {
		Code      string `json:"code"`
		KlineList []struct {
			Timestamp  string `json:"timestamp"`
			OpenPrice  string `json:"open_price"`
			HighPrice  string `json:"high_price"`
			LowPrice   string `json:"low_price"`
			ClosePrice string `json:"close_price"`
			Volume     string `json:"volume"`
		} `json:"kline_list"`
	} `json:"data"`
}

type errorResponse struct {
	Ret int    `json:"ret"`
	Msg string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("alltick api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("alltick api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("alltick api error (%d)", status)
}

var _ Provider = (*AllTick)(nil)
