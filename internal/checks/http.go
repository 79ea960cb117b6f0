package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/oliveagle/jsonpath"
)

const KindHTTP = "http"

const maxHTTPBody = 1 << 20

// HTTP issues a single request to the host and checks the response status,
// optionally a JSON body value and optionally a boolean expression over the
// response.
type HTTP struct {
	Scheme    string
	Port      uint16
	Path      string
	Method    string
	StatusMin int
	StatusMax int
	JSONPath  string
	JSONValue interface{}
	Expect    string

	expr   *govaluate.EvaluableExpression
	client *http.Client
}

type httpConfig struct {
	Scheme       string      `mapstructure:"scheme"`
	Port         *int        `mapstructure:"port"`
	Path         string      `mapstructure:"path"`
	Method       string      `mapstructure:"method"`
	ExpectStatus interface{} `mapstructure:"expect_status"`
	JSONPath     string      `mapstructure:"json_path"`
	JSONValue    interface{} `mapstructure:"json_value"`
	Expect       string      `mapstructure:"expect"`
}

func buildHTTP(payload map[string]interface{}) (Checker, error) {
	var cfg httpConfig
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	h := &HTTP{
		Scheme:    strings.ToLower(cfg.Scheme),
		Path:      cfg.Path,
		Method:    strings.ToUpper(cfg.Method),
		JSONPath:  cfg.JSONPath,
		JSONValue: cfg.JSONValue,
		Expect:    cfg.Expect,
	}
	switch h.Scheme {
	case "":
		h.Scheme = "http"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", cfg.Scheme)
	}
	switch h.Method {
	case "":
		h.Method = http.MethodGet
	case http.MethodGet, http.MethodHead:
	default:
		return nil, fmt.Errorf("unsupported method %q", cfg.Method)
	}
	if h.Path == "" {
		h.Path = "/"
	}
	if !strings.HasPrefix(h.Path, "/") {
		return nil, fmt.Errorf("path %q must start with /", h.Path)
	}
	port, err := decodePort(cfg.Port, 0, false)
	if err != nil {
		return nil, err
	}
	h.Port = port
	h.StatusMin, h.StatusMax, err = parseStatusRange(cfg.ExpectStatus)
	if err != nil {
		return nil, err
	}
	if h.JSONValue != nil && h.JSONPath == "" {
		return nil, fmt.Errorf("json_value requires json_path")
	}
	if h.JSONPath != "" && h.Method == http.MethodHead {
		return nil, fmt.Errorf("json_path cannot be used with HEAD requests")
	}
	if h.Expect != "" {
		h.expr, err = govaluate.NewEvaluableExpression(h.Expect)
		if err != nil {
			return nil, fmt.Errorf("invalid expect expression %q: %w", h.Expect, err)
		}
	}
	h.client = &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h, nil
}

// parseStatusRange accepts a single code (200) or an inclusive range ("200-299").
func parseStatusRange(raw interface{}) (int, int, error) {
	switch v := raw.(type) {
	case nil:
		return 200, 399, nil
	case int:
		return checkStatusRange(v, v)
	case string:
		first, last, found := strings.Cut(strings.TrimSpace(v), "-")
		lo, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid expect_status %q", v)
		}
		if !found {
			return checkStatusRange(lo, lo)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid expect_status %q", v)
		}
		return checkStatusRange(lo, hi)
	default:
		return 0, 0, fmt.Errorf("expect_status must be a number or a range string, got %T", raw)
	}
}

func checkStatusRange(lo, hi int) (int, int, error) {
	if lo < 100 || hi > 599 || lo > hi {
		return 0, 0, fmt.Errorf("invalid expect_status range %d-%d", lo, hi)
	}
	return lo, hi, nil
}

func (h *HTTP) Kind() string {
	return KindHTTP
}

func (h *HTTP) url(host string) (string, error) {
	hostPart, err := normalizeHost(host)
	if err != nil {
		return "", err
	}
	if h.Port != 0 {
		hostPart = net.JoinHostPort(hostPart, strconv.Itoa(int(h.Port)))
	} else if strings.Contains(hostPart, ":") {
		hostPart = "[" + hostPart + "]"
	}
	return h.Scheme + "://" + hostPart + h.Path, nil
}

func (h *HTTP) Check(ctx context.Context, host string) error {
	target, err := h.url(host)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, h.Method, target, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrInternal, err)
	}
	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return classifyTLSError(ctx, target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return classifyNetError(ctx, target, err)
	}
	latency := time.Since(start)

	if resp.StatusCode < h.StatusMin || resp.StatusCode > h.StatusMax {
		return fmt.Errorf("%w: %s returned %s (want %d-%d)", ErrProtocol, target, resp.Status, h.StatusMin, h.StatusMax)
	}
	if h.JSONPath != "" {
		if err := h.checkJSON(body); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrProtocol, target, err)
		}
	}
	if h.expr != nil {
		params := map[string]interface{}{
			"status":     float64(resp.StatusCode),
			"latency_ms": float64(latency) / float64(time.Millisecond),
		}
		out, err := h.expr.Evaluate(params)
		if err != nil {
			return fmt.Errorf("%w: evaluate %q: %v", ErrProtocol, h.Expect, err)
		}
		if ok, _ := out.(bool); !ok {
			return fmt.Errorf("%w: %s: expectation %q not met", ErrProtocol, target, h.Expect)
		}
	}
	return nil
}

func (h *HTTP) checkJSON(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse json: %v", err)
	}
	val, err := jsonpath.JsonPathLookup(doc, h.JSONPath)
	if err != nil {
		return fmt.Errorf("jsonpath %s: %v", h.JSONPath, err)
	}
	if h.JSONValue == nil {
		if val == nil {
			return fmt.Errorf("jsonpath %s has no value", h.JSONPath)
		}
		return nil
	}
	if fmt.Sprintf("%v", val) != fmt.Sprintf("%v", h.JSONValue) {
		return fmt.Errorf("jsonpath %s = %v, want %v", h.JSONPath, val, h.JSONValue)
	}
	return nil
}
