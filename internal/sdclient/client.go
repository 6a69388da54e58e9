// Пакет sdclient — HTTP-клиент ScienceData.
// Запросы выполняются от имени пользователя ScienceData (basic auth с
// пустым паролем), имя передаётся в каждый вызов: общего состояния
// между запросами разных пользователей нет.
// Идемпотентные запросы повторяются с экспоненциальной задержкой при
// сетевых ошибках и ответах 5xx, частота запросов ограничивается.
package sdclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Ошибки клиента ScienceData.
var (
	// ErrNotFound — объект не найден в ScienceData (404).
	ErrNotFound = errors.New("объект ScienceData не найден")
	// ErrUpstream — ScienceData недоступен или вернул неожиданный ответ.
	ErrUpstream = errors.New("ScienceData недоступен")
	// ErrNoORCIDAccount — нет аккаунта ScienceData с таким ORCID.
	ErrNoORCIDAccount = errors.New("нет аккаунта ScienceData с этим ORCID")
	// ErrMultipleORCIDAccounts — ORCID привязан к нескольким аккаунтам.
	ErrMultipleORCIDAccounts = errors.New("ORCID привязан к нескольким аккаунтам ScienceData")
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sr_sciencedata_requests_total",
	Help: "Количество запросов к ScienceData",
}, []string{"operation", "status"})

// Options — параметры клиента.
type Options struct {
	// BaseURL — внутренний URL ScienceData
	BaseURL string
	// CACertPath — CA-сертификат (пусто — системный пул)
	CACertPath string
	// Insecure — не проверять TLS-сертификат
	Insecure bool
	// Timeout — таймаут одного запроса (0 — 60s)
	Timeout time.Duration
	// MaxRetries — число повторов идемпотентных запросов
	MaxRetries int
	// RateLimit — запросов в секунду (0 — без ограничения)
	RateLimit float64
	RateBurst int
}

// Client — клиент ScienceData.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient без общего таймаута: тело файла читается сколько угодно
	// долго, ограничены только установка соединения и ожидание заголовков
	streamClient *http.Client
	// proxyClient не следует редиректам: редирект 307 обрабатывается вручную
	proxyClient    *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	backoffInitial time.Duration
	logger         *slog.Logger
}

// New создаёт клиент ScienceData.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("некорректный URL ScienceData %q: %w", opts.BaseURL, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CACertPath != "" || opts.Insecure {
		tlsConfig, err := buildTLSConfig(opts.CACertPath, opts.Insecure)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата ScienceData: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		if opts.CACertPath != "" {
			logger.Info("CA-сертификат ScienceData добавлен в пул доверия",
				slog.String("ca_cert", opts.CACertPath),
			)
		}
	}

	// Для потоковых ответов таймаут на ожидание заголовков вместо общего
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = timeout

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		streamClient: &http.Client{Transport: streamTransport},
		proxyClient: &http.Client{
			Transport: streamTransport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:        limiter,
		maxRetries:     opts.MaxRetries,
		backoffInitial: 500 * time.Millisecond,
		logger:         logger.With(slog.String("component", "sciencedata_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec // внутренний адрес ScienceData с самоподписанным сертификатом
	if caCertPath == "" {
		return cfg, nil
	}
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)
	cfg.RootCAs = pool
	return cfg, nil
}

// BaseURL возвращает базовый URL ScienceData.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DownloadURL возвращает URL скачивания файла или архива каталога.
func (c *Client) DownloadURL(path string) string {
	return c.baseURL + "/download?files=" + url.QueryEscape(path)
}

// statusError преобразует неуспешный ответ в ошибку.
// 5xx — повторяемая, прочие — постоянная.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, op))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s вернул статус %d: %s", ErrUpstream, op, resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return backoff.Permanent(fmt.Errorf("%w: %s вернул статус %d: %s", ErrUpstream, op, resp.StatusCode, strings.TrimSpace(string(body))))
	}
}

// do выполняет запрос с повторами. Успешный ответ (2xx) возвращается
// с открытым телом, вызывающий код обязан его закрыть.
func (c *Client) do(ctx context.Context, op, method, rawURL, user string, header http.Header) (*http.Response, error) {
	return c.doWith(ctx, c.httpClient, op, method, rawURL, user, header)
}

// doWith — do с заданным HTTP-клиентом.
func (c *Client) doWith(ctx context.Context, client *http.Client, op, method, rawURL, user string, header http.Header) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("создание запроса %s: %w", op, err))
		}
		for k, vv := range header {
			for _, v := range vv {
				req.Header.Add(k, v)
			}
		}
		if user != "" {
			req.SetBasicAuth(user, "")
		}

		r, err := client.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues(op, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Ошибка запроса к ScienceData",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
		}
		requestsTotal.WithLabelValues(op, strconv.Itoa(r.StatusCode)).Inc()
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			defer r.Body.Close()
			return statusError(op, r)
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffInitial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// ResolveUser возвращает пользователя ScienceData, к которому привязан ORCID.
// Ответ "false" означает несколько аккаунтов, пустой — ни одного.
func (c *Client) ResolveUser(ctx context.Context, orcid string) (string, error) {
	rawURL := c.baseURL + "/apps/user_orcid/ws/get_user_from_orcid.php?orcid=" + url.QueryEscape(orcid)
	resp, err := c.do(ctx, "resolve_user", http.MethodGet, rawURL, "", jsonAccept())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: чтение ответа: %v", ErrUpstream, err)
	}
	user := strings.TrimSpace(strings.ReplaceAll(string(body), `"`, ""))
	switch user {
	case "false":
		return "", fmt.Errorf("%w: %s", ErrMultipleORCIDAccounts, orcid)
	case "", "null":
		return "", fmt.Errorf("%w: %s", ErrNoORCIDAccount, orcid)
	}
	return user, nil
}

// Groups возвращает идентификаторы групп пользователя ScienceData.
// Некорректный JSON в ответе трактуется как отсутствие групп.
func (c *Client) Groups(ctx context.Context, user string) ([]string, error) {
	if user == "" {
		return []string{}, nil
	}
	rawURL := c.baseURL + "/apps/user_group_admin/ws/getUserGroups.php?onlyOwned=no&userid=" + url.QueryEscape(user)
	resp, err := c.do(ctx, "groups", http.MethodGet, rawURL, "", jsonAccept())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var groups []struct {
		GID string `json:"gid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		c.logger.Debug("Некорректный список групп ScienceData", slog.String("user", user), slog.String("error", err.Error()))
		return []string{}, nil
	}
	result := make([]string, 0, len(groups))
	for _, g := range groups {
		result = append(result, g.GID)
	}
	return result, nil
}

// FileInfo — сведения о файле из ответа HEAD.
type FileInfo struct {
	// Size — Content-Length, nil если сервер его не сообщил
	Size        *int64
	ContentType string
}

func fileInfo(resp *http.Response) *FileInfo {
	info := &FileInfo{ContentType: resp.Header.Get("Content-Type")}
	if resp.ContentLength >= 0 {
		size := resp.ContentLength
		info.Size = &size
	}
	return info
}

// Head проверяет доступность файла. Успешен только ответ 200.
func (c *Client) Head(ctx context.Context, user, rawURL string) (*FileInfo, error) {
	resp, err := c.do(ctx, "head", http.MethodHead, rawURL, user, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: файл %s недоступен (статус %d)", ErrUpstream, rawURL, resp.StatusCode)
	}
	return fileInfo(resp), nil
}

// Download открывает поток содержимого файла. Повторяется только
// установка соединения, чтение тела не повторяется. Длительность чтения
// тела ограничена только ctx.
func (c *Client) Download(ctx context.Context, user, rawURL string) (io.ReadCloser, *FileInfo, error) {
	resp, err := c.doWith(ctx, c.streamClient, "download", http.MethodGet, rawURL, user, nil)
	if err != nil {
		return nil, nil, err
	}
	return resp.Body, fileInfo(resp), nil
}

// Metadata возвращает метаданные объекта с тегом zenodo.
// ScienceData отдаёт JSON-документ, закодированный ещё раз как JSON-строка;
// поддерживаются оба варианта. Пустой ответ — пустая карта.
func (c *Client) Metadata(ctx context.Context, user, path string) (map[string]json.RawMessage, error) {
	rawURL := c.baseURL + "/metadata/getmetadata?files=" + url.QueryEscape(path) + "&tag=zenodo"
	resp, err := c.do(ctx, "metadata", http.MethodGet, rawURL, user, jsonAccept())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение метаданных: %v", ErrUpstream, err)
	}
	return decodeMetadata(body)
}

func decodeMetadata(body []byte) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage)
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return result, nil
	}

	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		trimmed = strings.TrimSpace(inner)
		if trimmed == "" || trimmed == "null" {
			return result, nil
		}
	}
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, fmt.Errorf("%w: некорректные метаданные: %v", ErrUpstream, err)
	}
	return result, nil
}

func jsonAccept() http.Header {
	return http.Header{"Accept": []string{"application/json"}}
}
