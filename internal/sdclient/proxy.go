package sdclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// hopHeaders — заголовки, не передаваемые через прокси.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Authorization", "Cookie", "Host", "Content-Length",
}

// ProxyRequest — запрос, пересылаемый в ScienceData.
type ProxyRequest struct {
	// User — пользователь ScienceData, от имени которого выполняется запрос
	User   string
	Method string
	// Path — путь в ScienceData (с ведущим "/")
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Proxy пересылает запрос в ScienceData. Редирект 307 выполняется один раз
// с тем же методом и телом. Ответ возвращается как есть, вызывающий код
// закрывает тело.
func (c *Client) Proxy(ctx context.Context, pr ProxyRequest) (*http.Response, error) {
	target, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(pr.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("некорректный путь %q: %w", pr.Path, err)
	}
	target.RawQuery = pr.Query.Encode()

	resp, err := c.proxyOnce(ctx, pr, target)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTemporaryRedirect {
		return resp, nil
	}

	location := resp.Header.Get("Location")
	resp.Body.Close()
	next, err := target.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный Location %q", ErrUpstream, location)
	}
	if next.RawQuery == "" {
		next.RawQuery = target.RawQuery
	}
	c.logger.Debug("Прокси: переход по редиректу", slog.String("location", next.String()))
	return c.proxyOnce(ctx, pr, next)
}

func (c *Client) proxyOnce(ctx context.Context, pr ProxyRequest, target *url.URL) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if len(pr.Body) > 0 {
		body = bytes.NewReader(pr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, pr.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса прокси: %w", err)
	}
	for k, vv := range pr.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.SetBasicAuth(pr.User, "")

	resp, err := c.proxyClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("proxy", "error").Inc()
		return nil, fmt.Errorf("%w: прокси %s: %v", ErrUpstream, target.Path, err)
	}
	requestsTotal.WithLabelValues("proxy", fmt.Sprint(resp.StatusCode)).Inc()
	return resp, nil
}

// RewriteLinks направляет ссылки href="/src=" страницы ScienceData через прокси.
func RewriteLinks(content []byte, prefix string) []byte {
	prefix = strings.TrimRight(prefix, "/")
	content = bytes.ReplaceAll(content, []byte(`href="`), []byte(`href="`+prefix))
	return bytes.ReplaceAll(content, []byte(`src="`), []byte(`src="`+prefix))
}
