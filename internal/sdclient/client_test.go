package sdclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockSD создаёт mock HTTP-сервер ScienceData и клиент к нему.
func setupMockSD(t *testing.T, retries int, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL, MaxRetries: retries}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	c.backoffInitial = time.Millisecond
	return c
}

func TestClient_ResolveUser(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{"один аккаунт", `"alice@sciencedata.dk"`, "alice@sciencedata.dk", nil},
		{"несколько аккаунтов", `false`, "", ErrMultipleORCIDAccounts},
		{"нет аккаунта", `""`, "", ErrNoORCIDAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMockSD(t, 0, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/apps/user_orcid/ws/get_user_from_orcid.php" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if r.URL.Query().Get("orcid") != "0000-0002-1825-0097" {
					t.Errorf("orcid = %q", r.URL.Query().Get("orcid"))
				}
				io.WriteString(w, tt.body)
			})

			got, err := c.ResolveUser(context.Background(), "0000-0002-1825-0097")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ожидали %v, получили %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ResolveUser() = (%q, %v), ожидали %q", got, err, tt.want)
			}
		})
	}
}

func TestClient_Groups(t *testing.T) {
	c := setupMockSD(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("onlyOwned") != "no" || r.URL.Query().Get("userid") != "alice" {
			t.Errorf("неожиданные параметры: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]string{{"gid": "lab"}, {"gid": "project-x"}})
	})

	groups, err := c.Groups(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Groups() ошибка: %v", err)
	}
	if len(groups) != 2 || groups[0] != "lab" || groups[1] != "project-x" {
		t.Errorf("Groups() = %v", groups)
	}

	empty, err := c.Groups(context.Background(), "")
	if err != nil || len(empty) != 0 {
		t.Errorf("Groups(\"\") = (%v, %v)", empty, err)
	}
}

func TestClient_GroupsInvalidJSON(t *testing.T) {
	c := setupMockSD(t, 0, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>oops</html>")
	})
	groups, err := c.Groups(context.Background(), "alice")
	if err != nil || len(groups) != 0 {
		t.Errorf("Groups() = (%v, %v), ожидали пустой список", groups, err)
	}
}

func TestClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	c := setupMockSD(t, 3, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
	})

	info, err := c.Head(context.Background(), "alice", c.DownloadURL("/data/set"))
	if err != nil {
		t.Fatalf("Head() ошибка: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("ожидали 3 попытки, было %d", calls.Load())
	}
	if info.Size == nil || *info.Size != 5 {
		t.Errorf("размер: %v", info.Size)
	}
}

func TestClient_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	c := setupMockSD(t, 3, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Head(context.Background(), "alice", c.DownloadURL("/missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx не должен повторяться, попыток: %d", calls.Load())
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	c := setupMockSD(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := c.Head(context.Background(), "alice", c.DownloadURL("/x")); !errors.Is(err, ErrUpstream) {
		t.Fatalf("ожидали ErrUpstream, получили %v", err)
	}
}

func TestClient_DownloadUsesBasicAuth(t *testing.T) {
	c := setupMockSD(t, 0, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/download" || r.URL.Query().Get("files") != "/My Data/set" {
			t.Errorf("неожиданный URL: %s", r.URL)
		}
		io.WriteString(w, "payload")
	})

	body, info, err := c.Download(context.Background(), "alice", c.DownloadURL("/My Data/set"))
	if err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "payload" {
		t.Errorf("содержимое: %q", data)
	}
	if info.Size == nil || *info.Size != 7 {
		t.Errorf("размер: %v", info.Size)
	}
}

func TestClient_DownloadOutlivesRequestTimeout(t *testing.T) {
	const chunks = 20
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/download":
			flusher := w.(http.Flusher)
			for i := 0; i < chunks; i++ {
				w.Write([]byte{'x'})
				flusher.Flush()
				time.Sleep(30 * time.Millisecond)
			}
		default:
			// Медленный JSON-ответ: заголовки позже таймаута
			time.Sleep(500 * time.Millisecond)
			io.WriteString(w, "[]")
		}
	}))
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL, Timeout: 300 * time.Millisecond}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	body, _, err := c.Download(context.Background(), "alice", c.DownloadURL("/big.zip"))
	if err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("чтение тела прервано после %d байт: %v", len(data), err)
	}
	if len(data) != chunks {
		t.Errorf("прочитано %d байт, ожидали %d", len(data), chunks)
	}

	if _, err := c.Groups(context.Background(), "alice"); !errors.Is(err, ErrUpstream) {
		t.Errorf("JSON-запрос должен ограничиваться таймаутом, получили %v", err)
	}
}

func TestClient_DownloadCancelledByContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			if _, err := w.Write([]byte{'x'}); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	body, _, err := c.Download(ctx, "alice", c.DownloadURL("/big.zip"))
	if err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}
	defer body.Close()
	if _, err := io.ReadAll(body); err == nil {
		t.Error("чтение должно прерываться отменой контекста")
	}
}

func TestClient_Metadata(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"двойное кодирование", `"{\"title\": \"Ocean\"}"`, `"Ocean"`},
		{"обычный JSON", `{"title": "Ocean"}`, `"Ocean"`},
		{"пустой ответ", ``, ``},
		{"null", `"null"`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMockSD(t, 0, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("tag") != "zenodo" {
					t.Errorf("tag = %q", r.URL.Query().Get("tag"))
				}
				io.WriteString(w, tt.body)
			})
			md, err := c.Metadata(context.Background(), "alice", "/data")
			if err != nil {
				t.Fatalf("Metadata() ошибка: %v", err)
			}
			if string(md["title"]) != tt.want {
				t.Errorf("title = %s, ожидали %s", md["title"], tt.want)
			}
		})
	}
}

func TestClient_Proxy(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, _ := r.BasicAuth(); user != "bob" {
			t.Errorf("прокси должен работать от имени bob, получили %q", user)
		}
		if r.Header.Get("Cookie") != "" {
			t.Error("Cookie не должен передаваться в ScienceData")
		}
		switch r.URL.Path {
		case "/files/start":
			http.Redirect(w, r, server.URL+"/files/final", http.StatusTemporaryRedirect)
		case "/files/final":
			if r.URL.Query().Get("dir") != "/" {
				t.Errorf("параметры должны сохраниться: %s", r.URL.RawQuery)
			}
			io.WriteString(w, `<a href="/x">x</a><img src="/i.png">`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Proxy(context.Background(), ProxyRequest{
		User:   "bob",
		Method: http.MethodGet,
		Path:   "/files/start",
		Query:  url.Values{"dir": {"/"}},
		Header: http.Header{"Cookie": {"session=1"}},
	})
	if err != nil {
		t.Fatalf("Proxy() ошибка: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	got := string(RewriteLinks(body, "/api/v1/sciencedata/proxy/"))
	want := `<a href="/api/v1/sciencedata/proxy/x">x</a><img src="/api/v1/sciencedata/proxy/i.png">`
	if got != want {
		t.Errorf("RewriteLinks() = %s", got)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "not a url"}, testLogger()); err == nil {
		t.Error("ожидали ошибку для некорректного URL")
	}
}
