// Пакет datacite — регистрация DOI в DataCite через MDS API.
//
// Регистрация выполняется после коммита публикации и не влияет на её
// результат: ошибки логируются, PID остаётся RESERVED до следующей попытки.
package datacite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// ErrRejected — DataCite отклонил запрос.
var ErrRejected = errors.New("DataCite отклонил запрос")

var registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sr_datacite_registrations_total",
	Help: "Количество попыток регистрации DOI в DataCite",
}, []string{"outcome"})

// Client — клиент DataCite MDS API.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
}

// NewClient создаёт клиент MDS API.
func NewClient(baseURL, user, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UploadMetadata загружает XML-метаданные DOI (POST /metadata).
func (c *Client) UploadMetadata(ctx context.Context, doc []byte) error {
	return c.send(ctx, http.MethodPost, c.baseURL+"/metadata", "application/xml;charset=UTF-8", doc)
}

// MintDOI связывает DOI с landing page (PUT /doi/<doi>).
func (c *Client) MintDOI(ctx context.Context, doiValue, landingURL string) error {
	body := fmt.Sprintf("doi=%s\nurl=%s", doiValue, landingURL)
	return c.send(ctx, http.MethodPut, c.baseURL+"/doi/"+url.PathEscape(doiValue), "text/plain;charset=UTF-8", []byte(body))
}

func (c *Client) send(ctx context.Context, method, target, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса к DataCite: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrRejected, method, target, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Registrar регистрирует DOI опубликованных записей и переводит
// их PID в статус REGISTERED.
type Registrar struct {
	client    *Client
	tx        repository.Transactor
	publisher string
	publicURL string
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewRegistrar создаёт Registrar. publicURL — базовый URL landing page записей.
func NewRegistrar(client *Client, tx repository.Transactor, publisher, publicURL string, timeout time.Duration, logger *slog.Logger) *Registrar {
	return &Registrar{
		client:    client,
		tx:        tx,
		publisher: publisher,
		publicURL: publicURL,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "datacite")),
	}
}

// LandingURL возвращает адрес landing page записи по recid.
func (r *Registrar) LandingURL(recid int64) string {
	return r.publicURL + "/records/" + strconv.FormatInt(recid, 10)
}

// Register регистрирует DOI и концептуальный DOI записи.
// Внешние DOI (без провайдера datacite) пропускаются.
// Уже зарегистрированные DOI обновляются (метаданные и URL),
// статус меняется только у RESERVED.
func (r *Registrar) Register(ctx context.Context, recordID uuid.UUID) error {
	var (
		rec  *model.Record
		pids []*model.PID
	)
	err := r.tx.Run(ctx, func(repos *repository.Repositories) error {
		var err error
		rec, err = repos.Records.Get(ctx, recordID)
		if err != nil {
			return err
		}
		pids, err = repos.PIDs.ListByObject(ctx, model.ObjectTypeRecord, recordID)
		return err
	})
	if err != nil {
		return fmt.Errorf("ошибка загрузки записи %s: %w", recordID, err)
	}

	for _, p := range pids {
		if p.Type != model.PIDTypeDOI || p.Provider != model.ProviderDataCite {
			continue
		}
		landing := r.LandingURL(rec.Metadata.Recid)
		if p.Value == rec.Metadata.ConceptDOI && rec.Metadata.ConceptRecid != 0 {
			landing = r.LandingURL(rec.Metadata.ConceptRecid)
		}
		if err := r.registerDOI(ctx, p, landing, &rec.Metadata); err != nil {
			registrationsTotal.WithLabelValues("error").Inc()
			return err
		}
		registrationsTotal.WithLabelValues("success").Inc()
		r.logger.Info("DOI зарегистрирован в DataCite",
			slog.String("doi", p.Value),
			slog.String("url", landing),
		)
	}
	return nil
}

func (r *Registrar) registerDOI(ctx context.Context, p *model.PID, landing string, md *model.RecordMetadata) error {
	doc, err := BuildXML(p.Value, r.publisher, md)
	if err != nil {
		return err
	}
	if err := r.client.UploadMetadata(ctx, doc); err != nil {
		return fmt.Errorf("ошибка загрузки метаданных %s: %w", p.Value, err)
	}
	if err := r.client.MintDOI(ctx, p.Value, landing); err != nil {
		return fmt.Errorf("ошибка регистрации URL %s: %w", p.Value, err)
	}
	if p.IsRegistered() {
		return nil
	}
	return r.tx.Run(ctx, func(repos *repository.Repositories) error {
		current, err := repos.PIDs.Get(ctx, p.Type, p.Value)
		if err != nil {
			return err
		}
		if current.IsRegistered() {
			return nil
		}
		if err := repos.PIDs.Register(ctx, current); err != nil {
			return fmt.Errorf("ошибка смены статуса PID %s: %w", p.Value, err)
		}
		return nil
	})
}

// RegisterAsync запускает регистрацию в отдельной горутине с собственным
// таймаутом. Ошибки только логируются.
func (r *Registrar) RegisterAsync(recordID uuid.UUID) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.Register(ctx, recordID); err != nil {
			r.logger.Error("Ошибка регистрации DOI в DataCite",
				slog.String("record_id", recordID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait дожидается завершения фоновых регистраций (graceful shutdown).
func (r *Registrar) Wait() {
	r.wg.Wait()
}
