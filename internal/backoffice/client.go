// Package backoffice предоставляет клиент REST API бэк-офиса: каталог товаров,
// клиенты и создание заказов.
package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gestock-pos/internal/model"
	"github.com/mmeshcher/gestock-pos/internal/session"
	"github.com/mmeshcher/gestock-pos/internal/submission"
)

var (
	// ErrNotFound возвращается, если бэк-офис ответил 404.
	ErrNotFound = errors.New("not found in back office")
	// ErrUnauthorized возвращается, если бэк-офис отклонил токен.
	ErrUnauthorized = errors.New("back office rejected credentials")
)

const maxResponseBytes = 1 << 20

// Client инкапсулирует HTTP-взаимодействие с бэк-офисом.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type productDTO struct {
	ID       int64           `json:"id"`
	Name     string          `json:"designation"`
	Price    decimal.Decimal `json:"prix_vente"`
	Stock    int             `json:"quantite_stock"`
	Barcode  string          `json:"code_barre"`
	IsActive *bool           `json:"est_actif"`
}

func (p productDTO) toModel() *model.Product {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &model.Product{
		ID:          p.ID,
		Designation: p.Name,
		UnitPrice:   p.Price,
		Stock:       p.Stock,
		Barcode:     p.Barcode,
		Active:      active,
	}
}

type clientDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"nom_client"`
	IsDirect bool   `json:"is_direct"`
}

type productPage struct {
	Results []productDTO `json:"results"`
}

// NewClient создаёт HTTP-клиент бэк-офиса по указанному адресу.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder отправляет заказ клиента. Ответ возвращается как есть:
// его разбирает submission.Adapter.
func (c *Client) CreateOrder(ctx context.Context, payload *submission.TransactionPayload) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/commandes-client/", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, raw, nil
}

// GetProduct запрашивает товар по идентификатору.
func (c *Client) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var dto productDTO
	if err := c.getJSON(ctx, fmt.Sprintf("/api/produits/%d/", id), &dto); err != nil {
		return nil, err
	}
	return dto.toModel(), nil
}

// FindProductByBarcode ищет товар по штрихкоду. Бэк-офис фильтрует по вхождению,
// поэтому совпадение проверяется точно.
func (c *Client) FindProductByBarcode(ctx context.Context, code string) (*model.Product, error) {
	path := "/api/produits/?code_barre=" + url.QueryEscape(code)

	var raw json.RawMessage
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	var items []productDTO
	if err := json.Unmarshal(raw, &items); err != nil {
		var page productPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
		items = page.Results
	}

	for _, it := range items {
		if it.Barcode == code {
			return it.toModel(), nil
		}
	}

	return nil, fmt.Errorf("%w: barcode %s", ErrNotFound, code)
}

// GetClient запрашивает клиента по идентификатору.
func (c *Client) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var dto clientDTO
	if err := c.getJSON(ctx, fmt.Sprintf("/api/clients/%d/", id), &dto); err != nil {
		return nil, err
	}
	return &model.Client{ID: dto.ID, Name: dto.Name, IsDirect: dto.IsDirect}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("back office client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := session.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	return resp, nil
}

// ParseID разбирает идентификатор бэк-офиса из строки.
func ParseID(v string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return id, nil
}
