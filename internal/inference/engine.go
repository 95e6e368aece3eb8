// Package inference классифицирует снимки неба по качеству воздуха,
// делегируя вычисления внешнему сервису модели
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"envira-service/internal/metrics"
)

var (
	// ErrEmptyImage загружен пустой файл
	ErrEmptyImage = errors.New("empty image upload")
	// ErrNotImage содержимое не похоже на изображение
	ErrNotImage = errors.New("uploaded file is not an image")
)

// Prediction сырой результат модели
type Prediction struct {
	ClassIndex int     `json:"class_index"`
	Confidence float64 `json:"confidence"`
}

// Engine внешний сервис инференса. Загружается один раз при старте.
type Engine interface {
	Classify(ctx context.Context, image []byte) (Prediction, error)
}

// HTTPEngine обращается к серверу модели по HTTP
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine создает клиента сервера модели
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Ready проверяет, что сервер модели запущен и чекпойнт загружен
func (e *HTTPEngine) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference engine unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference engine not ready: status %d", resp.StatusCode)
	}
	return nil
}

// Classify отправляет байты изображения и возвращает индекс класса и уверенность
func (e *HTTPEngine) Classify(ctx context.Context, image []byte) (Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/classify", bytes.NewReader(image))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("inference engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode inference response: %w", err)
	}
	return p, nil
}

// Result классификация с подписью класса
type Result struct {
	Label      string
	Confidence float64
}

// Classifier неизменяемый сервис классификации: движок и таблица классов,
// создается при старте и передается обработчикам
type Classifier struct {
	engine Engine
	labels LabelTable
}

// NewClassifier создает сервис классификации
func NewClassifier(engine Engine, labels LabelTable) *Classifier {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &Classifier{engine: engine, labels: labels}
}

// Labels возвращает таблицу классов
func (c *Classifier) Labels() LabelTable {
	return c.labels
}

// Classify проверяет загрузку, вызывает движок и переводит индекс в подпись
func (c *Classifier) Classify(ctx context.Context, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, ErrEmptyImage
	}
	if ct, ok := sniffImage(image); !ok {
		return Result{}, fmt.Errorf("%w (detected %s)", ErrNotImage, ct)
	}

	start := time.Now()
	p, err := c.engine.Classify(ctx, image)
	metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}

	label, err := c.labels.Label(p.ClassIndex)
	if err != nil {
		return Result{}, err
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return Result{}, fmt.Errorf("confidence %v outside [0, 1]", p.Confidence)
	}

	return Result{Label: label, Confidence: p.Confidence}, nil
}

// sniffImage определяет тип изображения по сигнатуре. К распознаваемым
// http.DetectContentType форматам добавлены TIFF и контейнеры HEIF/AVIF,
// их декодирование остается за движком.
func sniffImage(b []byte) (string, bool) {
	ct := http.DetectContentType(b)
	if strings.HasPrefix(ct, "image/") {
		return ct, true
	}

	if bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*")) {
		return "image/tiff", true
	}
	if len(b) >= 12 && string(b[4:8]) == "ftyp" {
		switch string(b[8:12]) {
		case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
			return "image/heif", true
		case "avif", "avis":
			return "image/avif", true
		}
	}
	return ct, false
}
