// Package storage реализует журнал показаний: CSV-файл только для дозаписи
// с фиксированным заголовком. Один писатель, любое число читателей, без блокировок:
// каждая запись - одна целая строка, читатели открывают файл заново на каждый запрос.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"envira-service/internal/models"
)

// Header первая строка журнала
const Header = "timestamp,pm25_ug_m3,gas_ppm"

var (
	// ErrLogNotFound файл журнала отсутствует
	ErrLogNotFound = errors.New("sensor log file not found")
	// ErrNoData в журнале нет ни одной строки данных
	ErrNoData = errors.New("no sensor data available")
	// ErrMalformedRow последняя строка не разбирается в показание
	ErrMalformedRow = errors.New("malformed sensor data")
	// ErrClosed журнал уже закрыт
	ErrClosed = errors.New("sensor log closed")
)

// CSVLog дескриптор журнала для единственного писателя
type CSVLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// Open открывает журнал на дозапись, создавая его с заголовком при отсутствии.
// Существующий файл не проверяется.
func Open(path string) (*CSVLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat sensor log: %w", err)
	}

	if info.Size() == 0 {
		if _, err := f.WriteString(Header + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write log header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to sync log header: %w", err)
		}
	}

	return &CSVLog{path: path, file: f}, nil
}

// Path возвращает путь к файлу журнала
func (l *CSVLog) Path() string {
	return l.path
}

// Append дописывает показание одной операцией записи и сбрасывает его на диск
func (l *CSVLog) Append(r models.Reading) error {
	line := FormatRow(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrClosed
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync reading: %w", err)
	}
	return nil
}

// ReadLast возвращает последнее показание журнала
func (l *CSVLog) ReadLast() (models.Reading, error) {
	return ReadLast(l.path)
}

// Close закрывает файл журнала
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// FormatRow форматирует показание в строку журнала с переводом строки
func FormatRow(r models.Reading) []byte {
	var b bytes.Buffer
	b.Grow(len(r.Timestamp) + 24)
	b.WriteString(r.Timestamp)
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(r.PM25, 'f', 2, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(r.GasSmoothed, 'f', 2, 64))
	b.WriteByte('\n')
	return b.Bytes()
}

// ParseRow разбирает строку журнала без перевода строки
func ParseRow(row string) (models.Reading, error) {
	fields := strings.Split(strings.TrimRight(row, "\r"), ",")
	if len(fields) != 3 {
		return models.Reading{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedRow, len(fields))
	}

	pm25, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: pm25: %v", ErrMalformedRow, err)
	}
	gas, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: gas: %v", ErrMalformedRow, err)
	}

	return models.Reading{
		Timestamp:   fields[0],
		PM25:        pm25,
		GasSmoothed: gas,
	}, nil
}

// ReadLast открывает журнал, читает его целиком и возвращает последнее показание.
// Незавершенная последняя строка без перевода строки (идет дозапись) пропускается.
func ReadLast(path string) (models.Reading, error) {
	rows, err := completeRows(path)
	if err != nil {
		return models.Reading{}, err
	}
	if len(rows) == 0 {
		return models.Reading{}, ErrNoData
	}
	return ParseRow(rows[len(rows)-1])
}

// ReadTail возвращает до n последних показаний, от новых к старым.
// Поврежденные строки пропускаются.
func ReadTail(path string, n int) ([]models.Reading, error) {
	rows, err := completeRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	out := make([]models.Reading, 0, n)
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		r, err := ParseRow(rows[i])
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// completeRows возвращает строки данных журнала без заголовка и пустых строк
func completeRows(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrLogNotFound
		}
		return nil, fmt.Errorf("failed to read sensor log: %w", err)
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, nil
	}

	lines := strings.Split(string(data[:end]), "\n")
	if len(lines) > 0 {
		// первая строка - заголовок, его содержимое не проверяется
		lines = lines[1:]
	}

	rows := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows, nil
}
