// Package serial реализует транспорт последовательного порта платы датчиков
// и построчное чтение с таймаутом
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bugserial "go.bug.st/serial"
)

const (
	// DefaultBaudRate скорость порта платы
	DefaultBaudRate = 115200
	// DefaultReadTimeout таймаут ожидания очередной порции данных
	DefaultReadTimeout = 1 * time.Second
	// MaxLineLength предел длины строки без перевода строки
	MaxLineLength = 4096
)

var (
	// ErrReadTimeout за период таймаута строка не пришла, устройство простаивает
	ErrReadTimeout = errors.New("serial read timeout")
	// ErrLineTooLong поток без перевода строки длиннее MaxLineLength.
	// Остаток такой строки до перевода строки пропускается.
	ErrLineTooLong = errors.New("serial line too long")
)

// Port соединение с устройством. Read возвращает 0, nil по истечении таймаута.
type Port interface {
	io.ReadCloser
}

// Opener открывает порт устройства
type Opener func(device string, baud int, readTimeout time.Duration) (Port, error)

// Open открывает последовательный порт через go.bug.st/serial
func Open(device string, baud int, readTimeout time.Duration) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	port, err := bugserial.Open(device, &bugserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
	}

	return port, nil
}

// ListPorts возвращает доступные последовательные порты
func ListPorts() ([]string, error) {
	return bugserial.GetPortsList()
}

// LineReader собирает строки из потока байтов порта
type LineReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	// discarding: хвост слишком длинной строки отбрасывается до следующего '\n'
	discarding bool
}

// NewLineReader создает построчного читателя поверх порта
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:   r,
		buf: make([]byte, 256),
	}
}

// ReadLine возвращает очередную строку без завершающих символов и пробелов.
// ErrReadTimeout означает простой устройства, другие ошибки - потерю соединения.
func (lr *LineReader) ReadLine() (string, error) {
	for {
		i := bytes.IndexByte(lr.pending, '\n')
		switch {
		case lr.discarding && i >= 0:
			lr.pending = lr.pending[i+1:]
			lr.discarding = false
			continue
		case lr.discarding:
			lr.pending = lr.pending[:0]
		case i >= 0:
			line := lr.pending[:i]
			lr.pending = lr.pending[i+1:]
			return decodeLine(line), nil
		case len(lr.pending) > MaxLineLength:
			lr.pending = lr.pending[:0]
			lr.discarding = true
			return "", ErrLineTooLong
		}

		n, err := lr.r.Read(lr.buf)
		if n > 0 {
			lr.pending = append(lr.pending, lr.buf[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
		return "", ErrReadTimeout
	}
}

// decodeLine декодирует байты как UTF-8, отбрасывая некорректные последовательности
func decodeLine(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}
