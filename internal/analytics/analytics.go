// Package analytics реализует калибровку показаний и сглаживание газового датчика
// скользящим средним по фиксированному окну
package analytics

import (
	"math"
	"strconv"
)

// WindowSize размер окна сглаживания по умолчанию (5 последних показаний)
const WindowSize = 5

// SlidingWindow реализует скользящее окно для хранения значений.
// Окно не потокобезопасно: единственный писатель - цикл приема.
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	if size <= 0 {
		size = WindowSize
	}
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно, вытесняя самое старое при переполнении
func (sw *SlidingWindow) Add(value float64) {
	sw.values[sw.index] = value
	sw.index = (sw.index + 1) % sw.size
	if sw.count < sw.size {
		sw.count++
	}
}

// Push добавляет значение и возвращает новое среднее, округленное до 2 знаков.
// Пока окно не заполнено, среднее считается по имеющимся значениям.
func (sw *SlidingWindow) Push(value float64) float64 {
	sw.Add(value)
	return Round2(sw.Mean())
}

// Mean возвращает среднее значение (rolling average)
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	var sum float64
	for _, v := range sw.Values() {
		sum += v
	}
	return sum / float64(sw.count)
}

// StdDev возвращает выборочное стандартное отклонение
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	mean := sw.Mean()
	var sq float64
	for _, v := range sw.Values() {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(sw.count-1))
}

// Values возвращает копию значений окна от самого старого к самому новому
func (sw *SlidingWindow) Values() []float64 {
	out := make([]float64, 0, sw.count)
	start := 0
	if sw.count == sw.size {
		start = sw.index
	}
	for i := 0; i < sw.count; i++ {
		out = append(out, sw.values[(start+i)%sw.size])
	}
	return out
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Size возвращает емкость окна
func (sw *SlidingWindow) Size() int {
	return sw.size
}

// Round2 округляет значение до 2 знаков после запятой по точному десятичному
// значению float64: 2.675 хранится как 2.67499... и дает 2.67.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}
