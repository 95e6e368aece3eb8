package inference

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLabels таблица классов качества воздуха, на которой обучена модель
var DefaultLabels = LabelTable{
	"Good",
	"Moderate",
	"Severe",
	"Unhealthy for Sensitive Groups",
	"Unhealthy",
	"Very Unhealthy",
}

// LabelTable упорядоченное отображение индекса класса в подпись
type LabelTable []string

// labelsFile формат YAML-файла таблицы классов
type labelsFile struct {
	Labels []string `yaml:"labels"`
}

// Label возвращает подпись класса по индексу
func (t LabelTable) Label(index int) (string, error) {
	if index < 0 || index >= len(t) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", index, len(t))
	}
	return t[index], nil
}

// LoadLabels читает таблицу классов из YAML. Пустой путь - таблица по умолчанию.
func LoadLabels(path string) (LabelTable, error) {
	if path == "" {
		return DefaultLabels, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label table: %w", err)
	}

	var f labelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse label table %s: %w", path, err)
	}
	if len(f.Labels) == 0 {
		return nil, errors.New("label table is empty")
	}
	for i, l := range f.Labels {
		if l == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
	}

	return LabelTable(f.Labels), nil
}
